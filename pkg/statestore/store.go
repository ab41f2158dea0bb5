package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store provides instance-scoped Redis operations for the kernel's shared state.
// All keys and channels are automatically namespaced with the instance name.
// The store is thread-safe and can be used concurrently from multiple goroutines;
// higher-level serialization (per-chain, per-agent, breaker-global) is the
// responsibility of the owning component.
type Store struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a new state store for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: kernel instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func New(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the instance this store is scoped to.
func (s *Store) InstanceName() string {
	return s.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// --- Event ledger ---

// AppendEvent atomically persists a validated event: the event hash, the chain
// ordering entry, the chain head cursor and the chain registry entry are
// written in a single transactional pipeline, then the full event JSON is
// published to the ledger events channel.
//
// AppendEvent does not allocate sequence numbers or hashes; the ledger
// component computes those under its per-chain lock before calling this.
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if e.ContentHash == "" {
		return fmt.Errorf("invalid event: content hash not set")
	}

	hash, err := EventToHash(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	head := &ChainHead{
		ChainID:        e.ChainID,
		SequenceNumber: e.SequenceNumber,
		ContentHash:    e.ContentHash,
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, EventKey(s.instanceName, e.EventID), hash)
	pipe.ZAdd(ctx, ChainKey(s.instanceName, e.ChainID), redis.Z{
		Score:  float64(e.SequenceNumber),
		Member: e.EventID,
	})
	pipe.HSet(ctx, ChainHeadKey(s.instanceName, e.ChainID), ChainHeadToHash(head))
	pipe.SAdd(ctx, ChainsKey(s.instanceName), e.ChainID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write event to Redis: %w", err)
	}

	eventJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event for publish: %w", err)
	}
	if err := s.rdb.Publish(ctx, LedgerEventsChannel(s.instanceName), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish ledger event: %w", err)
	}

	return nil
}

// GetEvent retrieves an event by ID.
// Returns (nil, redis.Nil) if the event doesn't exist.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	hashData, err := s.rdb.HGetAll(ctx, EventKey(s.instanceName, eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read event from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToEvent(hashData)
}

// ScanEventIDs returns the IDs of all events whose ID starts with prefix.
// Used by the CLI to resolve abbreviated event IDs; a SCAN walk, so intended
// for interactive use rather than hot paths.
func (s *Store) ScanEventIDs(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := EventKey(s.instanceName, "")
	pattern := keyPrefix + prefix + "*"

	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan events: %w", err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

// ChainHead returns the append cursor for a chain.
// Returns (nil, redis.Nil) if the chain has no events yet.
func (s *Store) ChainHead(ctx context.Context, chainID string) (*ChainHead, error) {
	hashData, err := s.rdb.HGetAll(ctx, ChainHeadKey(s.instanceName, chainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToChainHead(hashData)
}

// ChainEventIDs returns the event IDs of a chain in sequence order, along with
// the sequence number each entry claims. Empty result means an unknown or
// empty chain.
func (s *Store) ChainEventIDs(ctx context.Context, chainID string) ([]string, []int64, error) {
	entries, err := s.rdb.ZRangeWithScores(ctx, ChainKey(s.instanceName, chainID), 0, -1).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read chain index from Redis: %w", err)
	}

	ids := make([]string, 0, len(entries))
	seqs := make([]int64, 0, len(entries))
	for _, z := range entries {
		ids = append(ids, z.Member.(string))
		seqs = append(seqs, int64(z.Score))
	}
	return ids, seqs, nil
}

// Chains returns the IDs of all chains that have received at least one append.
func (s *Store) Chains(ctx context.Context) ([]string, error) {
	chains, err := s.rdb.SMembers(ctx, ChainsKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chain registry from Redis: %w", err)
	}
	return chains, nil
}

// --- Heartbeats ---

// PutHeartbeat writes (or overwrites) an agent's heartbeat record and registers
// the agent in the known-agents set.
func (s *Store) PutHeartbeat(ctx context.Context, r *HeartbeatRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid heartbeat record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, HeartbeatKey(s.instanceName, r.AgentID), HeartbeatToHash(r))
	pipe.SAdd(ctx, AgentsKey(s.instanceName), r.AgentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write heartbeat to Redis: %w", err)
	}
	return nil
}

// GetHeartbeat retrieves an agent's heartbeat record.
// Returns (nil, redis.Nil) if the agent has never beaten.
func (s *Store) GetHeartbeat(ctx context.Context, agentID string) (*HeartbeatRecord, error) {
	hashData, err := s.rdb.HGetAll(ctx, HeartbeatKey(s.instanceName, agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToHeartbeat(hashData)
}

// AgentIDs returns all agents that have ever reported a heartbeat.
func (s *Store) AgentIDs(ctx context.Context) ([]string, error) {
	agents, err := s.rdb.SMembers(ctx, AgentsKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent set from Redis: %w", err)
	}
	return agents, nil
}

// --- Circuit breaker ---

// PutBreakerState installs a new current breaker state and records it in the
// history ZSET (scored by entered_at_ms).
func (s *Store) PutBreakerState(ctx context.Context, state *BreakerState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid breaker state: %w", err)
	}

	hash := BreakerStateToHash(state)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, BreakerCurrentKey(s.instanceName))
	pipe.HSet(ctx, BreakerCurrentKey(s.instanceName), hash)
	pipe.HSet(ctx, BreakerStateKey(s.instanceName, state.StateID), hash)
	pipe.ZAdd(ctx, BreakerHistoryKey(s.instanceName), redis.Z{
		Score:  float64(state.EnteredAtMs),
		Member: state.StateID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write breaker state to Redis: %w", err)
	}
	return nil
}

// BreakerCurrent retrieves the current breaker state.
// Returns (nil, redis.Nil) if the breaker has never been initialized.
func (s *Store) BreakerCurrent(ctx context.Context) (*BreakerState, error) {
	hashData, err := s.rdb.HGetAll(ctx, BreakerCurrentKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker state from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToBreakerState(hashData)
}

// BreakerHistory returns all breaker states ordered by entered_at_ms.
func (s *Store) BreakerHistory(ctx context.Context) ([]*BreakerState, error) {
	ids, err := s.rdb.ZRange(ctx, BreakerHistoryKey(s.instanceName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read breaker history from Redis: %w", err)
	}

	states := make([]*BreakerState, 0, len(ids))
	for _, id := range ids {
		hashData, err := s.rdb.HGetAll(ctx, BreakerStateKey(s.instanceName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read breaker state %s: %w", id, err)
		}
		if len(hashData) == 0 {
			continue
		}
		state, err := HashToBreakerState(hashData)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

// --- Freshness thresholds, blackout, observations ---

// PutThreshold writes a versioned freshness threshold.
func (s *Store) PutThreshold(ctx context.Context, t *FreshnessThreshold) error {
	if t.AssetClass == "" || t.ActionClass == "" {
		return fmt.Errorf("threshold asset class and action class cannot be empty")
	}
	key := ThresholdKey(s.instanceName, t.AssetClass, t.ActionClass)
	if err := s.rdb.HSet(ctx, key, ThresholdToHash(t)).Err(); err != nil {
		return fmt.Errorf("failed to write threshold to Redis: %w", err)
	}
	return nil
}

// GetThreshold retrieves the freshness threshold for (assetClass, actionClass).
// Returns (nil, redis.Nil) if not configured.
func (s *Store) GetThreshold(ctx context.Context, assetClass, actionClass string) (*FreshnessThreshold, error) {
	key := ThresholdKey(s.instanceName, assetClass, actionClass)
	hashData, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToThreshold(hashData)
}

// PutBlackout writes a scope's blackout state.
func (s *Store) PutBlackout(ctx context.Context, b *BlackoutState) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("invalid blackout state: %w", err)
	}
	if err := s.rdb.HSet(ctx, BlackoutKey(s.instanceName, b.Scope), BlackoutToHash(b)).Err(); err != nil {
		return fmt.Errorf("failed to write blackout state to Redis: %w", err)
	}
	return nil
}

// GetBlackout retrieves a scope's blackout state.
// Returns (nil, redis.Nil) if the scope has never been blacked out.
func (s *Store) GetBlackout(ctx context.Context, scope string) (*BlackoutState, error) {
	hashData, err := s.rdb.HGetAll(ctx, BlackoutKey(s.instanceName, scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read blackout state from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToBlackout(hashData)
}

// IncrDenialCount bumps the per-asset admission denial counter.
func (s *Store) IncrDenialCount(ctx context.Context, assetID string) (int64, error) {
	n, err := s.rdb.Incr(ctx, DenialCountKey(s.instanceName, assetID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment denial count: %w", err)
	}
	return n, nil
}

// RecordObservation stores the latest market observation timestamp for an asset.
// The built-in freshness oracle derives observation age from this.
func (s *Store) RecordObservation(ctx context.Context, assetID string, observedAtMs int64) error {
	key := ObservationKey(s.instanceName, assetID)
	if err := s.rdb.HSet(ctx, key, "observed_at_ms", observedAtMs).Err(); err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// LastObservation returns the latest observation timestamp for an asset.
// Returns (0, redis.Nil) if no observation was ever recorded.
func (s *Store) LastObservation(ctx context.Context, assetID string) (int64, error) {
	val, err := s.rdb.HGet(ctx, ObservationKey(s.instanceName, assetID), "observed_at_ms").Result()
	if err != nil {
		return 0, err
	}
	observedAtMs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid observed_at_ms field: %w", err)
	}
	return observedAtMs, nil
}

// --- Violations and suspensions ---

// PutViolation persists an immutable violation record and adds it to the
// agent's rolling-window ZSET.
func (s *Store) PutViolation(ctx context.Context, v *ViolationRecord) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("invalid violation record: %w", err)
	}

	hash, err := ViolationToHash(v)
	if err != nil {
		return fmt.Errorf("failed to serialize violation: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, ViolationKey(s.instanceName, v.ViolationID), hash)
	pipe.ZAdd(ctx, AgentViolationsKey(s.instanceName, v.AgentID), redis.Z{
		Score:  float64(v.OccurredAtMs),
		Member: v.ViolationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write violation to Redis: %w", err)
	}
	return nil
}

// GetViolation retrieves a violation record by ID.
func (s *Store) GetViolation(ctx context.Context, violationID string) (*ViolationRecord, error) {
	hashData, err := s.rdb.HGetAll(ctx, ViolationKey(s.instanceName, violationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read violation from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToViolation(hashData)
}

// AddToSuspensionWindow adds a violation to the agent's suspension window and
// returns how many window entries fall at or after sinceMs. Only Class A and
// Class B violations belong here.
func (s *Store) AddToSuspensionWindow(ctx context.Context, agentID, violationID string, occurredAtMs, sinceMs int64) (int64, error) {
	key := AgentWindowKey(s.instanceName, agentID)
	if err := s.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(occurredAtMs),
		Member: violationID,
	}).Err(); err != nil {
		return 0, fmt.Errorf("failed to update suspension window: %w", err)
	}

	n, err := s.rdb.ZCount(ctx, key, fmt.Sprintf("%d", sinceMs), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count suspension window: %w", err)
	}
	return n, nil
}

// AgentViolationIDs returns all violation IDs for an agent in time order.
func (s *Store) AgentViolationIDs(ctx context.Context, agentID string) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, AgentViolationsKey(s.instanceName, agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read agent violations: %w", err)
	}
	return ids, nil
}

// AddAdversarialEvent adds an entry to an agent's Class B rolling window and
// returns how many entries fall at or after sinceMs.
func (s *Store) AddAdversarialEvent(ctx context.Context, agentID, entryID string, occurredAtMs, sinceMs int64) (int64, error) {
	key := AgentAdversarialKey(s.instanceName, agentID)
	if err := s.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(occurredAtMs),
		Member: entryID,
	}).Err(); err != nil {
		return 0, fmt.Errorf("failed to record adversarial event: %w", err)
	}

	n, err := s.rdb.ZCount(ctx, key, fmt.Sprintf("%d", sinceMs), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count adversarial events: %w", err)
	}
	return n, nil
}

// PutSuspension writes (or overwrites) an agent's suspension record.
func (s *Store) PutSuspension(ctx context.Context, r *SuspensionRecord) error {
	if r.AgentID == "" {
		return fmt.Errorf("suspension agent ID cannot be empty")
	}
	if err := s.rdb.HSet(ctx, SuspensionKey(s.instanceName, r.AgentID), SuspensionToHash(r)).Err(); err != nil {
		return fmt.Errorf("failed to write suspension to Redis: %w", err)
	}
	return nil
}

// GetSuspension retrieves an agent's suspension record.
// Returns (nil, redis.Nil) if the agent was never suspended.
func (s *Store) GetSuspension(ctx context.Context, agentID string) (*SuspensionRecord, error) {
	hashData, err := s.rdb.HGetAll(ctx, SuspensionKey(s.instanceName, agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read suspension from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToSuspension(hashData)
}

// PutFingerprint publishes the currently valid state fingerprint for an agent.
func (s *Store) PutFingerprint(ctx context.Context, agentID, fingerprint string) error {
	if err := s.rdb.Set(ctx, FingerprintKey(s.instanceName, agentID), fingerprint, 0).Err(); err != nil {
		return fmt.Errorf("failed to write fingerprint to Redis: %w", err)
	}
	return nil
}

// GetFingerprint retrieves the currently valid state fingerprint for an agent.
// Returns ("", redis.Nil) if no fingerprint was ever published.
func (s *Store) GetFingerprint(ctx context.Context, agentID string) (string, error) {
	return s.rdb.Get(ctx, FingerprintKey(s.instanceName, agentID)).Result()
}

// --- Reconciliation ---

// PutSnapshot persists a reconciliation snapshot both under its component key
// and as the cross-component "latest" record the breaker consults.
func (s *Store) PutSnapshot(ctx context.Context, snap *ReconciliationSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid reconciliation snapshot: %w", err)
	}

	hash, err := SnapshotToHash(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, ReconciliationKey(s.instanceName, snap.ComponentName))
	pipe.HSet(ctx, ReconciliationKey(s.instanceName, snap.ComponentName), hash)
	pipe.Del(ctx, ReconciliationLatestKey(s.instanceName))
	pipe.HSet(ctx, ReconciliationLatestKey(s.instanceName), hash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot to Redis: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the latest reconciliation snapshot for a component.
func (s *Store) GetSnapshot(ctx context.Context, componentName string) (*ReconciliationSnapshot, error) {
	hashData, err := s.rdb.HGetAll(ctx, ReconciliationKey(s.instanceName, componentName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToSnapshot(hashData)
}

// LatestSnapshot retrieves the most recent reconciliation snapshot across all
// components. Returns (nil, redis.Nil) if reconciliation has never run.
func (s *Store) LatestSnapshot(ctx context.Context) (*ReconciliationSnapshot, error) {
	hashData, err := s.rdb.HGetAll(ctx, ReconciliationLatestKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshot from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToSnapshot(hashData)
}

// --- Attestations ---

// PutAttestation persists a signed state attestation.
func (s *Store) PutAttestation(ctx context.Context, a *Attestation) error {
	if a.AttestationID == "" {
		return fmt.Errorf("attestation ID cannot be empty")
	}
	key := AttestationKey(s.instanceName, a.AttestationID)
	if err := s.rdb.HSet(ctx, key, AttestationToHash(a)).Err(); err != nil {
		return fmt.Errorf("failed to write attestation to Redis: %w", err)
	}
	return nil
}

// GetAttestation retrieves an attestation by ID.
// Returns (nil, redis.Nil) if unknown.
func (s *Store) GetAttestation(ctx context.Context, attestationID string) (*Attestation, error) {
	hashData, err := s.rdb.HGetAll(ctx, AttestationKey(s.instanceName, attestationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}
	return HashToAttestation(hashData)
}

// --- Pub/Sub ---

// Subscription represents an active Pub/Sub subscription to ledger events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of ledger events.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshalling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeLedgerEvents subscribes to ledger append events for this instance.
// Caller must call subscription.Close() when done.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery); the hash-chained ledger remains the authoritative record.
func (s *Store) SubscribeLedgerEvents(ctx context.Context) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, LedgerEventsChannel(s.instanceName))

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal ledger event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
