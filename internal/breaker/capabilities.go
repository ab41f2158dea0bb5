package breaker

import "github.com/quillon/vigil/pkg/statestore"

// Capability names the action classes the severity ladder gates. Admission
// requests name the capability they need; the table below decides whether the
// current level permits it.
type Capability string

const (
	CapExecution      Capability = "EXECUTION"
	CapOrderPlacement Capability = "ORDER_PLACEMENT"
	CapPositionOpen   Capability = "POSITION_OPEN"
	CapRebalance      Capability = "REBALANCE"
	CapReporting      Capability = "REPORTING"
)

// capabilityTable is the explicit severity-to-capability mapping. It is data,
// not behavior: the state machine never consults it, only admission callers do.
//
// NOMINAL allows every capability; LOCKDOWN allows none. Capabilities fall
// away in order of economic consequence as severity worsens.
var capabilityTable = map[statestore.Level][]Capability{
	statestore.LevelNominal: {
		CapExecution, CapOrderPlacement, CapPositionOpen, CapRebalance, CapReporting,
	},
	statestore.LevelLowCaution: {
		CapExecution, CapOrderPlacement, CapRebalance, CapReporting,
	},
	statestore.LevelHighCaution: {
		CapRebalance, CapReporting,
	},
	statestore.LevelSevere: {
		CapReporting,
	},
	statestore.LevelLockdown: {},
}

// Allows reports whether the given severity level permits a capability.
// Unknown levels and unknown capabilities are denied.
func Allows(level statestore.Level, capability Capability) bool {
	for _, c := range capabilityTable[level] {
		if c == capability {
			return true
		}
	}
	return false
}

// Capabilities returns the capability set a level permits.
func Capabilities(level statestore.Level) []Capability {
	caps := capabilityTable[level]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}
