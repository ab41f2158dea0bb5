package commands

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quillon/vigil/internal/config"
	"github.com/quillon/vigil/internal/printer"
	"github.com/quillon/vigil/pkg/statestore"
)

// connect loads vigil.yml and opens a verified store connection.
// The caller owns the returned store and must Close it.
func connect() (*config.VigilConfig, *statestore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, printer.Error(
			"Configuration error",
			err.Error(),
			[]string{"Check the --config path and the file contents", "Run 'vigil init' to scaffold a fresh vigil.yml"},
		)
	}

	store, err := statestore.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, printer.ErrorWithContext(
			"Redis not accessible",
			"The kernel requires a reachable Redis instance.",
			map[string]string{"Address": cfg.Redis.Addr, "Error": err.Error()},
			[]string{"Verify the redis.addr value in vigil.yml", "Check that Redis is running"},
		)
	}
	return cfg, store, nil
}
