// Package bootstrap wires configuration into running components. Both
// binaries start through it.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailbatch/internal/api"
	"github.com/sungwon/mailbatch/internal/config"
	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/listener"
	"github.com/sungwon/mailbatch/internal/msgstore"
	"github.com/sungwon/mailbatch/internal/pipeline"
	"github.com/sungwon/mailbatch/internal/storage"
	"github.com/sungwon/mailbatch/internal/transport"
)

// LedgerBackend is the persistence selected by ledger.backend. For the
// memory backend Persister and Query are nil.
type LedgerBackend struct {
	Persister ledger.Persister
	Query     ledger.Query
	Ready     map[string]api.Pinger

	closers []func()
}

// OpenLedgerBackend connects the configured status persistence.
func OpenLedgerBackend(ctx context.Context, cfg config.LedgerConfig, log zerolog.Logger) (*LedgerBackend, error) {
	b := &LedgerBackend{Ready: map[string]api.Pinger{}}

	switch cfg.Backend {
	case "", "memory":
		log.Info().Msg("ledger statuses kept in memory only")

	case "postgres":
		db, err := storage.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect ledger database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ledger database: %w", err)
		}
		repo := storage.NewPostgresStatusRepository(db)
		b.Persister, b.Query = repo, repo
		b.Ready["postgres"] = db
		b.closers = append(b.closers, db.Close)
		log.Info().Msg("ledger statuses persisted to postgres")

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect ledger redis: %w", err)
		}
		repo := storage.NewRedisStatusRepository(client, cfg.RedisTTL)
		b.Persister, b.Query = repo, repo
		b.Ready["redis"] = api.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		b.closers = append(b.closers, func() { client.Close() })
		log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.RedisTTL).Msg("ledger statuses persisted to redis")

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
	return b, nil
}

// LedgerOptions returns the options every batch ledger is created with.
func (b *LedgerBackend) LedgerOptions(log zerolog.Logger) []ledger.Option {
	opts := []ledger.Option{ledger.WithLogger(log)}
	if b.Persister != nil {
		opts = append(opts, ledger.WithPersister(b.Persister))
	}
	return opts
}

// Close releases the backend connections.
func (b *LedgerBackend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// PipelineConfig converts the pipeline section of the configuration.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		PrepareQueueSize: cfg.Pipeline.PrepareQueueSize,
		SendQueueSize:    cfg.Pipeline.SendQueueSize,
		PrepareWorkers:   cfg.Pipeline.PrepareWorkers,
		SendWorkers:      cfg.Pipeline.SendWorkers,
		SendDelay:        cfg.Pipeline.SendDelay,
		LoadRetryBackoff: cfg.Pipeline.LoadRetryBackoff,
		ShutdownTimeout:  cfg.API.ShutdownTimeout,
	}
}

// NewController builds the content store, the transport and the pipeline
// controller. Every batch also reports to the logging and metrics
// listeners. The controller is not started.
func NewController(cfg *config.Config, backend *LedgerBackend, log zerolog.Logger) (*pipeline.Controller, *msgstore.ContentStore, error) {
	blobs, err := msgstore.New(cfg.Store, log)
	if err != nil {
		return nil, nil, fmt.Errorf("create content store: %w", err)
	}
	store := msgstore.NewContentStore(blobs)

	tr, err := transport.New(cfg.Transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}
	log.Info().Str("transport", tr.Name()).Str("store", cfg.Store.Type).Msg("pipeline components ready")

	ctrl := pipeline.New(PipelineConfig(cfg), store, tr, log,
		pipeline.WithListeners(listener.NewLogging(log), listener.NewMetrics()),
		pipeline.WithLedgerOptions(backend.LedgerOptions(log)...),
	)
	return ctrl, store, nil
}
