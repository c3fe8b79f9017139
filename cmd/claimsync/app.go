package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/claimsync/internal/config"
	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/domain/lifecycle"
	"github.com/ehr/claimsync/internal/platform/db"
	"github.com/ehr/claimsync/internal/platform/lock"
	"github.com/ehr/claimsync/internal/platform/transfer"
	"github.com/ehr/claimsync/internal/platform/x12"
)

// channel is both sides of the clearinghouse file exchange.
type channel interface {
	lifecycle.Outbox
	lifecycle.Inbox
}

// app holds everything a command may need. Fields a command did not ask
// for stay nil.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	redis   *lock.Redis
	store   lifecycle.Store
	locks   lock.Locker
	channel channel
	watchIn string
	svc     *lifecycle.Service
	ingest  *lifecycle.Ingestor
	closers []func()
}

func newLogger(dev bool, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if dev {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// loadApp reads and validates configuration. withTransfer also validates
// and opens the file-transfer channel.
func loadApp(ctx context.Context, withTransfer bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if withTransfer {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateStore()
	}
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.IsDev(), cfg.LogLevel)}
	if err := a.open(ctx, withTransfer); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, withTransfer bool) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })

	if err := a.openLocks(ctx); err != nil {
		return err
	}
	if withTransfer {
		if err := a.openChannel(); err != nil {
			return err
		}
	}

	enc := claim.NewEncoder(x12.RandomControlNumbers{}, claim.WithUsageIndicator(a.cfg.UsageIndicator))
	var outbox lifecycle.Outbox
	if a.channel != nil {
		outbox = a.channel
	}
	a.svc = lifecycle.NewService(a.store, enc, outbox, a.locks, a.logger, lifecycle.WithParties(
		claim.Party{Name: a.cfg.SubmitterName, ID: a.cfg.SubmitterID, ContactName: a.cfg.SubmitterContact, Phone: a.cfg.SubmitterPhone},
		claim.Party{Name: a.cfg.ReceiverName, ID: a.cfg.ReceiverID},
	))
	a.ingest = lifecycle.NewIngestor(a.store, a.locks, a.logger, lifecycle.WithWorkers(a.cfg.IngestWorkers))
	return nil
}

func (a *app) openStore(ctx context.Context) (lifecycle.Store, error) {
	switch a.cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.logger.Info().Msg("connected to database")
		return lifecycle.NewPGStore(pool), nil
	case config.DriverSQLite:
		s, err := lifecycle.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.logger.Info().Str("path", a.cfg.SQLitePath).Msg("opened sqlite store")
		return s, nil
	default:
		a.logger.Warn().Msg("using in-memory store; nothing survives a restart")
		return lifecycle.NewMemoryStore(), nil
	}
}

func (a *app) openLocks(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.locks = lock.NewLocal()
		return nil
	}
	client, err := lock.NewRedisClient(a.cfg.RedisURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { client.Close() })
	a.redis = lock.NewRedis(client, a.cfg.LockTTL, lock.WithLogger(a.logger))
	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.locks = a.redis
	a.logger.Info().Msg("using redis claim locks")
	return nil
}

func (a *app) openChannel() error {
	switch a.cfg.TransferMode {
	case config.TransferHTTP:
		h, err := transfer.NewHTTPChannel(transfer.HTTPConfig{
			BaseURL:           a.cfg.ClearinghouseURL,
			Token:             a.cfg.ClearinghouseToken,
			RequestsPerSecond: a.cfg.TransferRPS,
			RetryCount:        a.cfg.TransferRetries,
		}, a.logger)
		if err != nil {
			return err
		}
		a.channel = h
	default:
		d, err := transfer.NewDirChannel(a.cfg.TransferRoot, a.cfg.InboundDir, a.cfg.OutboundDir)
		if err != nil {
			return err
		}
		a.channel = d
		a.watchIn = d.InboundDir()
	}
	return nil
}

func (a *app) healthChecks() []db.Check {
	var checks []db.Check
	if a.pool != nil {
		checks = append(checks, db.PoolCheck(a.pool))
	} else {
		checks = append(checks, db.Check{Name: "store", Ping: a.store.Ping})
	}
	if a.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: a.redis.Ping})
	}
	return checks
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
