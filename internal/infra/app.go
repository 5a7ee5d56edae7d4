package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"hsa-planner/internal/audit"
	"hsa-planner/internal/orchestrator"
	"hsa-planner/internal/policy"
	"hsa-planner/internal/session"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *Config
	Log      zerolog.Logger
	Policies *policy.Table
	Store    session.Store
	Audit    *audit.Log
	Service  *session.Service
}

// NewApp wires policies, the session store, the optional audit log and the
// session service. Close releases whatever was opened.
func NewApp(ctx context.Context, cfg *Config, log zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	policies, err := LoadPolicies(cfg)
	if err != nil {
		return nil, err
	}
	app.Policies = policies

	if app.Store, err = OpenStore(ctx, cfg); err != nil {
		return nil, err
	}

	opts := []session.ServiceOption{session.WithServiceLogger(log.With().Str("component", "session").Logger())}
	if cfg.AuditDBPath != "" {
		if app.Audit, err = audit.Open(cfg.AuditDBPath); err != nil {
			app.Store.Close()
			return nil, err
		}
		opts = append(opts, session.WithRecorder(app.Audit))
	}

	orch := orchestrator.New(policies,
		orchestrator.WithIdleTimeout(cfg.SessionIdleTimeout),
		orchestrator.WithLogger(log.With().Str("component", "orchestrator").Logger()),
	)
	app.Service = session.NewService(app.Store, orch, opts...)

	log.Info().
		Str("store", cfg.SessionStore).
		Bool("audit", app.Audit != nil).
		Ints("policy_years", policies.Years()).
		Msg("application initialised")
	return app, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	return errors.Join(errs...)
}

// LoadPolicies returns the embedded policy table, or the one in POLICY_FILE
// when set.
func LoadPolicies(cfg *Config) (*policy.Table, error) {
	if cfg.PolicyFile == "" {
		return policy.Default()
	}
	t, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy file %s: %w", cfg.PolicyFile, err)
	}
	return t, nil
}

// OpenStore builds the configured session store. A redis store is pinged
// before it is returned.
func OpenStore(ctx context.Context, cfg *Config) (session.Store, error) {
	switch cfg.SessionStore {
	case StoreRedis:
		rs, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return rs, nil
	case StoreMemory, "":
		return session.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
}
