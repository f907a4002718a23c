package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/orneryd/graphfed/pkg/audit"
	"github.com/orneryd/graphfed/pkg/config"
	"github.com/orneryd/graphfed/pkg/provider/badgerstore"
	"github.com/orneryd/graphfed/pkg/provider/memory"
	"github.com/orneryd/graphfed/pkg/rdf"
	"github.com/orneryd/graphfed/pkg/registry"
	"github.com/orneryd/graphfed/pkg/security"
)

// app is everything one CLI invocation needs, built from the configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	auth     *security.Authenticator // nil when security is disabled
	audit    *audit.Logger           // nil when audit is disabled

	watcher     *security.PolicyWatcher
	stop        context.CancelFunc
	logFile     *os.File
	prevDefault *registry.Registry
}

// loadConfig resolves defaults, the optional file at path, and the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config, stderr io.Writer) (a *app, err error) {
	a = &app{cfg: cfg, stop: func() {}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.setupLogging(stderr); err != nil {
		return nil, err
	}

	if cfg.Audit.Enabled {
		ac := audit.DefaultConfig()
		ac.LogPath = cfg.Audit.LogPath
		ac.SyncWrites = cfg.Audit.SyncWrites
		if a.audit, err = audit.NewLogger(ac); err != nil {
			return nil, err
		}
		a.audit.SetAlertCallback(func(e audit.Event) {
			a.logger.Warn("audit alert", "type", e.Type, "user", e.Username, "graph", e.Graph, "reason", e.Reason)
		})
	}

	access, err := a.setupSecurity()
	if err != nil {
		return nil, err
	}

	opts := []registry.Option{
		registry.WithLogger(a.logger),
		registry.WithAccessController(access),
		registry.WithQueryCache(cfg.Registry.QueryCacheSize, cfg.Registry.QueryCacheTTL),
	}
	if a.audit != nil {
		opts = append(opts, registry.WithListener(a.audit))
	}
	a.registry = registry.New(opts...)

	if cfg.Memory.Enabled {
		p := memory.New(
			memory.WithWeight(cfg.Memory.Weight),
			memory.WithUndeletable(iris(cfg.Memory.Undeletable)...),
		)
		if err := a.registry.AddProvider(p); err != nil {
			return nil, err
		}
	}
	if cfg.Badger.Enabled {
		store, err := badgerstore.Open(badgerstore.Options{
			DataDir:        cfg.Badger.DataDir,
			InMemory:       cfg.Badger.InMemory,
			SyncWrites:     cfg.Badger.SyncWrites,
			Weight:         cfg.Badger.Weight,
			BlockCacheSize: cfg.Badger.BlockCacheBytes(),
			Undeletable:    iris(cfg.Badger.Undeletable),
			Logger:         a.logger,
		})
		if err != nil {
			return nil, err
		}
		if err := a.registry.AddProvider(store); err != nil {
			store.Close()
			return nil, err
		}
	}

	a.prevDefault = registry.Default()
	registry.SetDefault(a.registry)

	a.logger.Debug("graphfed ready", "config", cfg.String())
	return a, nil
}

func (a *app) setupLogging(stderr io.Writer) error {
	var w io.Writer
	switch a.cfg.Logging.Output {
	case "", "stderr":
		w = stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(a.cfg.Logging.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = f
		w = f
	}
	a.logger = a.cfg.Logging.NewLogger(w)
	return nil
}

func (a *app) setupSecurity() (security.AccessController, error) {
	sc := a.cfg.Security
	if !sc.Enabled {
		a.logger.Warn("security disabled: every request is allowed")
		return security.AllowAll{}, nil
	}

	policy := security.DefaultPolicy()
	if sc.PolicyFile != "" {
		var err error
		if policy, err = security.LoadPolicyFile(sc.PolicyFile); err != nil {
			return nil, err
		}
	}
	if sc.AnonymousRole != "" {
		policy.AnonymousRole = security.Role(sc.AnonymousRole)
	}
	controller, err := security.NewPolicyAccessController(policy)
	if err != nil {
		return nil, err
	}
	controller.SetLogger(a.logger)

	a.auth = security.NewAuthenticator(sc.AuthConfig())
	if a.audit != nil {
		a.auth.SetAuditLogger(a.audit.LogAuth)
	}
	if err := a.auth.LoadUsers(policy); err != nil {
		return nil, err
	}

	if sc.Watch {
		w, err := security.NewPolicyWatcher(sc.PolicyFile, controller, a.logger)
		if err != nil {
			return nil, err
		}
		if a.audit != nil {
			w.OnReload = a.audit.PolicyReloaded(sc.PolicyFile)
		}
		ctx, cancel := context.WithCancel(context.Background())
		a.watcher, a.stop = w, cancel
		go w.Run(ctx)
	}
	return controller, nil
}

// login returns ctx carrying the principal for username. An empty username stays
// anonymous.
func (a *app) login(ctx context.Context, username, password string) (context.Context, error) {
	if username == "" {
		return ctx, nil
	}
	if a.auth == nil {
		a.logger.Warn("ignoring --user: security disabled", "user", username)
		return ctx, nil
	}
	p, err := a.auth.Authenticate(username, password)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return security.WithPrincipal(ctx, p), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	a.stop()
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.registry != nil {
		if a.prevDefault != nil {
			registry.SetDefault(a.prevDefault)
		}
		errs = append(errs, a.registry.Close())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

func iris(names []string) []rdf.IRI {
	out := make([]rdf.IRI, len(names))
	for i, n := range names {
		out[i] = rdf.IRI(n)
	}
	return out
}
