// Package daemon wires the proxy supervisor, the reconciler and the
// desired-state watcher into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/proxyvisor/internal/config"
	"github.com/ppiankov/proxyvisor/internal/configstore"
	"github.com/ppiankov/proxyvisor/internal/desired"
	"github.com/ppiankov/proxyvisor/internal/directive"
	"github.com/ppiankov/proxyvisor/internal/health"
	"github.com/ppiankov/proxyvisor/internal/journal"
	"github.com/ppiankov/proxyvisor/internal/metrics"
	"github.com/ppiankov/proxyvisor/internal/reconciler"
	"github.com/ppiankov/proxyvisor/internal/statestore"
	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

// dirPerm is the permission for the state directory.
const dirPerm = 0750

// ErrAlreadyRunning is returned when another daemon holds the PID lock.
var ErrAlreadyRunning = errors.New("another proxyvisor daemon is running")

// Options holds everything Run needs besides the configuration file.
type Options struct {
	Logger *zap.Logger

	// Terminator replaces the kill command. Nil uses
	// "<proxy.kill_command> <proxy.process_name>".
	Terminator supervisor.Terminator
}

// Daemon supervises the proxy until its context is cancelled.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger

	// mu guards the sinks against process notifications that arrive after
	// shutdown closed them.
	mu      sync.Mutex
	closed  bool
	journal *journal.Journal
	state   *statestore.Store
	health  *health.Server
}

// New creates a daemon with validated configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.Named("daemon"),
	}, nil
}

// Run starts the daemon. Blocks until ctx is cancelled or a server fails.
// The desired-state snapshot is applied first; every later change follows
// in arrival order.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.StateDir, dirPerm); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	pidPath := d.cfg.PIDPath()
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	store := configstore.New(d.cfg.Proxy.ConfigPath)
	initial, err := d.initialDirective(store)
	if err != nil {
		return err
	}

	if err := d.openSinks(ctx, initial); err != nil {
		return err
	}
	defer d.closeSinks()

	metrics.Register()

	terminator := d.opts.Terminator
	if terminator == nil {
		terminator = supervisor.CommandTerminator{Command: d.cfg.Proxy.KillCommand, Logger: d.opts.Logger}
	}
	sup := supervisor.New(supervisor.Options{
		Binary:        d.cfg.Proxy.Binary,
		Args:          d.cfg.Proxy.Args,
		ProcessName:   d.cfg.Proxy.ProcessName,
		StopTimeout:   d.cfg.Proxy.StopTimeout,
		Terminator:    terminator,
		Logger:        d.opts.Logger,
		OnStateChange: d.recordProcess,
	})

	var rec *reconciler.Reconciler
	queueDepth := func() { metrics.SetQueueDepth(rec.QueueDepth()) }
	rec = reconciler.New(reconciler.Options{
		Store:      store,
		Process:    sup,
		ConfigPath: d.cfg.Proxy.ConfigPath,
		Initial:    initial,
		Logger:     d.opts.Logger,
		OnReconcile: func(res reconciler.Result) {
			d.recordReconcile(res)
			queueDepth()
		},
	})

	d.logger.Info("proxyvisor started",
		zap.String("proxy_config", d.cfg.Proxy.ConfigPath),
		zap.Stringer("directive", initial),
		zap.String("desired", d.cfg.Desired.Path),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error {
		return d.watch(gctx, func(origin string, props desired.Properties) {
			rec.Enqueue(props.Notification(origin))
			queueDepth()
		})
	})
	if d.cfg.MetricsAddr != "" {
		srv := metrics.NewServer(d.cfg.MetricsAddr, d.opts.Logger)
		g.Go(func() error { return srv.Start(gctx) })
	}
	if d.health != nil {
		g.Go(func() error { return d.health.Start(gctx) })
	}

	runErr := g.Wait()

	if d.cfg.Proxy.StopOnExit && sup.Running() {
		d.logger.Info("stopping proxy")
		if err := sup.Stop(context.Background()); err != nil {
			d.logger.Error("failed to stop proxy on exit", zap.Error(err))
		}
	}

	d.logger.Info("proxyvisor stopped")
	return runErr
}

// initialDirective reads the directive already present in the proxy
// config, seeding the configured default when allowed. A missing config is
// not fatal: the reconciler reports it on every notification.
func (d *Daemon) initialDirective(store *configstore.Store) (directive.Directive, error) {
	def, err := d.cfg.DefaultDirective()
	if err != nil {
		return directive.Directive{}, err
	}

	current, found, err := store.Current(def.Pattern)
	if err != nil {
		if errors.Is(err, configstore.ErrConfigUnavailable) {
			d.logger.Warn("proxy config unavailable at startup", zap.Error(err))
			return def, nil
		}
		return directive.Directive{}, err
	}
	if found {
		return current, nil
	}

	if d.cfg.Directive.SeedMissing {
		seeded, err := store.Seed(def)
		if err != nil {
			return directive.Directive{}, fmt.Errorf("seed forward directive: %w", err)
		}
		if seeded {
			d.logger.Info("seeded forward directive", zap.Stringer("directive", def))
		}
	} else {
		d.logger.Warn("proxy config has no forward directive", zap.Stringer("assumed", def))
	}
	return def, nil
}

// watch runs the desired-state watcher, falling back to polling when the
// file watcher cannot be set up.
func (d *Daemon) watch(ctx context.Context, handler desired.Handler) error {
	path := d.cfg.Desired.Path
	poll := func() error {
		return desired.NewPollWatcher(path, handler, d.cfg.Desired.PollInterval, d.opts.Logger).Run(ctx)
	}
	if d.cfg.Desired.Poll {
		return poll()
	}

	err := desired.NewFileWatcher(path, handler, d.cfg.Desired.Debounce, d.opts.Logger).Run(ctx)
	if errors.Is(err, desired.ErrWatchSetup) {
		d.logger.Warn("file watcher unavailable, polling",
			zap.Error(err), zap.Duration("interval", d.cfg.Desired.PollInterval))
		return poll()
	}
	return err
}

func (d *Daemon) openSinks(ctx context.Context, initial directive.Directive) error {
	j, err := journal.Open(d.cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	st, err := statestore.Open(ctx, d.cfg.StatusDBPath())
	if err != nil {
		_ = j.Close()
		return fmt.Errorf("open state store: %w", err)
	}
	if err := st.RecordDirective(ctx, initial.String()); err != nil {
		d.logger.Warn("failed to record initial directive", zap.Error(err))
	}
	if err := st.RecordProcess(ctx, supervisor.Status{}); err != nil {
		d.logger.Warn("failed to reset process state", zap.Error(err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.journal = j
	d.state = st
	if d.cfg.HealthAddr != "" {
		d.health = health.New(d.cfg.HealthAddr, d.opts.Logger)
	}
	return nil
}

func (d *Daemon) closeSinks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if err := d.journal.Close(); err != nil {
		d.logger.Warn("failed to close journal", zap.Error(err))
	}
	if err := d.state.Close(); err != nil {
		d.logger.Warn("failed to close state store", zap.Error(err))
	}
}

// recordReconcile fans a reconciliation result out to the journal, the
// state store and metrics.
func (d *Daemon) recordReconcile(res reconciler.Result) {
	metrics.RecordReconcile(res)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if err := d.journal.Record(journal.FromResult(res)); err != nil {
		d.logger.Error("failed to write journal entry", zap.Uint64("seq", res.Seq), zap.Error(err))
	}
	if err := d.state.RecordResult(context.Background(), res); err != nil {
		d.logger.Error("failed to record reconciliation", zap.Uint64("seq", res.Seq), zap.Error(err))
	}
}

// recordProcess mirrors a supervisor state change into health, metrics
// and the state store.
func (d *Daemon) recordProcess(st supervisor.Status) {
	metrics.RecordProcess(st)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.health != nil {
		d.health.RecordProcess(st)
	}
	if d.closed {
		return
	}
	if err := d.state.RecordProcess(context.Background(), st); err != nil {
		d.logger.Error("failed to record process state", zap.Error(err))
	}
}
