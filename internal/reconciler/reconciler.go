package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/proxyvisor/internal/configstore"
	"github.com/ppiankov/proxyvisor/internal/directive"
)

// ConfigStore rewrites the forwarding directive in the proxy config.
type ConfigStore interface {
	ApplyDirective(previous, next directive.Directive) error
}

// Process is the proxy lifecycle as seen by the reconciler.
type Process interface {
	Running() bool
	Start(ctx context.Context, configPath string) error
	Restart(ctx context.Context, configPath string) error
}

// State is the reconciler's position in its two-state machine.
type State int32

const (
	Idle State = iota
	Applying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Applying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome classifies the config step of one reconciliation.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeNotFound          Outcome = "directive_not_found"
	OutcomeConfigUnavailable Outcome = "config_unavailable"
	OutcomeInvalid           Outcome = "invalid"
	OutcomeFailed            Outcome = "failed"
)

// Action is the process operation a reconciliation performed.
type Action string

const (
	ActionNone    Action = "none"
	ActionStart   Action = "start"
	ActionRestart Action = "restart"
)

// Notification is one desired-state change. Without a forward value the
// current target is disabled.
type Notification struct {
	Origin     string
	Forward    string
	HasForward bool
}

// Forward returns a notification requesting value as the forward target.
func Forward(origin, value string) Notification {
	return Notification{Origin: origin, Forward: value, HasForward: true}
}

// NoForward returns a notification requesting that forwarding be disabled.
func NoForward(origin string) Notification {
	return Notification{Origin: origin}
}

// Result describes one completed reconciliation.
type Result struct {
	Seq       uint64
	Origin    string
	Requested string
	Previous  directive.Directive
	Next      directive.Directive
	Outcome   Outcome
	Err       error
	Action    Action
	ActionErr error
	Duration  time.Duration
}

// Options configures a Reconciler.
type Options struct {
	Store      ConfigStore
	Process    Process
	ConfigPath string

	// Initial is the directive currently in the config file.
	Initial directive.Directive
	Logger  *zap.Logger

	// OnReconcile is called after every reconciliation, inside the
	// critical section, so results arrive in order.
	OnReconcile func(Result)
}

// Reconciler converges the proxy config and process onto the most recent
// desired state. Notifications are applied one at a time in arrival order.
type Reconciler struct {
	store       ConfigStore
	proc        Process
	configPath  string
	logger      *zap.Logger
	onReconcile func(Result)

	// mu is the critical section around last and the process actions.
	mu   sync.Mutex
	last directive.Directive
	seq  uint64

	state atomic.Int32
	queue *queue
}

// New creates a reconciler in the Idle state.
func New(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	initial := opts.Initial
	if initial.IsZero() {
		initial = directive.Default
	}
	return &Reconciler{
		store:       opts.Store,
		proc:        opts.Process,
		configPath:  opts.ConfigPath,
		logger:      opts.Logger.Named("reconciler"),
		onReconcile: opts.OnReconcile,
		last:        initial,
		queue:       newQueue(),
	}
}

// State reports whether a reconciliation is in flight.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// QueueDepth is the number of notifications waiting for Run.
func (r *Reconciler) QueueDepth() int {
	return r.queue.len()
}

// Enqueue appends a notification for Run. It never blocks and never drops.
func (r *Reconciler) Enqueue(n Notification) {
	r.queue.push(n)
}

// Run applies queued notifications in FIFO order until ctx is cancelled.
// A reconciliation in flight at cancellation runs to completion.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		for ctx.Err() == nil {
			n, ok := r.queue.pop()
			if !ok {
				break
			}
			r.Reconcile(context.WithoutCancel(ctx), n)
		}

		select {
		case <-ctx.Done():
			if pending := r.queue.len(); pending > 0 {
				r.logger.Warn("shutting down with pending notifications", zap.Int("pending", pending))
			}
			return nil
		case <-r.queue.ready:
		}
	}
}

// Reconcile applies one notification synchronously. Failures are logged
// and returned in the Result; they never propagate as errors or panics.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Store(int32(Applying))
	r.seq++
	res = Result{
		Seq:       r.seq,
		Origin:    n.Origin,
		Requested: n.Forward,
		Previous:  r.last,
		Action:    ActionNone,
	}
	log := r.logger.With(zap.Uint64("seq", res.Seq), zap.String("origin", n.Origin))
	started := time.Now()

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("panic during reconciliation: %v", p)
			log.Error("error when applying desired state", zap.Error(res.Err))
		}
		res.Duration = time.Since(started)
		r.state.Store(int32(Idle))
		if r.onReconcile != nil {
			r.onReconcile(res)
		}
	}()

	log.Info("desired property change", zap.Bool("forward_present", n.HasForward), zap.String("forward", n.Forward))

	next, err := r.normalize(n)
	if err != nil {
		res.Outcome = OutcomeInvalid
		res.Err = err
		log.Error("rejected desired forward value", zap.Error(err))
		return res
	}
	res.Next = next

	err = r.store.ApplyDirective(r.last, next)
	switch {
	case err == nil:
		r.last = next
		res.Outcome = OutcomeApplied
		log.Info("updated forward address", zap.Stringer("directive", next))
	case errors.Is(err, configstore.ErrDirectiveNotFound):
		res.Outcome = OutcomeNotFound
		res.Err = err
		log.Warn("forward directive not found, keeping last applied", zap.Stringer("last_applied", r.last), zap.Error(err))
	case errors.Is(err, configstore.ErrConfigUnavailable):
		res.Outcome = OutcomeConfigUnavailable
		res.Err = err
		log.Error("proxy config unavailable, skipping", zap.Error(err))
		return res
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		log.Error("proxy config update failed, skipping", zap.Error(err))
		return res
	}

	res.Action, res.ActionErr = r.converge(ctx, log)
	return res
}

// normalize maps a notification to the directive to write. Absence disables
// the current target rather than clearing it. A bare address keeps the
// pattern of the tracked directive.
func (r *Reconciler) normalize(n Notification) (directive.Directive, error) {
	if !n.HasForward || strings.TrimSpace(n.Forward) == "" {
		return r.last.Disable(), nil
	}
	return directive.FromValueFor(n.Forward, r.last.Pattern)
}

// converge starts the proxy, or restarts it when it is already running.
// Every processed notification restarts a running proxy, even when the
// config did not change.
func (r *Reconciler) converge(ctx context.Context, log *zap.Logger) (Action, error) {
	action := ActionStart
	var err error
	if r.proc.Running() {
		action = ActionRestart
		log.Info("restarting proxy")
		err = r.proc.Restart(ctx, r.configPath)
	} else {
		log.Info("starting proxy")
		err = r.proc.Start(ctx, r.configPath)
	}
	if err != nil {
		log.Error("proxy "+string(action)+" failed", zap.Error(err))
	}
	return action, err
}
