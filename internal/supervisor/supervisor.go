package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrConfigNotFound is returned by Start when the proxy config file is missing.
	ErrConfigNotFound = errors.New("proxy config not found")
	// ErrSpawn is returned when the proxy binary cannot be started.
	ErrSpawn = errors.New("proxy spawn failed")
	// ErrTerminate is returned when the terminate call fails. Runtime state
	// is left unchanged because the proxy may still be alive.
	ErrTerminate = errors.New("proxy terminate failed")
	// ErrAlreadyRunning is returned by Start while a proxy is running.
	ErrAlreadyRunning = errors.New("proxy already running")
)

// killGrace bounds the wait for the reaper after SIGKILL. A grandchild that
// inherited the output pipes can keep them open past the proxy's exit.
const killGrace = 2 * time.Second

// maxLineSize is the longest output line forwarded to the log.
const maxLineSize = 1 << 20

// Status is a snapshot of the proxy's runtime state.
type Status struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	Starts       int       `json:"starts"`
	Stops        int       `json:"stops"`
	LastExitCode int       `json:"last_exit_code"`
	LastExitAt   time.Time `json:"last_exit_at,omitempty"`
}

// Options configures a Supervisor.
type Options struct {
	Binary      string
	Args        []string // placed before the config path
	ProcessName string
	StopTimeout time.Duration
	Terminator  Terminator
	Logger      *zap.Logger

	// OnStateChange is called outside the supervisor lock after every
	// transition, including the proxy exiting on its own.
	OnStateChange func(Status)
}

// instance is one spawned proxy process.
type instance struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Supervisor owns the lifecycle of the proxy process. It is the only writer
// of the runtime state; callers observe it through Running and Status.
type Supervisor struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	status Status
	proc   *instance
}

// New creates a supervisor. Nothing is started.
func New(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.Terminator == nil {
		opts.Terminator = CommandTerminator{Command: "killall", Logger: opts.Logger}
	}
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger.Named("supervisor"),
	}
}

// Running reports whether the proxy is believed to be running.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Running
}

// Status returns a copy of the runtime state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start spawns the proxy in foreground mode against configPath and forwards
// its output to the log until it exits.
func (s *Supervisor) Start(ctx context.Context, configPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}
	s.logger.Info("found proxy config", zap.String("config", configPath))

	if s.Running() {
		return ErrAlreadyRunning
	}

	args := make([]string, 0, len(s.opts.Args)+1)
	args = append(args, s.opts.Args...)
	args = append(args, configPath)

	// Not CommandContext: the proxy outlives the reconciliation that started it.
	cmd := exec.Command(s.opts.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	s.logger.Info("starting proxy", zap.String("binary", s.opts.Binary), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		s.logger.Error("proxy spawn failed", zap.String("binary", s.opts.Binary), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	inst := &instance{cmd: cmd, done: make(chan struct{})}
	pid := cmd.Process.Pid

	// Record the instance before the reaper can observe an early exit.
	s.mu.Lock()
	s.proc = inst
	s.status.Running = true
	s.status.PID = pid
	s.status.StartedAt = time.Now().UTC()
	s.status.Starts++
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("proxy started", zap.Int("pid", pid))
	// Notify before the reaper exists so observers never see exit before start.
	s.notify(snapshot)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.forward(&readers, "stdout", pid, stdout)
	go s.forward(&readers, "stderr", pid, stderr)
	go s.reap(inst, &readers)
	return nil
}

// Stop terminates every instance of the proxy by name, bounded by the stop
// timeout. With no instance running it succeeds without effect.
func (s *Supervisor) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()

	s.logger.Info("stopping proxy", zap.String("process", s.opts.ProcessName))
	if err := s.opts.Terminator.Terminate(ctx, s.opts.ProcessName); err != nil {
		s.logger.Error("proxy terminate failed", zap.String("process", s.opts.ProcessName), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTerminate, err)
	}

	s.mu.Lock()
	inst := s.proc
	s.mu.Unlock()

	if inst != nil {
		select {
		case <-inst.done:
		case <-ctx.Done():
			s.logger.Warn("proxy still alive after terminate, killing",
				zap.Int("pid", inst.cmd.Process.Pid),
				zap.Duration("timeout", s.opts.StopTimeout),
			)
			_ = inst.cmd.Process.Kill()
			select {
			case <-inst.done:
			case <-time.After(killGrace):
				s.logger.Error("proxy not reaped after kill", zap.Int("pid", inst.cmd.Process.Pid))
			}
		}
	}

	s.mu.Lock()
	if s.proc == inst {
		s.proc = nil
	}
	s.status.Running = false
	s.status.PID = 0
	s.status.Stops++
	snapshot := s.status
	s.mu.Unlock()

	s.logger.Info("proxy stopped")
	s.notify(snapshot)
	return nil
}

// Restart stops then starts the proxy. Start is skipped when Stop fails so
// a second instance never races the first for its listen address.
func (s *Supervisor) Restart(ctx context.Context, configPath string) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx, configPath)
}

// forward logs every output line of one stream. End of stream is not logged.
func (s *Supervisor) forward(wg *sync.WaitGroup, stream string, pid int, r io.Reader) {
	defer wg.Done()

	out := s.opts.Logger.Named("proxy").With(zap.String("stream", stream), zap.Int("pid", pid))
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		out.Info(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		out.Warn("proxy output unreadable, discarding rest of stream", zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

// reap waits for the process after its output is drained and clears the
// runtime state if this instance is still the current one.
func (s *Supervisor) reap(inst *instance, readers *sync.WaitGroup) {
	readers.Wait()
	waitErr := inst.cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.mu.Lock()
	current := s.proc == inst
	if current {
		s.proc = nil
		s.status.Running = false
		s.status.PID = 0
	}
	s.status.LastExitCode = exitCode
	s.status.LastExitAt = time.Now().UTC()
	snapshot := s.status
	s.mu.Unlock()

	close(inst.done)

	s.logger.Info("proxy process exited",
		zap.Int("pid", inst.cmd.Process.Pid),
		zap.Int("exit_code", exitCode),
		zap.NamedError("wait_error", waitErr),
	)
	if current {
		s.notify(snapshot)
	}
}

func (s *Supervisor) notify(st Status) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}
