package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// Terminator stops every running instance of a process by name.
type Terminator interface {
	Terminate(ctx context.Context, name string) error
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(ctx context.Context, name string) error

// Terminate calls f.
func (f TerminatorFunc) Terminate(ctx context.Context, name string) error {
	return f(ctx, name)
}

// noProcessFound is what killall prints when nothing matched the name.
var noProcessFound = []byte("no process found")

// CommandTerminator runs "<Command> <name>", killall style. Exit status 1 with
// "no process found" means nothing was running and counts as success.
type CommandTerminator struct {
	Command string
	Logger  *zap.Logger
}

// Terminate runs the kill command and waits for it, bounded by ctx.
func (t CommandTerminator) Terminate(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, t.Command, name)
	out, err := cmd.CombinedOutput()

	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("terminate").With(zap.String("command", t.Command))
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		logger.Info(scanner.Text())
	}

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", t.Command, name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && bytes.Contains(out, noProcessFound) {
		return nil
	}
	return fmt.Errorf("%s %s: %w", t.Command, name, err)
}
