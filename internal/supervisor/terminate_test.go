package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCommandTerminator(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"killed", "exit 0", false},
		{"nothing running", `echo "$1: no process found" >&2; exit 1`, false},
		{"permission denied", `echo "$1(42): Operation not permitted" >&2; exit 1`, true},
		{"other failure", "exit 2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := CommandTerminator{Command: writeScript(t, "killall", tt.script)}
			err := term.Terminate(context.Background(), "privoxy")
			if (err != nil) != tt.wantErr {
				t.Errorf("Terminate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandTerminatorMissingBinary(t *testing.T) {
	term := CommandTerminator{Command: "/nonexistent/killall"}
	if err := term.Terminate(context.Background(), "privoxy"); err == nil {
		t.Fatal("expected error for missing kill command")
	}
}

func TestCommandTerminatorTimeout(t *testing.T) {
	term := CommandTerminator{Command: writeScript(t, "killall", "exec sleep 5")}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := term.Terminate(ctx, "privoxy")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("terminate did not honour the deadline")
	}
}
