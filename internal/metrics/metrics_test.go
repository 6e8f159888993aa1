package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ppiankov/proxyvisor/internal/reconciler"
	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

func TestRecordReconcile(t *testing.T) {
	Register()

	before := testutil.ToFloat64(reconciliations.WithLabelValues("applied"))
	RecordReconcile(reconciler.Result{Outcome: reconciler.OutcomeApplied, Action: reconciler.ActionStart, Duration: 20 * time.Millisecond})
	RecordReconcile(reconciler.Result{Outcome: reconciler.OutcomeApplied, Action: reconciler.ActionRestart, ActionErr: errors.New("boom")})

	if got := testutil.ToFloat64(reconciliations.WithLabelValues("applied")) - before; got != 2 {
		t.Errorf("applied delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(actionFailures.WithLabelValues("restart")); got < 1 {
		t.Errorf("restart failures = %v", got)
	}
}

func TestRecordProcess(t *testing.T) {
	Register()

	startsBefore := testutil.ToFloat64(proxyStarts)
	stopsBefore := testutil.ToFloat64(proxyStops)

	base := tracker.starts
	baseStops := tracker.stops
	RecordProcess(supervisor.Status{Running: true, Starts: base + 1, Stops: baseStops})
	if testutil.ToFloat64(proxyRunning) != 1 {
		t.Error("proxy_running should be 1")
	}
	RecordProcess(supervisor.Status{Running: false, Starts: base + 1, Stops: baseStops + 1})
	RecordProcess(supervisor.Status{Running: true, Starts: base + 2, Stops: baseStops + 1})

	if got := testutil.ToFloat64(proxyStarts) - startsBefore; got != 2 {
		t.Errorf("starts delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(proxyStops) - stopsBefore; got != 1 {
		t.Errorf("stops delta = %v, want 1", got)
	}
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(3)
	if got := testutil.ToFloat64(queueDepth); got != 3 {
		t.Errorf("queue depth = %v", got)
	}
	SetQueueDepth(0)
}

func TestServerExposesMetrics(t *testing.T) {
	Register()
	RecordReconcile(reconciler.Result{Outcome: reconciler.OutcomeInvalid})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(ln.Addr().String(), nil).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		`proxyvisor_reconciliations_total{outcome="invalid"}`,
		"proxyvisor_proxy_running",
		"proxyvisor_queue_depth",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
