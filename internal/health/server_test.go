package health

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient, context.CancelFunc, chan error) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(lis.Addr().String(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn), cancel, done
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestServingFollowsProcess(t *testing.T) {
	s, client, cancel, _ := startServer(t)
	defer cancel()

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("initial %q = %v", svc, got)
		}
	}

	s.RecordProcess(supervisor.Status{Running: true, PID: 10})
	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("running %q = %v", svc, got)
		}
	}

	s.RecordProcess(supervisor.Status{Running: false})
	if got := check(t, client, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("stopped = %v", got)
	}
}

func TestUnknownService(t *testing.T) {
	_, client, cancel, _ := startServer(t)
	defer cancel()

	ctx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCheck()
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "other"}); err == nil {
		t.Error("expected NotFound for unknown service")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	_, _, cancel, done := startServer(t)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
