package master

import (
	"context"
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/transport"
	"k8s.io/klog/v2"
)

func newTestMaster(t *testing.T, minDaemons int) *Master {
	t.Helper()
	cfg := config.New()
	cfg.ProfileFile = t.TempDir() + "/profile.txt"
	cfg.HistoryDir = ""
	m, err := New("CE", cfg, 0.9, minDaemons, klog.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestHandleGreetingRegistersDaemon(t *testing.T) {
	m := newTestMaster(t, 1)
	a, _ := transport.NewPipe()

	m.HandleGreeting(a, v1.NewGreeting(v1.RoleDaemon, "node0"))
	if len(m.daemonConn) != 1 {
		t.Fatalf("expected one registered daemon, got %d", len(m.daemonConn))
	}
}

func TestHandleJobFinishFromUnregisteredConnIsDropped(t *testing.T) {
	m := newTestMaster(t, 1)
	a, _ := transport.NewPipe()

	// Should log and return without panicking; no daemon ever greeted
	// on this connection.
	m.HandleJobFinish(a, v1.NewJobFinish(1, v1.Returns{ExitCode: 0}))
}

func TestDispatchWaitsForMinDaemons(t *testing.T) {
	m := newTestMaster(t, 2)
	a, _ := transport.NewPipe()
	m.HandleGreeting(a, v1.NewGreeting(v1.RoleDaemon, "node0"))

	if err := m.AddJobSequence("mg-16"); err != nil {
		t.Fatalf("AddJobSequence: %v", err)
	}
	if err := m.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if m.IsClean() {
		t.Fatalf("expected the job to remain pending until enough daemons register")
	}
}

func TestDispatchPlacesJobAndSendsNewJob(t *testing.T) {
	m := newTestMaster(t, 1)
	a, b := transport.NewPipe()
	m.HandleGreeting(a, v1.NewGreeting(v1.RoleDaemon, "node0"))

	if err := m.AddJobSequence("mg-16"); err != nil {
		t.Fatalf("AddJobSequence: %v", err)
	}
	if err := m.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	head, _, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if head != v1.HeadNewJob {
		t.Fatalf("head = %q, want %q", head, v1.HeadNewJob)
	}
}

func TestAddJobSequenceRejectsMalformedName(t *testing.T) {
	m := newTestMaster(t, 1)
	if err := m.AddJobSequence("mg"); err == nil {
		t.Fatalf("expected an error for a job name without a parallelism suffix")
	}
}
