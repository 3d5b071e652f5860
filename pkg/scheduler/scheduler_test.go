package scheduler

import (
	"context"
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/jobdb"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/ce"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
	"k8s.io/klog/v2"
)

type fakeClock struct{ t float64 }

func (c *fakeClock) Now() float64 { return c.t }

func newTestScheduler(t *testing.T, nodes int) (*Scheduler, *jobdb.Database, *fakeClock) {
	t.Helper()
	cfg := config.New()
	cl := cluster.New(cfg.Cluster.CoresPerNode, cfg.Cluster.WaysPerNode, cfg.Cluster.MembwPerNode, klog.Background())
	dir := t.TempDir()
	store, err := profile.Load(dir+"/profile.txt", cfg.Cluster.WaysPerNode+1, cfg.Profiling.SampleWays, klog.Background())
	if err != nil {
		t.Fatalf("profile.Load: %v", err)
	}
	clock := &fakeClock{}
	db := jobdb.New(cfg, cl, store, clock, nil, klog.Background())
	for i := 0; i < nodes; i++ {
		db.AddDaemon(v1.NewDaemonHandle(), "node")
	}
	sched := New(db, ce.New(), cfg, nil, klog.Background())
	return sched, db, clock
}

func TestNextJobReturnsNilWhenNothingPending(t *testing.T) {
	sched, _, _ := newTestScheduler(t, 1)
	p, err := sched.NextJob(context.Background())
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", p, err)
	}
}

func TestNextJobCommitsFeasibleJob(t *testing.T) {
	sched, db, _ := newTestScheduler(t, 1)
	job := db.AddUserJob(v1.JobAttr{JobName: "mg-16", Framework: v1.FrameworkMPI, Parallelism: 16, Alpha: 0.9})

	p, err := sched.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob: %v", err)
	}
	if p == nil || p.JobID != job {
		t.Fatalf("expected job %d to be committed, got %+v", job, p)
	}
	if db.RunningCount() != 1 {
		t.Fatalf("expected one running job after commit")
	}
}

func TestNextJobReturnsNilWithoutAgingWhenNoNodesExist(t *testing.T) {
	sched, db, _ := newTestScheduler(t, 0)
	db.AddUserJob(v1.JobAttr{JobName: "mg-16", Framework: v1.FrameworkMPI, Parallelism: 16, Alpha: 0.9})

	p, err := sched.NextJob(context.Background())
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil) with no registered nodes, got (%+v, %v)", p, err)
	}
	if db.PendingCount() != 1 {
		t.Fatalf("expected the job to remain pending, untouched by aging or jobStuck")
	}
}

func TestNextJobMarksStuckWhenInfeasible(t *testing.T) {
	sched, db, _ := newTestScheduler(t, 1)
	// 30 exceeds a single node's 28 cores under compact-exclusive placement.
	db.AddUserJob(v1.JobAttr{JobName: "mg-30", Framework: v1.FrameworkMPI, Parallelism: 30, Alpha: 0.9})

	p, err := sched.NextJob(context.Background())
	if err != nil {
		t.Fatalf("NextJob: %v", err)
	}
	if p != nil {
		t.Fatalf("expected no placement for an infeasible job, got %+v", p)
	}
	if db.PendingCount() != 1 {
		t.Fatalf("expected the job to remain pending after being marked stuck")
	}
}
