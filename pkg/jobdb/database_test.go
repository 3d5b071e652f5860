package jobdb

import (
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
	"k8s.io/klog/v2"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct{ t float64 }

func (c *fakeClock) Now() float64 { return c.t }

func newTestDB(t *testing.T, nodes int) (*Database, *fakeClock, []v1.DaemonHandle) {
	t.Helper()
	cfg := config.New()
	cl := cluster.New(cfg.Cluster.CoresPerNode, cfg.Cluster.WaysPerNode, cfg.Cluster.MembwPerNode, klog.Background())

	dir := t.TempDir()
	store, err := profile.Load(dir+"/profile.txt", cfg.Cluster.WaysPerNode+1, cfg.Profiling.SampleWays, klog.Background())
	if err != nil {
		t.Fatalf("profile.Load: %v", err)
	}

	clock := &fakeClock{t: 0}
	db := New(cfg, cl, store, clock, nil, klog.Background())

	handles := make([]v1.DaemonHandle, nodes)
	for i := 0; i < nodes; i++ {
		h := v1.NewDaemonHandle()
		handles[i] = h
		db.AddDaemon(h, "node")
	}
	return db, clock, handles
}

func TestAddDaemonPanicsOnDuplicate(t *testing.T) {
	db, _, handles := newTestDB(t, 1)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate daemon registration")
		}
	}()
	db.AddDaemon(handles[0], "node")
}

func TestMostPriorJobReturnsErrWhenEmpty(t *testing.T) {
	db, _, _ := newTestDB(t, 1)
	if _, err := db.MostPriorJob(); err != ErrNoPendingJobs {
		t.Fatalf("expected ErrNoPendingJobs, got %v", err)
	}
}

func TestMostPriorJobFIFOWhenTied(t *testing.T) {
	db, _, _ := newTestDB(t, 1)
	a := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})
	b := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})

	got, err := db.MostPriorJob()
	if err != nil {
		t.Fatalf("MostPriorJob: %v", err)
	}
	if got != a {
		t.Fatalf("expected earlier job %d to win the tie, got %d", a, got)
	}
	_ = b
}

func TestMostPriorJobAgesOlderJobAhead(t *testing.T) {
	db, clock, _ := newTestDB(t, 1)
	older := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})
	clock.t = 10
	newer := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})

	clock.t = 20
	got, err := db.MostPriorJob()
	if err != nil {
		t.Fatalf("MostPriorJob: %v", err)
	}
	if got != older {
		t.Fatalf("expected the job that waited longer (%d) to win, got %d (newer=%d)", older, got, newer)
	}
}

func TestJobStuckLetsAnotherJobOvertake(t *testing.T) {
	db, clock, _ := newTestDB(t, 1)
	stuck := db.AddUserJob(v1.JobAttr{JobName: "mg-32", Parallelism: 32, Alpha: 0.8})

	clock.t = 1
	if got, _ := db.MostPriorJob(); got != stuck {
		t.Fatalf("expected the only job to be most prior")
	}
	db.JobStuck(stuck)

	rival := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})
	clock.t = 11
	got, err := db.MostPriorJob()
	if err != nil {
		t.Fatalf("MostPriorJob: %v", err)
	}
	if got != rival {
		t.Fatalf("expected demoted job's stride to let %d overtake %d, got %d", rival, stuck, got)
	}
}

func TestAllocateForRejectsTensorFlowAboveScaleOne(t *testing.T) {
	db, _, _ := newTestDB(t, 1)
	job := db.AddUserJob(v1.JobAttr{JobName: "gan-4", Framework: v1.FrameworkTensorFlow, Parallelism: 4, Alpha: 0.8})

	if _, ok := db.AllocateFor(job, 1, 4, 2, 10, 2, v1.ModeShare, false); ok {
		t.Fatalf("expected TensorFlow job to be rejected at scale 2")
	}
	if _, ok := db.AllocateFor(job, 1, 4, 2, 10, 1, v1.ModeShare, false); !ok {
		t.Fatalf("expected TensorFlow job to be allowed at scale 1")
	}
}

func TestAllocateForAcceptsSpreadBelowBigJobGate(t *testing.T) {
	db, _, _ := newTestDB(t, 4)
	job := db.AddUserJob(v1.JobAttr{JobName: "mg-64", Parallelism: 64, Alpha: 0.8})

	// The spread gate only applies when N > 32; N=3 at scale 2 stays
	// below it, so the 4-node cluster search decides and succeeds.
	if _, ok := db.AllocateFor(job, 3, 4, 2, 10, 2, v1.ModeShare, false); !ok {
		t.Fatalf("expected a feasible N=3 allocation at scale 2 to be accepted")
	}
}

func TestJobLifecycleRunsToCompletion(t *testing.T) {
	db, clock, _ := newTestDB(t, 1)
	job := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Framework: v1.FrameworkMPI, Parallelism: 4, Alpha: 0.8})

	alloc, ok := db.AllocateFor(job, 1, 4, 2, 10, 1, v1.ModeExclusive, true)
	if !ok {
		t.Fatalf("expected allocation to succeed")
	}

	clock.t = 5
	db.JobStart(job, &v1.Estimate{Time: 100, Ratio: 1})
	if db.PendingCount() != 0 {
		t.Fatalf("expected job to leave the pending queue on start")
	}
	if db.RunningCount() != 1 {
		t.Fatalf("expected one running job")
	}

	clock.t = 105
	for _, na := range alloc {
		db.DaemonFinishJob(na.Daemon, job, v1.Returns{ExitCode: 0, IPCs: []float64{0, 1.0, 1.2, 1.3}, MBWs: []float64{0, 10, 15, 18}})
	}

	jobs := db.Jobs()
	if len(jobs) != 1 || jobs[0].State != v1.StateCompleted {
		t.Fatalf("expected job to be completed, got %+v", jobs)
	}

	if _, _, curves := db.GetProfile(job); len(curves) == 0 {
		t.Fatalf("expected toProfile job to populate the profile store")
	}
}

func TestDaemonLostMarksJobFailedWithoutRequeue(t *testing.T) {
	db, clock, _ := newTestDB(t, 1)
	job := db.AddUserJob(v1.JobAttr{JobName: "mg-4", Parallelism: 4, Alpha: 0.8})
	alloc, ok := db.AllocateFor(job, 1, 4, 2, 10, 1, v1.ModeExclusive, false)
	if !ok {
		t.Fatalf("expected allocation to succeed")
	}
	clock.t = 1
	db.JobStart(job, nil)

	clock.t = 2
	db.DaemonLost(alloc[0].Daemon, job)

	jobs := db.Jobs()
	if jobs[0].State != v1.StateCompleted {
		t.Fatalf("expected lost job to be marked completed (terminal), got %v", jobs[0].State)
	}
	if db.PendingCount() != 0 {
		t.Fatalf("expected no automatic requeue after daemon loss")
	}
}
