/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package jobdb owns job lifecycle state: pending/running/completed
// records, stride-scheduler priority aging, and the two placement
// gates that run before a candidate reaches the cluster model.
package jobdb

import (
	"fmt"
	"sort"
	"time"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/history"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
	"k8s.io/klog/v2"
)

// Clock abstracts wall-clock vs. simulated time, so the same database
// serves both the live master and the discrete-event simulator.
type Clock interface {
	Now() float64
}

// WallClock reports real elapsed time in fractional seconds.
type WallClock struct{}

// Now implements Clock.
func (WallClock) Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

type priorityEntry struct {
	value     float64
	stride    float64
	lastCheck float64
}

type jobRecord struct {
	attr  v1.JobAttr
	state v1.LifecycleState

	submit, start, finish float64
	est                   *v1.Estimate

	ncwb      history.NCWB
	scale     int
	mode      v1.Mode
	toProfile bool

	alloc              cluster.Allocation
	nodes              []v1.DaemonHandle
	outstandingDaemons map[v1.DaemonHandle]bool
	returns            []v1.Returns
}

// Database owns all job state and the handles to the cluster model
// and profile store it mutates on allocate/free/finish.
type Database struct {
	cfg      *config.Config
	cluster  *cluster.Cluster
	profiles *profile.Store
	clock    Clock
	hist     *history.Writer
	logger   klog.Logger

	nextID  v1.JobID
	pending []v1.JobID
	jobs    map[v1.JobID]*jobRecord
	pri     map[v1.JobID]*priorityEntry

	daemons map[v1.DaemonHandle]bool
}

// New constructs an empty job database bound to a cluster and profile
// store. hist may be nil to disable history logging (the simulator
// always passes nil, per spec.md §6 "optional, off for simulation").
func New(cfg *config.Config, cl *cluster.Cluster, profiles *profile.Store, clock Clock, hist *history.Writer, logger klog.Logger) *Database {
	return &Database{
		cfg:      cfg,
		cluster:  cl,
		profiles: profiles,
		clock:    clock,
		hist:     hist,
		logger:   logger,
		jobs:     make(map[v1.JobID]*jobRecord),
		pri:      make(map[v1.JobID]*priorityEntry),
		daemons:  make(map[v1.DaemonHandle]bool),
	}
}

// PendingCount reports how many jobs are waiting for placement.
func (d *Database) PendingCount() int { return len(d.pending) }

// NodeCount reports how many daemons have registered with the
// cluster, so callers can short-circuit scheduling before any node
// exists.
func (d *Database) NodeCount() int { return d.cluster.NodeCount() }

// RunningCount reports how many jobs currently hold resources.
func (d *Database) RunningCount() int {
	n := 0
	for _, j := range d.jobs {
		if j.state == v1.StateRunning {
			n++
		}
	}
	return n
}

// AddDaemon registers a worker node. A second Greeting for the same
// daemon handle is a protocol violation and, per spec.md §7, a fatal
// programming error.
func (d *Database) AddDaemon(daemon v1.DaemonHandle, hostname string) {
	if d.daemons[daemon] {
		panic(fmt.Sprintf("jobdb: duplicate registration for daemon %v", daemon))
	}
	d.daemons[daemon] = true
	d.cluster.AddNode(daemon, hostname)
	d.logger.V(2).Info("daemon added", "daemon", daemon, "hostname", hostname)
}

// AddUserJob enqueues a new pending job and returns its id.
func (d *Database) AddUserJob(attr v1.JobAttr) v1.JobID {
	jobid := d.nextID
	d.nextID++

	now := d.clock.Now()
	d.jobs[jobid] = &jobRecord{
		attr:  attr,
		state: v1.StatePending,
		submit: now,
	}
	d.pri[jobid] = &priorityEntry{value: 0, stride: d.cfg.Database.DefaultStride, lastCheck: now}
	d.pending = append(d.pending, jobid)

	d.logger.V(3).Info("job added", "jobid", jobid, "jobname", attr.JobName)
	return jobid
}

// MostPriorJob advances every pending job's priority value, then
// returns the job with the highest value-jobid, breaking ties toward
// the lower jobid (FIFO), per spec.md §3.
func (d *Database) MostPriorJob() (v1.JobID, error) {
	if len(d.pending) == 0 {
		return 0, ErrNoPendingJobs
	}

	now := d.clock.Now()
	for _, jobid := range d.pending {
		p := d.pri[jobid]
		p.value += p.stride * (now - p.lastCheck)
		p.lastCheck = now
	}

	sort.SliceStable(d.pending, func(i, j int) bool {
		a, b := d.pending[i], d.pending[j]
		sa := d.pri[a].value - float64(a)
		sb := d.pri[b].value - float64(b)
		return sa > sb
	})
	return d.pending[0], nil
}

// GetProfile returns the (parallelism, alpha, known curves) tuple the
// placement policies need to build candidates for jobid.
func (d *Database) GetProfile(jobid v1.JobID) (int, float64, map[int]profile.Entry) {
	j := d.jobs[jobid]
	return j.attr.Parallelism, j.attr.Alpha, d.profiles.Get(v1.ProgramOf(j.attr.JobName))
}

// AllocateFor applies the two policy gates from spec.md §4.C before
// delegating to the cluster's search, and records the chosen tuple in
// the job's pending history on success.
func (d *Database) AllocateFor(jobid v1.JobID, n, c, w int, b float64, scale int, mode v1.Mode, toprofile bool) (cluster.Allocation, bool) {
	j := d.jobs[jobid]

	if j.attr.Framework == v1.FrameworkTensorFlow && scale != 1 {
		return nil, false
	}
	// The original's allocateFor gates on the computed node count N,
	// not the raw parallelism P; spec.md's prose says "P > 32" but
	// original_source/SSdatabase.py compares N. Followed here per the
	// ambiguity-resolution rule (see DESIGN.md).
	if n > 32 && scale > 1 && float64(n)/float64(scale) > 0.5*float64(d.cluster.NodeCount()) {
		return nil, false
	}

	alloc, ok := d.cluster.Search(n, cluster.PerNodeReq{Cores: c, Ways: w, Membw: b})
	if !ok {
		return nil, false
	}

	j.alloc = alloc
	j.ncwb = history.NCWB{N: n, C: c, W: w, B: b}
	j.scale = scale
	j.mode = mode
	j.toProfile = toprofile
	return alloc, true
}

// JobStart commits the allocation previously computed by AllocateFor,
// moves the job from pending to running, and resets every pending
// job's stride to the default (starvation recovery), per spec.md §4.C.
func (d *Database) JobStart(jobid v1.JobID, est *v1.Estimate) {
	j := d.jobs[jobid]
	d.cluster.ResourceAlloc(j.alloc, jobid)

	j.nodes = make([]v1.DaemonHandle, len(j.alloc))
	j.outstandingDaemons = make(map[v1.DaemonHandle]bool, len(j.alloc))
	for i, na := range j.alloc {
		j.nodes[i] = na.Daemon
		j.outstandingDaemons[na.Daemon] = true
	}

	j.state = v1.StateRunning
	j.start = d.clock.Now()
	j.est = est

	removePending(&d.pending, jobid)
	for _, p := range d.pri {
		p.stride = d.cfg.Database.DefaultStride
	}

	estTime := -1.0
	if est != nil {
		estTime = est.Time
	}
	d.logger.Info("job started", "jobid", jobid, "jobname", j.attr.JobName, "scale", j.scale, "ncwb", j.ncwb, "estTime", estTime)
}

// JobStuck demotes jobid's stride so other pending jobs can overtake
// it; called whenever AllocateFor failed for the current top job.
func (d *Database) JobStuck(jobid v1.JobID) {
	d.pri[jobid].stride = d.cfg.Database.SlowStride
}

// DaemonFinishJob removes daemon from jobid's outstanding set; once
// every assigned daemon has reported, the job is finished.
func (d *Database) DaemonFinishJob(daemon v1.DaemonHandle, jobid v1.JobID, returns v1.Returns) {
	j := d.jobs[jobid]
	delete(j.outstandingDaemons, daemon)
	j.returns = append(j.returns, returns)
	if len(j.outstandingDaemons) == 0 {
		d.jobFinish(jobid)
	}
}

// DaemonLost marks jobid failed because one of its daemons
// disconnected mid-run, resolving spec.md §9's open question: the job
// is not automatically rescheduled, only marked failed and released.
func (d *Database) DaemonLost(daemon v1.DaemonHandle, jobid v1.JobID) {
	j := d.jobs[jobid]
	delete(j.outstandingDaemons, daemon)
	j.returns = append(j.returns, v1.Returns{ExitCode: -1})
	d.jobFinish(jobid)
}

func (d *Database) jobFinish(jobid v1.JobID) {
	j := d.jobs[jobid]
	j.finish = d.clock.Now()

	exitcode := 0
	for _, r := range j.returns {
		if r.ExitCode != 0 {
			exitcode = r.ExitCode
			break
		}
	}

	jobTime := j.finish - j.start
	if j.toProfile {
		program := v1.ProgramOf(j.attr.JobName)
		if _, inserted, err := d.profiles.RecordFinish(program, j.scale, jobTime, j.returns); err != nil {
			d.logger.Error(err, "profile store write failed; continuing in memory-only mode", "jobid", jobid)
		} else if inserted {
			d.logger.V(3).Info("profile recorded", "program", program, "scale", j.scale)
		}
	}

	if d.hist != nil {
		nodelist := make([]string, len(j.nodes))
		for i, h := range j.nodes {
			nodelist[i] = d.cluster.Hostname(h)
		}
		sort.Strings(nodelist)
		rec := history.Record{
			JobAttr:    j.attr,
			SubmitTime: j.submit,
			StartTime:  j.start,
			FinishTime: j.finish,
			NodeList:   nodelist,
			NCWB:       j.ncwb,
			Scale:      j.scale,
			Mode:       j.mode,
			ToProfile:  j.toProfile,
		}
		if err := d.hist.Append(jobid, rec); err != nil {
			d.logger.Error(err, "history append failed", "jobid", jobid)
		}
	}

	d.cluster.ResourceFree(j.alloc)
	j.state = v1.StateCompleted

	if exitcode != 0 {
		d.logger.Error(fmt.Errorf("job exited non-zero"), "job finished with error", "jobid", jobid, "exitcode", exitcode, "runtime", jobTime)
	} else {
		d.logger.Info("job finished", "jobid", jobid, "runtime", jobTime)
	}
}

// Job returns a read-only snapshot of a job's bookkeeping state, used
// by the simulator and stats packages.
type Job struct {
	JobID                 v1.JobID
	Attr                  v1.JobAttr
	State                 v1.LifecycleState
	Submit, Start, Finish float64
	NodeList              []string
	Scale                 int
	Mode                  v1.Mode
	ToProfile             bool
}

// GetJob returns a snapshot of a single job record, for callers (the
// master's dispatch loop) that need a committed job's attributes and
// node list without scanning every job the database has ever seen.
func (d *Database) GetJob(jobid v1.JobID) (Job, bool) {
	j, ok := d.jobs[jobid]
	if !ok {
		return Job{}, false
	}
	nodelist := make([]string, len(j.nodes))
	for i, h := range j.nodes {
		nodelist[i] = d.cluster.Hostname(h)
	}
	return Job{
		JobID:     jobid,
		Attr:      j.attr,
		State:     j.state,
		Submit:    j.submit,
		Start:     j.start,
		Finish:    j.finish,
		NodeList:  nodelist,
		Scale:     j.scale,
		Mode:      j.mode,
		ToProfile: j.toProfile,
	}, true
}

// Jobs returns a snapshot of every job the database has ever seen, in
// submission order.
func (d *Database) Jobs() []Job {
	ids := make([]v1.JobID, 0, len(d.jobs))
	for id := range d.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j := d.jobs[id]
		nodelist := make([]string, len(j.nodes))
		for i, h := range j.nodes {
			nodelist[i] = d.cluster.Hostname(h)
		}
		out = append(out, Job{
			JobID:     id,
			Attr:      j.attr,
			State:     j.state,
			Submit:    j.submit,
			Start:     j.start,
			Finish:    j.finish,
			NodeList:  nodelist,
			Scale:     j.scale,
			Mode:      j.mode,
			ToProfile: j.toProfile,
		})
	}
	return out
}

func removePending(pending *[]v1.JobID, jobid v1.JobID) {
	p := *pending
	for i, id := range p {
		if id == jobid {
			*pending = append(p[:i], p[i+1:]...)
			return
		}
	}
}
