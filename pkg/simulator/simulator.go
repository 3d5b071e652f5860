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

// Package simulator drives the job database and scheduler against a
// submission trace using a discrete-event clock, exactly as the
// original prototype's SSSimulator did with a heapq-backed event set.
package simulator

import (
	"bufio"
	"container/heap"
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/jobdb"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/ce"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/cs"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/ss"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
	"github.com/thu-pacman/stride-scheduler/pkg/scheduler"
	"github.com/thu-pacman/stride-scheduler/pkg/stats"
	"k8s.io/klog/v2"
)

// TraceEntry is one submission: a program name (its trailing "-N" is
// the requested parallelism), the process count, the submit time and
// a trace-recorded standard duration (0 meaning "estimate it").
type TraceEntry struct {
	Program    string
	Nproc      int
	SubmitTime float64
	Duration   float64
}

// logicalClock is the simulator's own notion of time, advanced
// explicitly by Run rather than by the wall clock.
type logicalClock struct{ ts float64 }

func (c *logicalClock) Now() float64        { return c.ts }
func (c *logicalClock) tick()               { c.ts++ }
func (c *logicalClock) advanceTo(tt float64) { c.ts = tt }

type runningJob struct {
	finish  float64
	daemons []v1.DaemonHandle
}

// Simulator owns one job database and scheduler instance running
// against a synthetic trace instead of live daemon connections.
type Simulator struct {
	cfg      *config.Config
	cluster  *cluster.Cluster
	profiles *profile.Store
	db       *jobdb.Database
	sched    *scheduler.Scheduler
	clock    *logicalClock
	logger   klog.Logger

	trace   []TraceEntry
	pending map[v1.JobID]TraceEntry
	running map[v1.JobID]runningJob
}

func resolvePolicy(name string, cfg *config.Config) (placement.Policy, error) {
	switch name {
	case "CE":
		return ce.New(), nil
	case "CS":
		return cs.New(), nil
	case "SS":
		return ss.New(cfg.Cluster.FreqFactor), nil
	default:
		return nil, fmt.Errorf("simulator: unknown placement policy %q", name)
	}
}

// New builds a simulator using the named placement policy (CE, CS or
// SS) against a fresh in-memory profile store.
func New(algo string, logger klog.Logger) (*Simulator, error) {
	cfg := config.New()
	policy, err := resolvePolicy(algo, cfg)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "ss-simulate-profile-")
	if err != nil {
		return nil, fmt.Errorf("simulator: creating scratch profile dir: %w", err)
	}
	store, err := profile.Load(dir+"/profile.txt", cfg.Cluster.WaysPerNode+1, cfg.Profiling.SampleWays, logger)
	if err != nil {
		return nil, fmt.Errorf("simulator: loading profile store: %w", err)
	}

	cl := cluster.New(cfg.Cluster.CoresPerNode, cfg.Cluster.WaysPerNode, cfg.Cluster.MembwPerNode, logger)
	clock := &logicalClock{}
	db := jobdb.New(cfg, cl, store, clock, nil, logger)
	sched := scheduler.New(db, policy, cfg, nil, logger)

	return &Simulator{
		cfg:      cfg,
		cluster:  cl,
		profiles: store,
		db:       db,
		sched:    sched,
		clock:    clock,
		logger:   logger,
		pending:  make(map[v1.JobID]TraceEntry),
		running:  make(map[v1.JobID]runningJob),
	}, nil
}

// AddTrace appends entries to the pending trace, re-sorting by submit
// time.
func (s *Simulator) AddTrace(entries []TraceEntry) {
	s.trace = append(s.trace, entries...)
	sort.SliceStable(s.trace, func(i, j int) bool { return s.trace[i].SubmitTime < s.trace[j].SubmitTime })
}

// LoadTraceFile parses a comma-separated trace file, one
// "program,nproc,submittime,duration" entry per line, and adds it via
// AddTrace.
func (s *Simulator) LoadTraceFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("simulator: opening trace file %q: %w", path, err)
	}
	defer f.Close()

	var entries []TraceEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return fmt.Errorf("simulator: malformed trace line %q", line)
		}
		nproc, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return fmt.Errorf("simulator: parsing nproc in %q: %w", line, err)
		}
		submit, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return fmt.Errorf("simulator: parsing submittime in %q: %w", line, err)
		}
		duration, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
		if err != nil {
			return fmt.Errorf("simulator: parsing duration in %q: %w", line, err)
		}
		entries = append(entries, TraceEntry{
			Program:    strings.TrimSpace(fields[0]),
			Nproc:      nproc,
			SubmitTime: submit,
			Duration:   duration,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("simulator: reading trace file %q: %w", path, err)
	}
	s.AddTrace(entries)
	return nil
}

// AddFakeDaemons registers n synthetic worker nodes named
// prefix+index, for exercising the scheduler without real daemon
// connections.
func (s *Simulator) AddFakeDaemons(prefix string, n int) {
	for i := 0; i < n; i++ {
		s.db.AddDaemon(v1.NewDaemonHandle(), fmt.Sprintf("%s%d", prefix, i))
	}
}

func (s *Simulator) isClean() bool {
	return s.db.PendingCount() == 0 && s.db.RunningCount() == 0 && len(s.trace) == 0
}

// Run drives the simulation to completion: drain due submissions,
// place every job the scheduler can place, finish every job whose
// synthetic completion time has arrived, then advance the clock to
// the next event.
func (s *Simulator) Run(ctx context.Context, alpha float64) error {
	var events timeHeap
	for _, e := range s.trace {
		events = append(events, e.SubmitTime)
	}
	heap.Init(&events)

	for !s.isClean() {
		for len(s.trace) > 0 && s.trace[0].SubmitTime <= s.clock.Now() {
			entry := s.trace[0]
			s.trace = s.trace[1:]
			jobid := s.db.AddUserJob(v1.JobAttr{
				JobName:     entry.Program,
				Framework:   v1.FrameworkOf(entry.Program),
				Parallelism: entry.Nproc,
				Alpha:       alpha,
			})
			s.pending[jobid] = entry
		}

		for {
			p, err := s.sched.NextJob(ctx)
			if err != nil {
				return err
			}
			if p == nil {
				break
			}

			jt := s.pending[p.JobID]
			estTime := jt.Duration
			switch {
			case jt.Duration == 0 && p.Estimate != nil:
				estTime = p.Estimate.Time
			case jt.Duration != 0 && p.Estimate != nil:
				estTime = jt.Duration * p.Estimate.Ratio
			}

			finish := s.clock.Now() + estTime
			daemons := make([]v1.DaemonHandle, len(p.Alloc))
			for i, na := range p.Alloc {
				daemons[i] = na.Daemon
			}
			s.running[p.JobID] = runningJob{finish: finish, daemons: daemons}
			heap.Push(&events, finish+1)
		}

		for jobid, rj := range s.running {
			if rj.finish > s.clock.Now() {
				continue
			}
			for _, d := range rj.daemons {
				s.db.DaemonFinishJob(d, jobid, v1.Returns{ExitCode: 0})
			}
			delete(s.running, jobid)
			delete(s.pending, jobid)
		}

		if events.Len() > 0 {
			s.clock.advanceTo(heap.Pop(&events).(float64))
		} else {
			s.clock.tick()
		}
	}
	return nil
}

// Stats summarizes every completed job's wait/run time and the
// cluster's overall occupation.
func (s *Simulator) Stats() stats.Summary {
	jobs := s.db.Jobs()
	recs := make([]stats.Record, 0, len(jobs))
	for _, j := range jobs {
		if j.State != v1.StateCompleted {
			continue
		}
		recs = append(recs, stats.Record{
			JobID:       uint64(j.JobID),
			Submit:      j.Submit,
			Start:       j.Start,
			Finish:      j.Finish,
			Parallelism: j.Attr.Parallelism,
			NodeList:    j.NodeList,
		})
	}
	return stats.BasicStats(recs, s.cfg.Cluster.CoresPerNode)
}
