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

// Package scheduler drives the single-job placement loop: pick the
// highest-priority pending job, try its policy's candidates in order,
// commit the first one the cluster can satisfy.
package scheduler

import (
	"context"
	"errors"
	"time"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/jobdb"
	"github.com/thu-pacman/stride-scheduler/pkg/metrics"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/trace"
	"k8s.io/klog/v2"
)

// Scheduler runs nextJob against one job database using one placement
// policy.
type Scheduler struct {
	db      *jobdb.Database
	policy  placement.Policy
	cfg     *config.Config
	metrics *metrics.Recorder
	logger  klog.Logger
}

// New builds a scheduler. metrics may be nil to disable recording
// (used by the simulator when run without a Prometheus registry).
func New(db *jobdb.Database, policy placement.Policy, cfg *config.Config, m *metrics.Recorder, logger klog.Logger) *Scheduler {
	return &Scheduler{db: db, policy: policy, cfg: cfg, metrics: m, logger: logger}
}

// Placement is a committed candidate: which job, on which nodes, with
// what predicted runtime. The simulator correlates Placement.JobID
// back to the trace entry it came from to schedule a synthetic
// finish.
type Placement struct {
	JobID    v1.JobID
	Alloc    cluster.Allocation
	Estimate *v1.Estimate
}

// NextJob implements the six-step nextJob algorithm: pick the most
// prior pending job, ask the policy for an ordered candidate list,
// commit the first candidate the cluster can satisfy. Returns a nil
// *Placement when there was nothing to do.
func (s *Scheduler) NextJob(ctx context.Context) (*Placement, error) {
	start := time.Now()
	_, span := trace.StartTick(ctx, s.policy.Name())

	outcome := metrics.OutcomeEmpty
	var jobid v1.JobID
	var tickErr error
	defer func() {
		trace.EndTick(span, uint64(jobid), outcome, tickErr)
		if s.metrics != nil {
			s.metrics.RecordTick(s.policy.Name(), outcome, time.Since(start).Seconds())
			s.metrics.SetQueueDepths(s.db.PendingCount(), s.db.RunningCount())
		}
	}()

	if s.db.PendingCount() == 0 || s.db.NodeCount() == 0 {
		return nil, nil
	}

	var err error
	jobid, err = s.db.MostPriorJob()
	if err != nil {
		if errors.Is(err, jobdb.ErrNoPendingJobs) {
			return nil, nil
		}
		tickErr = err
		return nil, err
	}

	parallelism, alpha, profiles := s.db.GetProfile(jobid)
	candidates := s.policy.SortCandidates(parallelism, alpha, profiles)

	for _, c := range candidates {
		demand := s.policy.CalculateResourceDemand(c, s.cfg.Cluster.CoresPerNode, s.cfg.Cluster.WaysPerNode, s.cfg.Cluster.MembwPerNode)
		if demand.N == 0 {
			continue
		}

		alloc, ok := s.db.AllocateFor(jobid, demand.N, demand.C, demand.W, demand.B, c.Scale, c.Mode, c.ToProfile)
		if !ok {
			continue
		}

		est := s.policy.Estimate(profiles, c.Scale, demand.W, s.cfg.Cluster.FreqFactor)
		s.db.JobStart(jobid, est)

		outcome = metrics.OutcomeCommitted
		s.logger.V(2).Info("job committed", "jobid", jobid, "policy", s.policy.Name(), "scale", c.Scale, "mode", c.Mode)
		return &Placement{JobID: jobid, Alloc: alloc, Estimate: est}, nil
	}

	s.db.JobStuck(jobid)
	outcome = metrics.OutcomeStuck
	s.logger.V(3).Info("job stuck", "jobid", jobid, "policy", s.policy.Name())
	return nil, nil
}
