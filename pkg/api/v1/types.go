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

// Package v1 defines the wire types and job attributes shared by the
// master, the worker daemons and the simulator.
package v1

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// JobID uniquely identifies a submitted job. It is assigned in
// monotonically increasing order by the job database.
type JobID uint64

// DaemonHandle identifies a registered worker node. It is stable for
// the lifetime of a daemon's connection to the master.
type DaemonHandle uuid.UUID

// NewDaemonHandle mints a fresh handle for a daemon greeting.
func NewDaemonHandle() DaemonHandle {
	return DaemonHandle(uuid.New())
}

func (d DaemonHandle) String() string {
	return uuid.UUID(d).String()
}

// Framework is the runtime used to launch a job's processes.
type Framework string

const (
	FrameworkMPI        Framework = "MPI"
	FrameworkSpark      Framework = "Spark"
	FrameworkTensorFlow Framework = "TensorFlow"
)

// Mode describes whether a placement owns its nodes' cache/bandwidth
// exclusively or shares them with other jobs.
type Mode string

const (
	ModeExclusive Mode = "exclusive"
	ModeShare     Mode = "share"
)

// LifecycleState is a job's position in the pending/running/completed
// state machine.
type LifecycleState string

const (
	StatePending   LifecycleState = "pending"
	StateRunning   LifecycleState = "running"
	StateCompleted LifecycleState = "completed"
)

// JobAttr holds the immutable attributes of a job as submitted by a
// user or trace entry.
type JobAttr struct {
	// JobName encodes both the binary to run and the requested
	// parallelism in its trailing "-N" suffix, e.g. "mg-16".
	JobName string `json:"jobname"`
	// Framework is the runtime used to launch the job.
	Framework Framework `json:"framework"`
	// Parallelism is the total number of processes requested.
	Parallelism int `json:"parallelism"`
	// Alpha is the tolerable IPC fraction under cache sharing, in (0,1].
	Alpha float64 `json:"alpha"`
}

// ProgramOf strips the trailing "-N" parallelism suffix from a job
// name, leaving the program identity used as a profile-store key.
func ProgramOf(jobname string) string {
	idx := strings.LastIndex(jobname, "-")
	if idx < 0 {
		return jobname
	}
	if _, err := strconv.Atoi(jobname[idx+1:]); err != nil {
		return jobname
	}
	return jobname[:idx]
}

// ParallelismOf parses the trailing "-N" parallelism suffix from a
// job name, the inverse of ProgramOf.
func ParallelismOf(jobname string) (int, error) {
	idx := strings.LastIndex(jobname, "-")
	if idx < 0 {
		return 0, fmt.Errorf("v1: job name %q has no -N parallelism suffix", jobname)
	}
	n, err := strconv.Atoi(jobname[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("v1: parsing parallelism in %q: %w", jobname, err)
	}
	return n, nil
}

// FrameworkOf classifies a job name by its executable prefix, the way
// the original prototype's master and simulator entrypoints did.
// TensorFlow examples are named "gan"/"rnn"; Spark examples are named
// "ts"/"nw"/"wc"; everything else is assumed to be an MPI program.
func FrameworkOf(jobname string) Framework {
	exe, _, _ := strings.Cut(jobname, "-")
	switch exe {
	case "gan", "rnn":
		return FrameworkTensorFlow
	case "ts", "nw", "wc":
		return FrameworkSpark
	default:
		return FrameworkMPI
	}
}

// Estimate is a policy's predicted runtime for a chosen placement,
// plus the ratio of that runtime to the program's scale-1 baseline
// (used by the simulator to scale a trace's standard duration).
type Estimate struct {
	Time  float64
	Ratio float64
}

// Returns is the per-daemon payload reported on job completion.
type Returns struct {
	ExitCode int       `json:"exitcode"`
	IPCs     []float64 `json:"ipcs,omitempty"`
	MBWs     []float64 `json:"mbws,omitempty"`
}

// Role identifies the kind of peer sending a Greeting.
type Role string

const (
	RoleDaemon Role = "daemon"
	RoleUser   Role = "user"
)

// Message heads, matching the original protocol's HEAD_* constants.
const (
	HeadGreeting  = "Greeting"
	HeadJobFinish = "JobFinish"
	HeadNewJob    = "NewJob"
)

// Greeting is sent by a newly connected peer to identify itself.
type Greeting struct {
	Head     string `json:"head"`
	Role     Role   `json:"role"`
	Hostname string `json:"hostname"`
}

// NewGreeting builds a Greeting message with the head field populated.
func NewGreeting(role Role, hostname string) Greeting {
	return Greeting{Head: HeadGreeting, Role: role, Hostname: hostname}
}

// JobFinish is sent by a daemon when its share of a job completes.
type JobFinish struct {
	Head    string  `json:"head"`
	JobID   JobID   `json:"jobid"`
	Returns Returns `json:"returns"`
}

// NewJobFinish builds a JobFinish message with the head field populated.
func NewJobFinish(jobid JobID, returns Returns) JobFinish {
	return JobFinish{Head: HeadJobFinish, JobID: jobid, Returns: returns}
}

// JobSpec is the per-daemon launch specification carried by a NewJob
// message. Affinity maps hostname to that node's core indices so the
// lead node can assemble a distributed launch command.
type JobSpec struct {
	JobID     JobID           `json:"jobid"`
	JobAttr   JobAttr         `json:"jobattr"`
	CoreMap   []int           `json:"coremap"`
	LLCWayMap []int           `json:"llcwaymap"`
	LeadNode  string          `json:"leadnode"`
	ToProfile bool            `json:"toprofile"`
	Affinity  map[string][]int `json:"affinity"`
}

// NewJob is emitted by the master to a daemon to launch a job.
type NewJob struct {
	Head    string  `json:"head"`
	JobSpec JobSpec `json:"jobspec"`
}

// NewNewJob builds a NewJob message with the head field populated.
func NewNewJob(spec JobSpec) NewJob {
	return NewJob{Head: HeadNewJob, JobSpec: spec}
}
