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

// Package master implements the scheduler-core side of the protocol:
// accepting daemon/user greetings, folding job-finish reports into the
// job database, and emitting NewJob messages for every placement the
// scheduler commits. It is the Go counterpart of the original
// prototype's SSMaster, kept single-threaded per spec.md §5 by
// funneling every inbound frame through one dispatch loop.
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/cluster"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/history"
	"github.com/thu-pacman/stride-scheduler/pkg/jobdb"
	"github.com/thu-pacman/stride-scheduler/pkg/metrics"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/ce"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/cs"
	"github.com/thu-pacman/stride-scheduler/pkg/placement/ss"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
	"github.com/thu-pacman/stride-scheduler/pkg/scheduler"
	"github.com/thu-pacman/stride-scheduler/pkg/stats"
	"github.com/thu-pacman/stride-scheduler/pkg/transport"
	"k8s.io/klog/v2"
)

// ResolvePolicy maps a CLI algorithm name to its placement.Policy for
// the master. The simulator resolves its policy with its own copy of
// this switch.
func ResolvePolicy(name string, cfg *config.Config) (placement.Policy, error) {
	switch name {
	case "CE":
		return ce.New(), nil
	case "CS":
		return cs.New(), nil
	case "SS":
		return ss.New(cfg.Cluster.FreqFactor), nil
	default:
		return nil, fmt.Errorf("master: unknown placement policy %q", name)
	}
}

// Master owns one job database/scheduler pair and the bookkeeping
// needed to route JobFinish reports back to the daemon that sent them
// and NewJob launches out to the daemons a placement selected.
type Master struct {
	cfg     *config.Config
	cluster *cluster.Cluster
	db      *jobdb.Database
	sched   *scheduler.Scheduler
	logger  klog.Logger

	minDaemons   int
	defaultAlpha float64

	daemonConn map[v1.DaemonHandle]transport.Conn
	connDaemon map[transport.Conn]v1.DaemonHandle
}

// New builds a master using the named placement policy against the
// given config's profile file and, if cfg.HistoryDir is non-empty, an
// append-only history.log file inside that directory.
func New(algo string, cfg *config.Config, defaultAlpha float64, minDaemons int, logger klog.Logger, recorder *metrics.Recorder) (*Master, error) {
	policy, err := ResolvePolicy(algo, cfg)
	if err != nil {
		return nil, err
	}

	store, err := profile.Load(cfg.ProfileFile, cfg.Cluster.WaysPerNode+1, cfg.Profiling.SampleWays, logger)
	if err != nil {
		return nil, fmt.Errorf("master: loading profile store: %w", err)
	}

	var hist *history.Writer
	if cfg.HistoryDir != "" {
		hist, err = history.Create(cfg.HistoryDir + "/history.log")
		if err != nil {
			return nil, fmt.Errorf("master: creating history file: %w", err)
		}
	}

	cl := cluster.New(cfg.Cluster.CoresPerNode, cfg.Cluster.WaysPerNode, cfg.Cluster.MembwPerNode, logger)
	db := jobdb.New(cfg, cl, store, jobdb.WallClock{}, hist, logger)
	sched := scheduler.New(db, policy, cfg, recorder, logger)

	return &Master{
		cfg:          cfg,
		cluster:      cl,
		db:           db,
		sched:        sched,
		logger:       logger,
		minDaemons:   minDaemons,
		defaultAlpha: defaultAlpha,
		daemonConn:   make(map[v1.DaemonHandle]transport.Conn),
		connDaemon:   make(map[transport.Conn]v1.DaemonHandle),
	}, nil
}

// AddJobSequence submits a comma-separated list of job names (each
// carrying its own parallelism via a trailing "-N" suffix) using the
// master's default alpha, mirroring SSMaster.addJobSequence.
func (m *Master) AddJobSequence(jobs string) error {
	for _, name := range strings.Split(jobs, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		parallelism, err := v1.ParallelismOf(name)
		if err != nil {
			return err
		}
		m.db.AddUserJob(v1.JobAttr{
			JobName:     name,
			Framework:   v1.FrameworkOf(name),
			Parallelism: parallelism,
			Alpha:       m.defaultAlpha,
		})
	}
	return nil
}

// IsClean reports whether every submitted job has finished.
func (m *Master) IsClean() bool {
	return m.db.PendingCount() == 0 && m.db.RunningCount() == 0
}

// Stats summarizes the run so far, for a final results.txt line.
func (m *Master) Stats() stats.Summary {
	jobs := m.db.Jobs()
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
	return stats.BasicStats(recs, m.cfg.Cluster.CoresPerNode)
}

// HandleGreeting registers a newly connected daemon, or simply logs a
// user frontend's arrival (spec.md §6: only daemon greetings mutate
// the cluster inventory).
func (m *Master) HandleGreeting(conn transport.Conn, g v1.Greeting) {
	switch g.Role {
	case v1.RoleDaemon:
		handle := v1.NewDaemonHandle()
		m.daemonConn[handle] = conn
		m.connDaemon[conn] = handle
		m.db.AddDaemon(handle, g.Hostname)
		m.logger.Info("daemon registered", "hostname", g.Hostname)
	case v1.RoleUser:
		m.logger.Info("user connected", "hostname", g.Hostname)
	default:
		m.logger.Info("dropping greeting with unknown role", "role", g.Role)
	}
}

// HandleJobFinish folds one daemon's completion report into the job
// database. A JobFinish from a connection that never greeted as a
// daemon is a protocol violation: logged and dropped, per spec.md §7.
func (m *Master) HandleJobFinish(conn transport.Conn, jf v1.JobFinish) {
	handle, ok := m.connDaemon[conn]
	if !ok {
		m.logger.Info("dropping JobFinish from an unregistered connection", "jobid", jf.JobID)
		return
	}
	m.db.DaemonFinishJob(handle, jf.JobID, jf.Returns)
}

// HandleMessage dispatches one decoded frame by its head field. It is
// the unit the accept loop and tests both drive.
func (m *Master) HandleMessage(conn transport.Conn, head string, body []byte) error {
	switch head {
	case v1.HeadGreeting:
		var g v1.Greeting
		if err := json.Unmarshal(body, &g); err != nil {
			return fmt.Errorf("master: decoding Greeting: %w", err)
		}
		m.HandleGreeting(conn, g)
	case v1.HeadJobFinish:
		var jf v1.JobFinish
		if err := json.Unmarshal(body, &jf); err != nil {
			return fmt.Errorf("master: decoding JobFinish: %w", err)
		}
		m.HandleJobFinish(conn, jf)
	default:
		m.logger.Info("dropping message with unknown head", "head", head)
	}
	return nil
}

// Dispatch asks the scheduler for the next placement, if enough
// daemons have registered, and emits one NewJob per participating
// daemon. It is a no-op (not an error) when there is nothing to do.
func (m *Master) Dispatch(ctx context.Context) error {
	if len(m.daemonConn) < m.minDaemons {
		return nil
	}

	p, err := m.sched.NextJob(ctx)
	if err != nil {
		return fmt.Errorf("master: scheduling: %w", err)
	}
	if p == nil {
		return nil
	}

	job, ok := m.db.GetJob(p.JobID)
	if !ok {
		return fmt.Errorf("master: committed job %d vanished from the database", p.JobID)
	}

	affinity := make(map[string][]int, len(p.Alloc))
	for _, na := range p.Alloc {
		affinity[m.cluster.Hostname(na.Daemon)] = na.Cores
	}
	leadNode := m.cluster.Hostname(p.Alloc[0].Daemon)

	for _, na := range p.Alloc {
		conn, ok := m.daemonConn[na.Daemon]
		if !ok {
			return &ClusterProtocolFault{Msg: fmt.Sprintf("master: allocation referenced an unknown daemon %v", na.Daemon)}
		}
		spec := v1.JobSpec{
			JobID:     p.JobID,
			JobAttr:   job.Attr,
			CoreMap:   na.Cores,
			LLCWayMap: na.Ways,
			LeadNode:  leadNode,
			ToProfile: job.ToProfile,
			Affinity:  affinity,
		}
		if err := conn.Send(v1.NewNewJob(spec)); err != nil {
			m.logger.Error(err, "sending NewJob", "daemon", na.Daemon, "jobid", p.JobID)
		}
	}
	return nil
}

// ClusterProtocolFault reports an internal inconsistency between the
// cluster's committed allocation and the master's connection table —
// a programming error, not a recoverable protocol violation.
type ClusterProtocolFault struct{ Msg string }

func (f *ClusterProtocolFault) Error() string { return f.Msg }

// Serve accepts websocket connections on addr and drains them into
// the single dispatch loop until ctx is canceled or, after a frame has
// been handled, every submitted job has finished. Every frame is
// handled, then Dispatch is given a chance to place the next job, so
// the core never has two scheduling passes running concurrently.
func (m *Master) Serve(ctx context.Context, addr string) error {
	type frame struct {
		conn transport.Conn
		head string
		body []byte
		err  error
	}
	inbox := make(chan frame, 64)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Error(err, "websocket upgrade failed")
			return
		}
		conn := transport.NewConn(ws)
		go func() {
			for {
				head, body, err := conn.Recv(ctx)
				inbox <- frame{conn: conn, head: head, body: body, err: err}
				if err != nil {
					return
				}
			}
		}()
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	defer srv.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("master: http server: %w", err)
			}
			return nil
		case f := <-inbox:
			if f.err != nil {
				delete(m.daemonConn, m.connDaemon[f.conn])
				delete(m.connDaemon, f.conn)
				continue
			}
			if err := m.HandleMessage(f.conn, f.head, f.body); err != nil {
				m.logger.Error(err, "handling inbound message")
				continue
			}
			if err := m.Dispatch(ctx); err != nil {
				return err
			}
			if m.IsClean() {
				return nil
			}
		}
	}
}
