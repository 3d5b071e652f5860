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

// Package cluster owns the per-node core/LLC-way/memory-bandwidth
// inventory and the search/allocate/free protocol used to place jobs.
package cluster

import (
	"fmt"

	"golang.org/x/exp/slices"
	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"k8s.io/klog/v2"
)

// freeSlot marks a core or LLC-way slot as unused.
const freeSlot = -1

// PerNodeReq is a single node's resource demand within a candidate.
type PerNodeReq struct {
	Cores int
	Ways  int
	Membw float64
}

// NodeAlloc is the portion of an Allocation assigned to one node.
type NodeAlloc struct {
	Daemon  v1.DaemonHandle
	Cores   []int
	Ways    []int
	Membw   float64
	Penalty float64
}

// Allocation is an ordered list of per-node reservations, one tuple
// per node participating in a job.
type Allocation []NodeAlloc

// ClusterFault reports a violated invariant: a programming error, per
// spec.md §7, that must abort the process rather than be recovered.
type ClusterFault struct {
	Msg string
}

func (f *ClusterFault) Error() string { return f.Msg }

func fault(format string, args ...any) {
	panic(&ClusterFault{Msg: fmt.Sprintf(format, args...)})
}

type node struct {
	hostname string
	core     []v1.JobID // freeSlot sentinel stored as -1 via coreFree
	coreFree []bool
	way      []v1.JobID
	wayFree  []bool
	membw    float64
}

func newNode(hostname string, cores, ways int, membw float64) *node {
	n := &node{
		hostname: hostname,
		core:     make([]v1.JobID, cores),
		coreFree: make([]bool, cores),
		way:      make([]v1.JobID, ways),
		wayFree:  make([]bool, ways),
		membw:    membw,
	}
	for i := range n.coreFree {
		n.coreFree[i] = true
	}
	for i := range n.wayFree {
		n.wayFree[i] = true
	}
	return n
}

func (n *node) freeCores() int {
	c := 0
	for _, f := range n.coreFree {
		if f {
			c++
		}
	}
	return c
}

func (n *node) freeWays() int {
	c := 0
	for _, f := range n.wayFree {
		if f {
			c++
		}
	}
	return c
}

// Cluster is a homogeneous pool of nodes, each with Ccore cores,
// Wnode LLC ways and Bnode GB/s of memory bandwidth.
type Cluster struct {
	coresPerNode int
	waysPerNode  int
	membwPerNode float64
	logger       klog.Logger

	nodes map[v1.DaemonHandle]*node
	order []v1.DaemonHandle
}

// New builds an empty cluster with the given per-node resource sizes.
func New(coresPerNode, waysPerNode int, membwPerNode float64, logger klog.Logger) *Cluster {
	return &Cluster{
		coresPerNode: coresPerNode,
		waysPerNode:  waysPerNode,
		membwPerNode: membwPerNode,
		logger:       logger,
		nodes:        make(map[v1.DaemonHandle]*node),
	}
}

// NodeCount returns how many nodes are registered.
func (c *Cluster) NodeCount() int { return len(c.nodes) }

// AddNode registers a node, idempotent by daemon handle: a repeated
// call for an already-known daemon is a no-op and leaves its current
// resource occupancy untouched, per spec.md §4.B.
func (c *Cluster) AddNode(daemon v1.DaemonHandle, hostname string) {
	if _, ok := c.nodes[daemon]; ok {
		return
	}
	c.nodes[daemon] = newNode(hostname, c.coresPerNode, c.waysPerNode, c.membwPerNode)
	c.order = append(c.order, daemon)
	c.logger.V(2).Info("node registered", "daemon", daemon, "hostname", hostname)
}

// Hostname returns the hostname a daemon registered with.
func (c *Cluster) Hostname(daemon v1.DaemonHandle) string {
	if n, ok := c.nodes[daemon]; ok {
		return n.hostname
	}
	return ""
}

// CoreMap returns the current core occupancy of a node, with
// freeSlot for unused slots, matching the wire jobspec's coremap.
func (c *Cluster) CoreMap(daemon v1.DaemonHandle) []int {
	n, ok := c.nodes[daemon]
	if !ok {
		return nil
	}
	return slotMap(n.core, n.coreFree)
}

// WayMap returns the current LLC-way occupancy of a node.
func (c *Cluster) WayMap(daemon v1.DaemonHandle) []int {
	n, ok := c.nodes[daemon]
	if !ok {
		return nil
	}
	return slotMap(n.way, n.wayFree)
}

func slotMap(ids []v1.JobID, free []bool) []int {
	out := make([]int, len(ids))
	for i := range ids {
		if free[i] {
			out[i] = freeSlot
		} else {
			out[i] = int(ids[i])
		}
	}
	return out
}

// nodeSatisfyReq reports whether a node can satisfy req, and if so
// the concrete slots it would use and the fragmentation penalty of
// choosing it. The 10x weight on ways makes cache capacity the scarce
// resource, matching spec.md §4.B.
func (c *Cluster) nodeSatisfyReq(n *node, req PerNodeReq) (NodeAlloc, bool) {
	if n.freeCores() < req.Cores {
		return NodeAlloc{}, false
	}
	if n.freeWays() < req.Ways {
		return NodeAlloc{}, false
	}
	if n.membw < req.Membw {
		return NodeAlloc{}, false
	}

	var penalty float64
	penalty += float64(len(n.core) - n.freeCores())
	penalty += 10 * float64(len(n.way)-n.freeWays())
	penalty += (c.membwPerNode - n.membw) / c.membwPerNode

	cores := make([]int, 0, req.Cores)
	for i, free := range n.coreFree {
		if len(cores) == req.Cores {
			break
		}
		if free {
			cores = append(cores, i)
		}
	}
	ways := make([]int, 0, req.Ways)
	for i, free := range n.wayFree {
		if len(ways) == req.Ways {
			break
		}
		if free {
			ways = append(ways, i)
		}
	}

	return NodeAlloc{Cores: cores, Ways: ways, Membw: req.Membw, Penalty: penalty}, true
}

// Search finds N nodes that satisfy perNodeReq, preferring emptier
// (lower-penalty) nodes, per spec.md §4.B. It short-circuits once N
// zero-penalty nodes have been found.
func (c *Cluster) Search(n int, req PerNodeReq) (Allocation, bool) {
	candidates := make([]NodeAlloc, 0, len(c.order))
	zeroPenalty := 0
	for _, daemon := range c.order {
		node := c.nodes[daemon]
		alloc, ok := c.nodeSatisfyReq(node, req)
		if !ok {
			continue
		}
		alloc.Daemon = daemon
		candidates = append(candidates, alloc)
		if alloc.Penalty == 0 {
			zeroPenalty++
		}
		if zeroPenalty >= n {
			break
		}
	}
	if len(candidates) < n {
		return nil, false
	}

	slices.SortStableFunc(candidates, func(a, b NodeAlloc) int {
		switch {
		case a.Penalty < b.Penalty:
			return -1
		case a.Penalty > b.Penalty:
			return 1
		default:
			return 0
		}
	})
	return Allocation(candidates[:n]), true
}

// ResourceAlloc stamps jobid into the selected slots and reserves
// bandwidth. Must be paired with exactly one ResourceFree.
func (c *Cluster) ResourceAlloc(alloc Allocation, jobid v1.JobID) {
	for _, na := range alloc {
		n, ok := c.nodes[na.Daemon]
		if !ok {
			fault("resourceAlloc: unknown daemon %v", na.Daemon)
		}
		for _, idx := range na.Cores {
			if !n.coreFree[idx] {
				fault("resourceAlloc: core %d on %v already held by job %d", idx, na.Daemon, n.core[idx])
			}
			n.coreFree[idx] = false
			n.core[idx] = jobid
		}
		for _, idx := range na.Ways {
			if !n.wayFree[idx] {
				fault("resourceAlloc: way %d on %v already held by job %d", idx, na.Daemon, n.way[idx])
			}
			n.wayFree[idx] = false
			n.way[idx] = jobid
		}
		n.membw -= na.Membw
		if n.membw < 0 {
			fault("resourceAlloc: negative membw on %v after reserving %v", na.Daemon, na.Membw)
		}
	}
}

// ResourceFree restores the slots and bandwidth claimed by alloc.
// Freeing a slot that is not held is a programming error.
func (c *Cluster) ResourceFree(alloc Allocation) {
	for _, na := range alloc {
		n, ok := c.nodes[na.Daemon]
		if !ok {
			fault("resourceFree: unknown daemon %v", na.Daemon)
		}
		for _, idx := range na.Cores {
			if n.coreFree[idx] {
				fault("resourceFree: core %d on %v was not held", idx, na.Daemon)
			}
			n.coreFree[idx] = true
			n.core[idx] = 0
		}
		for _, idx := range na.Ways {
			if n.wayFree[idx] {
				fault("resourceFree: way %d on %v was not held", idx, na.Daemon)
			}
			n.wayFree[idx] = true
			n.way[idx] = 0
		}
		n.membw += na.Membw
		if n.membw > c.membwPerNode+1e-9 {
			fault("resourceFree: membw on %v exceeds capacity after release", na.Daemon)
		}
	}
}
