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

// Package ce implements the compact-exclusive placement policy: pack
// a job onto as few whole nodes as possible, never sharing a node's
// cache or bandwidth with another job.
package ce

import (
	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

// Policy is the compact-exclusive placement strategy.
type Policy struct{}

// New returns a compact-exclusive policy instance.
func New() *Policy { return &Policy{} }

// Name implements placement.Policy.
func (*Policy) Name() string { return "CE" }

// SortCandidates always returns exactly one candidate: scale 1,
// exclusive. Compact-exclusive never profiles.
func (*Policy) SortCandidates(parallelism int, alpha float64, profiles map[int]profile.Entry) []placement.Candidate {
	return []placement.Candidate{{
		Parallelism: parallelism,
		Scale:       1,
		Mode:        v1.ModeExclusive,
		Alpha:       alpha,
		ToProfile:   false,
	}}
}

// CalculateResourceDemand claims whole nodes: every core and every
// LLC way, plus the node's full memory bandwidth.
func (*Policy) CalculateResourceDemand(c placement.Candidate, coresPerNode, waysPerNode int, membwPerNode float64) placement.Demand {
	n, coresPerJobNode, ok := placement.CommonDemand(c.Parallelism, c.Scale, coresPerNode)
	if !ok {
		return placement.Demand{}
	}
	// Exclusive mode reserves a node's entire cache and bandwidth even
	// when the job's own core count is smaller than the node.
	return placement.Demand{N: n, C: coresPerJobNode, W: waysPerNode, B: membwPerNode}
}

// Estimate uses the scale-1 profile entry if one exists.
func (*Policy) Estimate(profiles map[int]profile.Entry, scale, w int, freqFactor map[int]float64) *v1.Estimate {
	e, ok := profiles[1]
	if !ok {
		return nil
	}
	return &v1.Estimate{Time: e.Time, Ratio: 1}
}
