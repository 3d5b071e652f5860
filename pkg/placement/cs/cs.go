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

// Package cs implements the compact-share placement policy: try
// increasing node scales in order, sharing each node's cache and
// bandwidth with whatever else is co-resident.
package cs

import (
	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

// Policy is the compact-share placement strategy.
type Policy struct {
	scales []int
}

// New returns a compact-share policy trying scales in ascending order
// (config.Scales by default: {1, 2, 4}).
func New() *Policy {
	return &Policy{scales: append([]int(nil), config.Scales...)}
}

// Name implements placement.Policy.
func (*Policy) Name() string { return "CS" }

// SortCandidates emits one share candidate per scale, ascending: prefer
// compact placement, spread only if nothing compact fits.
func (p *Policy) SortCandidates(parallelism int, alpha float64, profiles map[int]profile.Entry) []placement.Candidate {
	out := make([]placement.Candidate, 0, len(p.scales))
	for _, scale := range p.scales {
		out = append(out, placement.Candidate{
			Parallelism: parallelism,
			Scale:       scale,
			Mode:        v1.ModeShare,
			Alpha:       alpha,
			ToProfile:   false,
		})
	}
	return out
}

// CalculateResourceDemand shares cache and bandwidth: W=0, B=0.
func (*Policy) CalculateResourceDemand(c placement.Candidate, coresPerNode, waysPerNode int, membwPerNode float64) placement.Demand {
	n, coresPerJobNode, ok := placement.CommonDemand(c.Parallelism, c.Scale, coresPerNode)
	if !ok {
		return placement.Demand{}
	}
	return placement.Demand{N: n, C: coresPerJobNode, W: 0, B: 0}
}

// Estimate uses the scale-1 profile entry if one exists.
func (*Policy) Estimate(profiles map[int]profile.Entry, scale, w int, freqFactor map[int]float64) *v1.Estimate {
	e, ok := profiles[1]
	if !ok {
		return nil
	}
	return &v1.Estimate{Time: e.Time, Ratio: 1}
}
