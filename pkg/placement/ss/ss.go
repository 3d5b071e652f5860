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

// Package ss implements the spread-share placement policy: at each
// known scale, size an LLC-way reservation to the smallest footprint
// that keeps a job's IPC above a caller-chosen floor, falling back to
// an exclusive profiling run for any scale with no measured curve yet.
package ss

import (
	"sort"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/config"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

// Policy is the spread-share placement strategy.
type Policy struct {
	scales     []int
	freqFactor map[int]float64
}

// New returns a spread-share policy trying config.Scales, calibrated
// by the cluster's per-scale CPU-frequency-boost factors.
func New(freqFactor map[int]float64) *Policy {
	return &Policy{scales: append([]int(nil), config.Scales...), freqFactor: freqFactor}
}

// Name implements placement.Policy.
func (*Policy) Name() string { return "SS" }

func (p *Policy) factor(scale int) float64 {
	if f, ok := p.freqFactor[scale]; ok {
		return f
	}
	return 1
}

// SortCandidates emits a share candidate (with speedup-adjusted IPC
// curve) for every scale that already has a profile, and an exclusive
// profiling candidate for every scale that doesn't, ordered by a
// single sort key: predicted runtime for profiled candidates, the
// surrogate 1-0.1*scale for unprofiled ones.
func (p *Policy) SortCandidates(parallelism int, alpha float64, profiles map[int]profile.Entry) []placement.Candidate {
	type scored struct {
		key float64
		c   placement.Candidate
	}
	scale1, ok1 := profiles[1]

	all := make([]scored, 0, len(p.scales))
	for _, scale := range p.scales {
		e, ok := profiles[scale]
		// The original gates the entire share branch on scale-1 being
		// profiled: without a scale-1 baseline there is no speedup to
		// compute a share candidate's IPC curve from, so every scale
		// (even an individually-profiled one) falls back to exclusive
		// profiling until scale-1 is known.
		if ok && !ok1 {
			ok = false
		}
		if ok {
			speedup := 1.0
			if e.Time > 0 {
				speedup = scale1.Time / (e.Time * p.factor(scale))
			}
			ipcs := make([]float64, len(e.IPCs))
			for w, v := range e.IPCs {
				ipcs[w] = v * speedup
			}
			mbws := append([]float64(nil), e.MBWs...)

			all = append(all, scored{
				key: e.Time * p.factor(scale),
				c: placement.Candidate{
					Parallelism: parallelism,
					Scale:       scale,
					Mode:        v1.ModeShare,
					Alpha:       alpha,
					IPCs:        ipcs,
					MBWs:        mbws,
					ToProfile:   false,
				},
			})
		} else {
			all = append(all, scored{
				key: 1 - 0.1*float64(scale),
				c: placement.Candidate{
					Parallelism: parallelism,
					Scale:       scale,
					Mode:        v1.ModeExclusive,
					Alpha:       alpha,
					ToProfile:   true,
				},
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].key < all[j].key })

	out := make([]placement.Candidate, len(all))
	for i, s := range all {
		out[i] = s.c
	}
	return out
}

// CalculateResourceDemand sizes an exclusive profiling candidate like
// CE; a share candidate is sized to the smallest way count meeting the
// alpha performance floor.
func (*Policy) CalculateResourceDemand(c placement.Candidate, coresPerNode, waysPerNode int, membwPerNode float64) placement.Demand {
	n, coresPerJobNode, ok := placement.CommonDemand(c.Parallelism, c.Scale, coresPerNode)
	if !ok {
		return placement.Demand{}
	}

	if c.Mode == v1.ModeExclusive {
		return placement.Demand{N: n, C: coresPerJobNode, W: waysPerNode, B: membwPerNode}
	}

	w, b, ok := performanceFloor(c.IPCs, c.MBWs, c.Alpha, waysPerNode)
	if !ok {
		return placement.Demand{}
	}
	return placement.Demand{N: n, C: coresPerJobNode, W: w, B: b}
}

// performanceFloor picks the smallest way count w in [2, waysPerNode]
// whose measured IPC is at least alpha times the curve's peak.
func performanceFloor(ipcs, mbws []float64, alpha float64, waysPerNode int) (w int, b float64, ok bool) {
	max := 0.0
	for _, v := range ipcs {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 0, 0, false
	}
	threshold := alpha * max

	for cand := 2; cand <= waysPerNode; cand++ {
		if cand >= len(ipcs) {
			break
		}
		if ipcs[cand] >= threshold {
			b = 0
			if cand < len(mbws) {
				b = mbws[cand]
			}
			return cand, b, true
		}
	}
	return 0, 0, false
}

// Estimate returns the slowdown-adjusted runtime of a share candidate
// at way count w, and the ratio of that runtime to the scale-1
// baseline. A scale with no profile entry has no estimate; a profiled
// scale without a scale-1 entry gets a ratio of 1.
func (p *Policy) Estimate(profiles map[int]profile.Entry, scale, w int, freqFactor map[int]float64) *v1.Estimate {
	e, ok := profiles[scale]
	if !ok || w <= 0 || w >= len(e.IPCs) || e.IPCs[w] <= 0 {
		return nil
	}
	max := 0.0
	for _, v := range e.IPCs {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return nil
	}

	factor := 1.0
	if f, ok := freqFactor[scale]; ok {
		factor = f
	}
	estTime := max / e.IPCs[w] * e.Time * factor

	ratio := 1.0
	if base, ok := profiles[1]; ok && base.Time > 0 {
		ratio = estTime / base.Time
	}
	return &v1.Estimate{Time: estTime, Ratio: ratio}
}
