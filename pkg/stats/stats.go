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

// Package stats computes the aggregate occupation, turnaround and
// core-hour statistics of a finished run from its job records. This
// is the numeric half of the original prototype's parser; the
// matplotlib/PIL schedule-figure half is out of scope.
package stats

import (
	"sort"
)

// Record is the minimal shape stats needs out of a completed job: its
// id (for stable ordering), submit/start/finish times, the core count
// it used, and the nodes it ran on.
type Record struct {
	JobID       uint64
	Submit      float64
	Start       float64
	Finish      float64
	Parallelism int
	NodeList    []string
}

// Summary is the basic-statistics bundle returned by getBasicStats in
// the original prototype.
type Summary struct {
	MaxTurnaroundHours float64
	OccupationPercent  float64
	UseCoreHours       float64
	BubbleCoreHours    float64
	JobWaitTimes       []float64
	JobRunTimes        []float64
}

type interval struct{ begin, end int }

// BasicStats computes Summary over recs, mirroring
// SSParser.getBasicStats: per-node busy intervals are merged (gaps of
// at most one second count as continuous), the occupation ratio is
// used-node-hours over (node count * max turnaround), and bubble
// core-hours extrapolate the unused capacity of coresPerNode.
func BasicStats(recs []Record, coresPerNode int) Summary {
	if len(recs) == 0 {
		return Summary{}
	}

	sorted := append([]Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].JobID < sorted[j].JobID })

	timeBias := sorted[0].Start
	for _, r := range sorted {
		if r.Start < timeBias {
			timeBias = r.Start
		}
	}

	waits := make([]float64, 0, len(sorted))
	runs := make([]float64, 0, len(sorted))
	useCoreHours := 0.0
	nodeOccupied := make(map[string][]interval)

	for _, r := range sorted {
		waits = append(waits, r.Start-r.Submit)
		runtime := r.Finish - r.Start
		runs = append(runs, runtime)
		useCoreHours += runtime * float64(r.Parallelism) / 3600

		begin := int(r.Start - timeBias)
		end := int(r.Finish - timeBias)
		for _, node := range r.NodeList {
			nodeOccupied[node] = append(nodeOccupied[node], interval{begin, end})
		}
	}

	for node, ivs := range nodeOccupied {
		nodeOccupied[node] = mergeRanges(ivs)
	}

	maxTurnaround := 0
	usedNodeSeconds := 0
	for _, ivs := range nodeOccupied {
		if len(ivs) > 0 && ivs[len(ivs)-1].end > maxTurnaround {
			maxTurnaround = ivs[len(ivs)-1].end
		}
		for _, iv := range ivs {
			usedNodeSeconds += iv.end - iv.begin
		}
	}

	maxTurnaroundHours := float64(maxTurnaround) / 3600
	usedNodeHours := float64(usedNodeSeconds) / 3600
	totalNodeHours := float64(len(nodeOccupied)) * maxTurnaroundHours

	occupation := 0.0
	if totalNodeHours > 0 {
		occupation = usedNodeHours / totalNodeHours
	}

	return Summary{
		MaxTurnaroundHours: maxTurnaroundHours,
		OccupationPercent:  occupation * 100,
		UseCoreHours:       useCoreHours,
		BubbleCoreHours:    float64(coresPerNode)*totalNodeHours - useCoreHours,
		JobWaitTimes:       waits,
		JobRunTimes:        runs,
	}
}

// mergeRanges coalesces intervals separated by at most one second,
// matching the original's mergeRanges closure.
func mergeRanges(in []interval) []interval {
	sort.Slice(in, func(i, j int) bool {
		if in[i].begin != in[j].begin {
			return in[i].begin < in[j].begin
		}
		return in[i].end < in[j].end
	})

	out := make([]interval, 0, len(in))
	for _, iv := range in {
		if n := len(out); n > 0 && out[n-1].end >= iv.begin-1 {
			if iv.end > out[n-1].end {
				out[n-1].end = iv.end
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
