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

// Package placement defines the shared candidate/demand contract
// implemented by the compact-exclusive, compact-share and
// spread-share policies in its ce, cs and ss subpackages.
package placement

import (
	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

// Candidate is one way a job could be placed: at a given node scale,
// in a given sharing mode, carrying whatever IPC/MBW curve the policy
// has to reason about (measured or none).
type Candidate struct {
	Parallelism int
	Scale       int
	Mode        v1.Mode
	Alpha       float64
	IPCs        []float64
	MBWs        []float64
	ToProfile   bool
}

// Demand is a candidate's concrete resource ask. N==0 means the
// candidate is infeasible and must be skipped.
type Demand struct {
	N int
	C int
	W int
	B float64
}

// Policy is the contract shared by the compact-exclusive,
// compact-share and spread-share placement strategies.
type Policy interface {
	Name() string
	SortCandidates(parallelism int, alpha float64, profiles map[int]profile.Entry) []Candidate
	CalculateResourceDemand(c Candidate, coresPerNode, waysPerNode int, membwPerNode float64) Demand
	Estimate(profiles map[int]profile.Entry, scale, w int, freqFactor map[int]float64) *v1.Estimate
}

// CommonDemand implements the node-count/per-node-core arithmetic
// shared by every policy: N = scale*ceil(P/Ccore); infeasible unless P
// divides evenly across the N nodes chosen.
func CommonDemand(parallelism, scale, coresPerNode int) (n, c int, ok bool) {
	perScaleNodes := ceilDiv(parallelism, coresPerNode)
	n = scale * perScaleNodes
	if n == 0 || parallelism%n != 0 {
		return 0, 0, false
	}
	return n, parallelism / n, true
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
