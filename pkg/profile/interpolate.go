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

package profile

import "sort"

// missingValue marks a way-index with zero contributing samples, per
// spec.md §4.A: "Indices with zero contributors are stored as -1".
const missingValue = -1

// interpolateCurve fills in a 1..wcnt-1 curve (index 0 stays unused)
// from the measured values. A measured index keeps its value; only the
// configured sample anchors drive interpolation of the rest.
// Only unmeasured indices strictly between two known anchors are filled, by
// linear interpolation; indices at or beyond the lowest/highest known
// anchor but themselves unmeasured stay missingValue, same as the
// original's anchor-pair loop. Anchors whose measurement was
// missingValue are treated as unknown, same as any other unmeasured
// index.
func interpolateCurve(measured map[int]float64, anchors []int, wcnt int) []float64 {
	curve := make([]float64, wcnt)
	for i := range curve {
		curve[i] = missingValue
	}

	known := make([]int, 0, len(anchors))
	for _, a := range anchors {
		if v, ok := measured[a]; ok && v != missingValue {
			known = append(known, a)
		}
	}
	if len(known) == 0 {
		return curve
	}
	sort.Ints(known)

	for w := 1; w < wcnt; w++ {
		curve[w] = interpAt(w, known, measured)
	}
	return curve
}

// interpAt returns the linearly-interpolated value of a curve with
// known values only at the sorted `known` way-indices. An index at or
// beyond the lowest/highest known anchor is never extrapolated; it
// stays missingValue unless it is itself a known anchor.
func interpAt(w int, known []int, measured map[int]float64) float64 {
	if v, ok := measured[w]; ok && v != missingValue {
		return v
	}
	if w <= known[0] || w >= known[len(known)-1] {
		return missingValue
	}
	lo, hi := known[0], known[len(known)-1]
	for i := 0; i < len(known)-1; i++ {
		if known[i] <= w && w <= known[i+1] {
			lo, hi = known[i], known[i+1]
			break
		}
	}
	if lo == hi {
		return measured[lo]
	}
	vlo, vhi := measured[lo], measured[hi]
	frac := float64(w-lo) / float64(hi-lo)
	return vlo + frac*(vhi-vlo)
}
