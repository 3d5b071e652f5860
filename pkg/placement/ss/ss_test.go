package ss

import (
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/placement"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

var freq = map[int]float64{1: 1.00, 2: 1.02, 4: 1.05}

func flatIPCs(wcnt int, peak float64, dip int, dipValue float64) []float64 {
	out := make([]float64, wcnt)
	for w := 1; w < wcnt; w++ {
		out[w] = peak
	}
	if dip > 0 {
		out[dip] = dipValue
	}
	return out
}

func TestSortCandidatesEmitsProfilingForMissingScales(t *testing.T) {
	p := New(freq)
	cands := p.SortCandidates(16, 0.9, map[int]profile.Entry{})
	for _, c := range cands {
		if !c.ToProfile || c.Mode != v1.ModeExclusive {
			t.Fatalf("expected every candidate to be an exclusive profiling run, got %+v", c)
		}
	}
}

func TestSortCandidatesOrdersLargerUnprofiledScalesFirst(t *testing.T) {
	p := New(freq)
	cands := p.SortCandidates(16, 0.9, map[int]profile.Entry{})
	for i := 1; i < len(cands); i++ {
		if cands[i].Scale > cands[i-1].Scale {
			t.Fatalf("expected non-increasing scale among unprofiled candidates, got %+v", cands)
		}
	}
}

func TestSortCandidatesPrefersFasterProfiledScale(t *testing.T) {
	p := New(freq)
	profiles := map[int]profile.Entry{
		1: {Time: 100, IPCs: flatIPCs(21, 1.0, 0, 0), MBWs: flatIPCs(21, 10, 0, 0)},
		2: {Time: 40, IPCs: flatIPCs(21, 1.0, 0, 0), MBWs: flatIPCs(21, 10, 0, 0)},
		// Profiling scale 4 too keeps its 1-0.1*4 surrogate key from sorting first.
		4: {Time: 60, IPCs: flatIPCs(21, 1.0, 0, 0), MBWs: flatIPCs(21, 10, 0, 0)},
	}
	cands := p.SortCandidates(16, 0.9, profiles)
	if cands[0].Scale != 2 {
		t.Fatalf("expected the faster scale=2 profile to sort first, got %+v", cands[0])
	}
}

func TestSortCandidatesFallsBackToProfilingWhenScaleOneIsUnprofiled(t *testing.T) {
	p := New(freq)
	profiles := map[int]profile.Entry{
		2: {Time: 40, IPCs: flatIPCs(21, 1.0, 0, 0), MBWs: flatIPCs(21, 10, 0, 0)},
	}
	cands := p.SortCandidates(16, 0.9, profiles)
	for _, c := range cands {
		if !c.ToProfile || c.Mode != v1.ModeExclusive {
			t.Fatalf("expected every candidate to fall back to exclusive profiling without a scale-1 baseline, got %+v", c)
		}
	}
}

func TestCalculateResourceDemandRespectsPerformanceFloor(t *testing.T) {
	p := New(freq)
	ipcs := flatIPCs(21, 1.0, 2, 0.95)
	mbws := flatIPCs(21, 30, 2, 40)
	c := placementCandidate(16, 1, v1.ModeShare, 0.9, ipcs, mbws, false)

	d := p.CalculateResourceDemand(c, 28, 20, 120)
	if d.W != 2 || d.B != 40 {
		t.Fatalf("expected the floor to pick w=2 (the dip still clears alpha*max), got %+v", d)
	}
}

func TestCalculateResourceDemandNeverBelowAlphaFloor(t *testing.T) {
	p := New(freq)
	ipcs := flatIPCs(21, 1.0, 2, 0.5) // w=2 dips below alpha*max for alpha=0.9
	mbws := flatIPCs(21, 30, 2, 10)
	c := placementCandidate(16, 1, v1.ModeShare, 0.9, ipcs, mbws, false)

	d := p.CalculateResourceDemand(c, 28, 20, 120)
	if d.W != 3 {
		t.Fatalf("expected the floor to skip w=2 (below alpha*max) and pick w=3, got W=%d", d.W)
	}
	if ipcs[d.W] < 0.9*1.0 {
		t.Fatalf("chosen way count violates the performance floor: ipcs[%d]=%v", d.W, ipcs[d.W])
	}
}

func TestEstimateComputesSlowdownAdjustedRuntime(t *testing.T) {
	p := New(freq)
	profiles := map[int]profile.Entry{
		1: {Time: 100, IPCs: flatIPCs(21, 1.0, 0, 0)},
		2: {Time: 60, IPCs: flatIPCs(21, 1.0, 2, 0.8)},
	}
	est := p.Estimate(profiles, 2, 2, freq)
	if est == nil {
		t.Fatalf("expected a non-nil estimate")
	}
	wantTime := 1.0 / 0.8 * 60 * freq[2]
	if diff := est.Time - wantTime; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected estimate time %v, got %v", wantTime, est.Time)
	}
	wantRatio := wantTime / 100
	if diff := est.Ratio - wantRatio; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected ratio %v, got %v", wantRatio, est.Ratio)
	}
}

func placementCandidate(p, scale int, mode v1.Mode, alpha float64, ipcs, mbws []float64, toProfile bool) placement.Candidate {
	return placement.Candidate{
		Parallelism: p,
		Scale:       scale,
		Mode:        mode,
		Alpha:       alpha,
		IPCs:        ipcs,
		MBWs:        mbws,
		ToProfile:   toProfile,
	}
}
