package ce

import (
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
	"github.com/thu-pacman/stride-scheduler/pkg/profile"
)

func TestSortCandidatesAlwaysScaleOneExclusive(t *testing.T) {
	p := New()
	cands := p.SortCandidates(16, 0.9, nil)
	if len(cands) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(cands))
	}
	if cands[0].Scale != 1 || cands[0].Mode != v1.ModeExclusive || cands[0].ToProfile {
		t.Fatalf("unexpected candidate: %+v", cands[0])
	}
}

func TestCalculateResourceDemandWholeNode(t *testing.T) {
	p := New()
	c := p.SortCandidates(16, 0.9, nil)[0]
	d := p.CalculateResourceDemand(c, 28, 20, 120)
	if d.N != 1 || d.C != 16 || d.W != 20 || d.B != 120 {
		t.Fatalf("unexpected demand: %+v", d)
	}
}

func TestCalculateResourceDemandInfeasibleWhenUneven(t *testing.T) {
	p := New()
	// P=29 needs ceil(29/28)=2 nodes, and 29 does not split evenly across 2.
	c := p.SortCandidates(29, 0.9, nil)[0]
	d := p.CalculateResourceDemand(c, 28, 20, 120)
	if d.N != 0 {
		t.Fatalf("expected infeasible demand for an uneven split, got %+v", d)
	}
}

func TestEstimateNilWithoutProfile(t *testing.T) {
	p := New()
	if est := p.Estimate(nil, 1, 0, nil); est != nil {
		t.Fatalf("expected nil estimate without a profile, got %+v", est)
	}
}

func TestEstimateUsesScaleOneEntry(t *testing.T) {
	p := New()
	profiles := map[int]profile.Entry{1: {Time: 42}}
	est := p.Estimate(profiles, 1, 0, nil)
	if est == nil || est.Time != 42 || est.Ratio != 1 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
}
