package cs

import (
	"testing"

	v1 "github.com/thu-pacman/stride-scheduler/pkg/api/v1"
)

func TestSortCandidatesNonDecreasingScale(t *testing.T) {
	p := New()
	cands := p.SortCandidates(16, 0.9, nil)
	for i := 1; i < len(cands); i++ {
		if cands[i].Scale < cands[i-1].Scale {
			t.Fatalf("candidate order not non-decreasing in scale: %+v", cands)
		}
	}
	for _, c := range cands {
		if c.Mode != v1.ModeShare {
			t.Fatalf("expected every CS candidate to be share mode, got %+v", c)
		}
	}
}

func TestCalculateResourceDemandSharesCacheAndBandwidth(t *testing.T) {
	p := New()
	c := p.SortCandidates(16, 0.9, nil)[0]
	d := p.CalculateResourceDemand(c, 28, 20, 120)
	if d.W != 0 || d.B != 0 {
		t.Fatalf("expected CS to reserve zero ways/bandwidth, got %+v", d)
	}
	if d.N != 1 || d.C != 16 {
		t.Fatalf("unexpected node/core split: %+v", d)
	}
}

func TestCalculateResourceDemandAtScaleTwo(t *testing.T) {
	p := New()
	cands := p.SortCandidates(16, 0.9, nil)
	var scale2 *struct{ N, C int }
	for _, c := range cands {
		if c.Scale == 2 {
			d := p.CalculateResourceDemand(c, 28, 20, 120)
			scale2 = &struct{ N, C int }{d.N, d.C}
		}
	}
	if scale2 == nil {
		t.Fatalf("expected a scale=2 candidate")
	}
	if scale2.N != 2 || scale2.C != 8 {
		t.Fatalf("unexpected scale=2 split: %+v", scale2)
	}
}
