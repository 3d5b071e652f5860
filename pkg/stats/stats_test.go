package stats

import "testing"

func TestBasicStatsSingleJobFullyOccupies(t *testing.T) {
	recs := []Record{
		{JobID: 0, Submit: 0, Start: 0, Finish: 3600, Parallelism: 16, NodeList: []string{"n0"}},
	}
	s := BasicStats(recs, 28)
	if s.OccupationPercent < 99.9 {
		t.Fatalf("expected ~100%% occupation for a single job spanning the whole window, got %v", s.OccupationPercent)
	}
	if s.UseCoreHours != 16 {
		t.Fatalf("expected 16 core-hours (16 cores * 1 hour), got %v", s.UseCoreHours)
	}
}

func TestBasicStatsMergesAdjacentIntervals(t *testing.T) {
	recs := []Record{
		{JobID: 0, Submit: 0, Start: 0, Finish: 100, Parallelism: 4, NodeList: []string{"n0"}},
		{JobID: 1, Submit: 0, Start: 100, Finish: 200, Parallelism: 4, NodeList: []string{"n0"}},
	}
	s := BasicStats(recs, 28)
	if s.MaxTurnaroundHours != 200.0/3600 {
		t.Fatalf("expected merged turnaround to reach 200s, got %v hours", s.MaxTurnaroundHours)
	}
}

func TestBasicStatsReportsPerJobWaitAndRunTimes(t *testing.T) {
	recs := []Record{
		{JobID: 0, Submit: 0, Start: 10, Finish: 20, Parallelism: 1, NodeList: []string{"n0"}},
	}
	s := BasicStats(recs, 28)
	if len(s.JobWaitTimes) != 1 || s.JobWaitTimes[0] != 10 {
		t.Fatalf("expected wait time 10, got %v", s.JobWaitTimes)
	}
	if len(s.JobRunTimes) != 1 || s.JobRunTimes[0] != 10 {
		t.Fatalf("expected run time 10, got %v", s.JobRunTimes)
	}
}

func TestBasicStatsEmptyInput(t *testing.T) {
	if s := BasicStats(nil, 28); s.OccupationPercent != 0 {
		t.Fatalf("expected zero-value summary for no records, got %+v", s)
	}
}
