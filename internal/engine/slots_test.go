package engine

import (
	"testing"
	"time"
)

func TestGenerateCandidatesGridAndBounds(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	windowStart := time.Date(2026, 3, 2, 9, 7, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	interval := 30 * time.Minute
	duration := 60 * time.Minute

	got := GenerateCandidates(now, windowStart, windowEnd, duration, interval, nil)
	if len(got) == 0 {
		t.Fatal("expected candidates")
	}
	for _, c := range got {
		if c.Start.Before(windowStart) || c.Start.After(windowEnd.Add(-duration)) {
			t.Fatalf("start %v outside window", c.Start)
		}
		if !c.Start.Truncate(interval).Equal(c.Start) {
			t.Fatalf("start %v not grid aligned", c.Start)
		}
		if !c.End.Equal(c.Start.Add(duration)) {
			t.Fatalf("end %v not start+duration", c.End)
		}
	}
	// 9:07 ceils to 9:30; last start fitting 60min before 12:00 is 11:00.
	if !got[0].Start.Equal(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("first start = %v", got[0].Start)
	}
	if !got[len(got)-1].Start.Equal(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("last start = %v", got[len(got)-1].Start)
	}
}

func TestGenerateCandidatesRespectsLeadTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 58, 0, 0, time.UTC)
	windowStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)

	got := GenerateCandidates(now, windowStart, windowEnd, 30*time.Minute, 30*time.Minute, nil)
	if len(got) == 0 {
		t.Fatal("expected candidates")
	}
	// now+5min = 10:03, ceiled to 10:30.
	if !got[0].Start.Equal(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("first start = %v", got[0].Start)
	}
}

func TestGenerateCandidatesExclusion(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	windowStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	skip := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	got := GenerateCandidates(now, windowStart, windowEnd, 30*time.Minute, 30*time.Minute,
		map[int64]struct{}{skip.Unix(): {}})
	for _, c := range got {
		if c.Start.Equal(skip) {
			t.Fatalf("excluded start %v returned", skip)
		}
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
}

func TestGenerateCandidatesCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowStart := now
	windowEnd := now.Add(365 * 24 * time.Hour)

	got := GenerateCandidates(now, windowStart, windowEnd, 30*time.Minute, 15*time.Minute, nil)
	if len(got) != 600 {
		t.Fatalf("got %d candidates, want cap of 600", len(got))
	}
}

func TestGenerateCandidatesDegenerate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name               string
		duration, interval time.Duration
		start, end         time.Time
	}{
		{"zero duration", 0, 30 * time.Minute, now, now.Add(time.Hour)},
		{"zero interval", 30 * time.Minute, 0, now, now.Add(time.Hour)},
		{"inverted window", 30 * time.Minute, 30 * time.Minute, now.Add(time.Hour), now},
		{"empty window", 30 * time.Minute, 30 * time.Minute, now, now},
	}
	for _, tc := range cases {
		if got := GenerateCandidates(now, tc.start, tc.end, tc.duration, tc.interval, nil); len(got) != 0 {
			t.Errorf("%s: got %d candidates, want none", tc.name, len(got))
		}
	}
}
