package engine

import (
	"math"
	"testing"
	"time"

	"meetline/internal/calendar"
	"meetline/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAvailabilityScore(t *testing.T) {
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	unknown := participantSignals{}
	if got := availabilityScore(unknown, start, end); !almostEqual(got, 0.58) {
		t.Fatalf("unknown = %v, want 0.58", got)
	}

	free := participantSignals{BusyKnown: true, Busy: []calendar.Interval{
		{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}}
	if got := availabilityScore(free, start, end); !almostEqual(got, 0.96) {
		t.Fatalf("free = %v, want 0.96", got)
	}

	busy := participantSignals{BusyKnown: true, Busy: []calendar.Interval{
		{Start: start.Add(30 * time.Minute), End: start.Add(90 * time.Minute)},
	}}
	if got := availabilityScore(busy, start, end); !almostEqual(got, 0.12) {
		t.Fatalf("busy = %v, want 0.12", got)
	}

	// Touching intervals do not overlap a half-open slot.
	adjacent := participantSignals{BusyKnown: true, Busy: []calendar.Interval{
		{Start: end, End: end.Add(time.Hour)},
	}}
	if got := availabilityScore(adjacent, start, end); !almostEqual(got, 0.96) {
		t.Fatalf("adjacent = %v, want 0.96", got)
	}
}

func TestSlotBucket(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{6, "slot:tuesday_morning"},
		{11, "slot:tuesday_morning"},
		{12, "slot:tuesday_afternoon"},
		{16, "slot:tuesday_afternoon"},
		{17, "slot:tuesday_evening"},
		{21, "slot:tuesday_evening"},
		{22, "slot:tuesday_night"},
		{3, "slot:tuesday_night"},
	}
	for _, tc := range cases {
		at := time.Date(2026, 3, 3, tc.hour, 0, 0, 0, time.UTC)
		if got := slotBucket(at); got != tc.want {
			t.Errorf("hour %d: got %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestAffinityScore(t *testing.T) {
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	unlinked := participantSignals{Participant: domain.Participant{Email: "a@x.io"}}
	if got := affinityScore(unlinked, []string{"standup"}, "owner-1", start); !almostEqual(got, 0.55) {
		t.Fatalf("unlinked = %v, want flat 0.55", got)
	}

	linked := participantSignals{
		Participant: domain.Participant{Email: "b@x.io", UserID: "user-b"},
		Prefs: map[string]float64{
			"standup":               1.0,
			"person:owner-1":        0.5,
			"slot:tuesday_morning":  1.0,
			"slot:tuesday_evening":  -1.0,
		},
	}
	// 0.55 + 1.0*0.12 + 0.5*0.06 + 1.0*0.08
	if got := affinityScore(linked, []string{"standup"}, "owner-1", start); !almostEqual(got, 0.78) {
		t.Fatalf("linked = %v, want 0.78", got)
	}

	// Strong positive weights clamp at 0.95.
	keen := participantSignals{
		Participant: domain.Participant{Email: "c@x.io", UserID: "user-c"},
		Prefs: map[string]float64{
			"standup": 5.0, "retro": 5.0, "slot:tuesday_morning": 5.0,
		},
	}
	if got := affinityScore(keen, []string{"standup", "retro"}, "owner-1", start); !almostEqual(got, 0.95) {
		t.Fatalf("keen = %v, want clamp at 0.95", got)
	}
}

func TestReliabilityScore(t *testing.T) {
	if got := reliabilityScore(nil); !almostEqual(got, 0.55) {
		t.Fatalf("no history = %v, want 0.55", got)
	}
	stat := &domain.MemberStat{AcceptCount: 8, DeclineCount: 1, NoResponseCount: 1}
	// alpha=9.2, beta=3.2 -> 9.2/12.4
	if got := reliabilityScore(stat); !almostEqual(got, 9.2/12.4) {
		t.Fatalf("history = %v, want %v", got, 9.2/12.4)
	}
	flaky := &domain.MemberStat{DeclineCount: 50}
	if got := reliabilityScore(flaky); !almostEqual(got, 0.1) {
		t.Fatalf("flaky = %v, want floor 0.1", got)
	}
}

func TestPredictAcceptanceBounds(t *testing.T) {
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	signals := []participantSignals{
		{},
		{BusyKnown: true},
		{BusyKnown: true, Busy: []calendar.Interval{{Start: start, End: end}},
			Stat: &domain.MemberStat{DeclineCount: 100, NoResponseCount: 100}},
		{Participant: domain.Participant{UserID: "u"}, Prefs: map[string]float64{"x": 10},
			Stat: &domain.MemberStat{AcceptCount: 100}},
	}
	for i, s := range signals {
		got := predictAcceptance(s, []string{"x"}, "owner", start, end)
		if got < 0.03 || got > 0.98 {
			t.Errorf("signals[%d]: %v outside [0.03, 0.98]", i, got)
		}
	}
}
