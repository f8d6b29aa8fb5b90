package engine

import (
	"fmt"
	"strings"
	"time"

	"meetline/internal/calendar"
	"meetline/internal/domain"
)

// Blend weights and defaults for the three attendance signals.
const (
	availabilityWeight = 0.5
	affinityWeight     = 0.3
	reliabilityWeight  = 0.2

	availabilityUnknown = 0.58
	availabilityFree    = 0.96
	availabilityBusy    = 0.12

	affinityBase       = 0.55
	affinityTagFactor  = 0.12
	affinityOwnFactor  = 0.06
	affinitySlotFactor = 0.08

	reliabilityPrior   = 1.2
	reliabilityDefault = 0.55
)

// participantSignals bundles everything known about one invitee for scoring.
// Busy windows cover the whole search window and are fetched once per sync.
type participantSignals struct {
	Participant domain.Participant
	Busy        []calendar.Interval
	BusyKnown   bool
	Prefs       map[string]float64
	Stat        *domain.MemberStat
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func availabilityScore(s participantSignals, start, end time.Time) float64 {
	if !s.BusyKnown {
		return availabilityUnknown
	}
	for _, iv := range s.Busy {
		if iv.Overlaps(start, end) {
			return availabilityBusy
		}
	}
	return availabilityFree
}

// slotBucket maps a start instant to its preference key, e.g.
// "slot:tuesday_morning".
func slotBucket(t time.Time) string {
	var part string
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		part = "morning"
	case h >= 12 && h < 17:
		part = "afternoon"
	case h >= 17 && h < 22:
		part = "evening"
	default:
		part = "night"
	}
	return fmt.Sprintf("slot:%s_%s", strings.ToLower(t.Weekday().String()), part)
}

func affinityScore(s participantSignals, planTags []string, ownerID string, start time.Time) float64 {
	if s.Participant.UserID == "" || s.Prefs == nil {
		return affinityBase
	}
	score := affinityBase
	for _, tag := range planTags {
		if w, ok := s.Prefs[tag]; ok {
			score += w * affinityTagFactor
		}
	}
	if w, ok := s.Prefs["person:"+ownerID]; ok {
		score += w * affinityOwnFactor
	}
	if w, ok := s.Prefs[slotBucket(start)]; ok {
		score += w * affinitySlotFactor
	}
	return clamp(score, 0.05, 0.95)
}

// reliabilityScore is the Laplace-smoothed historical acceptance rate.
func reliabilityScore(stat *domain.MemberStat) float64 {
	if stat == nil {
		return reliabilityDefault
	}
	alpha := float64(stat.AcceptCount) + reliabilityPrior
	beta := float64(stat.DeclineCount+stat.NoResponseCount) + reliabilityPrior
	return clamp(alpha/(alpha+beta), 0.1, 0.95)
}

// predictAcceptance blends the three signals into one probability.
func predictAcceptance(s participantSignals, planTags []string, ownerID string, start, end time.Time) float64 {
	v := availabilityWeight*availabilityScore(s, start, end) +
		affinityWeight*affinityScore(s, planTags, ownerID, start) +
		reliabilityWeight*reliabilityScore(s.Stat)
	return clamp(v, 0.03, 0.98)
}
