package engine

import "math"

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// expectedAccepted sums predicted probabilities across invitees for a slot,
// rounded to two decimals.
func expectedAccepted(c Candidate, signals []participantSignals, planTags []string, ownerID string) float64 {
	var sum float64
	for _, s := range signals {
		sum += predictAcceptance(s, planTags, ownerID, c.Start, c.End)
	}
	return round2(sum)
}

// pickSlot returns the candidate with the highest expected acceptance.
// Exact ties go to the earliest start. ok is false when no candidate exists,
// which callers interpret as exhaustion.
func pickSlot(candidates []Candidate, signals []participantSignals, planTags []string, ownerID string) (best Candidate, exp float64, ok bool) {
	for _, c := range candidates {
		v := expectedAccepted(c, signals, planTags, ownerID)
		if !ok || v > exp || (v == exp && c.Start.Before(best.Start)) {
			best, exp, ok = c, v, true
		}
	}
	return best, exp, ok
}
