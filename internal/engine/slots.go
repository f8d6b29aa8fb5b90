package engine

import "time"

// Candidate is one start/end pair under consideration for a run.
type Candidate struct {
	Start time.Time
	End   time.Time
}

const (
	maxCandidates = 600
	minLeadTime   = 5 * time.Minute
)

// ceilTo rounds t up to the next multiple of step.
func ceilTo(t time.Time, step time.Duration) time.Time {
	r := t.Truncate(step)
	if r.Before(t) {
		r = r.Add(step)
	}
	return r
}

// GenerateCandidates enumerates grid-aligned slots inside the window,
// skipping starts already tried. Degenerate inputs yield nil, which callers
// treat as "no slot found" rather than an error.
func GenerateCandidates(now, windowStart, windowEnd time.Time, duration, interval time.Duration, exclude map[int64]struct{}) []Candidate {
	if duration <= 0 || interval <= 0 || !windowEnd.After(windowStart) {
		return nil
	}
	start := ceilTo(windowStart, interval)
	if earliest := ceilTo(now.Add(minLeadTime), interval); earliest.After(start) {
		start = earliest
	}
	var out []Candidate
	for !start.Add(duration).After(windowEnd) {
		if len(out) >= maxCandidates {
			break
		}
		if _, tried := exclude[start.Unix()]; !tried {
			out = append(out, Candidate{Start: start, End: start.Add(duration)})
		}
		start = start.Add(interval)
	}
	return out
}
