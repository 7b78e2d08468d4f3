package behavior

import (
	"math"
	"time"
)

// Bias scores url in [0, 1] for preload ranking from access frequency,
// recency and how often it is used at this hour of the day.
func (t *Tracker) Bias(url string, at time.Time) float64 {
	t.mu.Lock()
	count := t.profile.FrequentlyAccessed[url]
	last, seen := t.profile.LastAccess[url]
	buckets := t.profile.TimeBasedAccess[url]
	t.mu.Unlock()

	if count == 0 {
		return 0
	}

	// Access frequency: log scale, saturating at 99 accesses.
	freq := math.Log(float64(count)+1) / math.Log(100)
	if freq > 1 {
		freq = 1
	}

	// Recency: exponential decay per day since last access.
	recency := 0.0
	if seen {
		age := at.Sub(last).Hours() / 24.0
		if age < 0 {
			age = 0
		}
		recency = math.Exp(-0.1 * age)
	}

	// Share of this url's accesses that happened at the current hour.
	total := 0
	for _, n := range buckets {
		total += n
	}
	hour := 0.0
	if total > 0 {
		hour = float64(buckets[at.Hour()]) / float64(total)
	}

	return freq*0.5 + recency*0.3 + hour*0.2
}
