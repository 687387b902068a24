// Package expiry decides which notification thresholds of a certificate have
// newly been crossed. It has no side effects and never reads the clock.
package expiry

import (
	"sort"
	"time"
)

// Key identifies one threshold of one certificate. A notification is sent at
// most once per key.
type Key struct {
	Days       int       `json:"days"`
	Expiration time.Time `json:"expiration"`
}

func (k Key) Matches(other Key) bool {
	return k.Days == other.Days && k.Expiration.Equal(other.Expiration)
}

type Result struct {
	// Due lists the newly crossed thresholds, furthest out first.
	Due      []int
	DaysLeft int
	Expired  bool
}

// NotifyAt is the instant from which the threshold of days becomes due.
func NotifyAt(expiration time.Time, days int) time.Time {
	return expiration.UTC().AddDate(0, 0, -days)
}

// Evaluate returns the thresholds that are due at now and have no key in fired.
func Evaluate(now, expiration time.Time, thresholds []int, fired []Key) Result {
	res := Result{
		DaysLeft: int(expiration.Sub(now).Hours() / 24),
		Expired:  !now.Before(expiration),
	}

	seen := make(map[int]bool, len(thresholds))
	for _, days := range thresholds {
		if days <= 0 || seen[days] {
			continue
		}
		seen[days] = true

		if now.Before(NotifyAt(expiration, days)) {
			continue
		}

		if contains(fired, Key{Days: days, Expiration: expiration}) {
			continue
		}

		res.Due = append(res.Due, days)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(res.Due)))

	return res
}

// Rearm drops the keys that were recorded for a certificate other than
// the one expiring at expiration.
func Rearm(fired []Key, expiration time.Time) []Key {
	var kept []Key
	for _, k := range fired {
		if k.Expiration.Equal(expiration) {
			kept = append(kept, k)
		}
	}

	return kept
}

func contains(keys []Key, k Key) bool {
	for _, other := range keys {
		if other.Matches(k) {
			return true
		}
	}

	return false
}
