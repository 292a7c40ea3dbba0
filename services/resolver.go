package services

import "time"

// ResolveExpiry computes the new VIP expiry for a grant of duration d.
// A lapsed (or never granted) entitlement restarts from now; an active one
// is extended from its current expiry, so stacked grants are cumulative and
// no paid-for time is ever thrown away.
func ResolveExpiry(current *time.Time, d time.Duration, now time.Time) time.Time {
	if current == nil || !current.After(now) {
		return now.Add(d)
	}
	return current.Add(d)
}
