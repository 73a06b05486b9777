package promotion

import (
	"slices"
	"time"
)

// IsCurrentlyValid reports whether p is active, inside its date window and
// below its global usage limit at now. It does not look at any order.
func IsCurrentlyValid(p Promotion, now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	c := p.Conditions
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	if c.UsageLimit > 0 && p.UsageCount >= c.UsageLimit {
		return false
	}
	return true
}

// IsValidAtTime reports whether now falls on one of p's days and inside its
// time-of-day window. Seconds are ignored.
func IsValidAtTime(p Promotion, now time.Time) bool {
	c := p.Conditions
	if len(c.DaysOfWeek) > 0 && !slices.Contains(c.DaysOfWeek, now.Weekday()) {
		return false
	}
	if c.TimeRange != nil && !c.TimeRange.Contains(minuteOfDay(now)) {
		return false
	}
	return true
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
