package common

import "time"

// NextMidnight returns the upcoming local midnight after now, i.e. today with
// the hour rolled to 24 and minutes/seconds/nanoseconds zeroed. Used both for
// the daily quota reset and for quota-error retry-after times.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
