// Package interest implements day-count conventions and the interest formulas
// used to price loans.
package interest

import (
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
)

const secondsPerDay = 24 * 60 * 60

// DaysBetween returns the number of days from start to end under the given
// convention. It never returns a negative value.
func DaysBetween(start, end time.Time, method models.DayCountMethod) int {
	start, end = models.Date(start), models.Date(end)
	var days int
	if method == models.Thirty360 {
		days = (end.Year()-start.Year())*360 +
			(int(end.Month())-int(start.Month()))*30 +
			(min(end.Day(), 30) - min(start.Day(), 30))
	} else {
		days = int((end.Unix() - start.Unix()) / secondsPerDay)
	}
	return max(days, 0)
}

// DaysInYear is the year basis of the convention.
func DaysInYear(method models.DayCountMethod) int {
	if method == models.Actual365 || method == "" {
		return 365
	}
	return 360
}

// ValidDayCount reports whether method is a known convention.
func ValidDayCount(method models.DayCountMethod) bool {
	switch method {
	case models.Actual365, models.Actual360, models.Thirty360:
		return true
	}
	return false
}
