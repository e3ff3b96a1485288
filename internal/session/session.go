// Package session tracks CME Globex trading hours for the equity index
// futures the gateway routes (MNQ, MES and friends). Globex runs nearly
// around the clock: Sunday 5:00 PM CT through Friday 4:00 PM CT, with a
// one-hour maintenance break at 4:00 PM CT Monday through Thursday.
package session

import (
	"fmt"
	"time"
)

// CT is the exchange time zone. Falls back to a fixed CST offset when the
// tz database is unavailable.
var CT = loadCT()

func loadCT() *time.Location {
	if loc, err := time.LoadLocation("America/Chicago"); err == nil {
		return loc
	}
	return time.FixedZone("CST", -6*3600)
}

// Session boundaries in exchange-local minutes of day.
const (
	openMinute       = 17 * 60 // 5:00 PM CT
	closeMinute      = 16 * 60 // 4:00 PM CT
	earlyCloseMinute = 12 * 60 // 12:00 PM CT on shortened days
)

// IsOpen reports whether Globex is trading at t.
func IsOpen(t time.Time) bool {
	ct := t.In(CT)
	hm := ct.Hour()*60 + ct.Minute()

	switch ct.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return hm >= openMinute
	case time.Friday:
		if hm >= closeMinute {
			return false
		}
	default:
		// Mon-Thu: daily maintenance break, then the evening session.
		if hm >= closeMinute && hm < openMinute {
			return false
		}
	}

	switch holidayKind(ct) {
	case holidayFull:
		// Full holiday halts until the evening reopen.
		return hm >= openMinute
	case holidayEarlyClose:
		if hm >= earlyCloseMinute && hm < openMinute {
			return false
		}
	}
	return true
}

// NextOpen returns the next session open at or after t. Opens happen at
// 5:00 PM CT Sunday through Thursday.
func NextOpen(t time.Time) time.Time {
	ct := t.In(CT)
	for i := 0; i < 10; i++ {
		d := ct.AddDate(0, 0, i)
		if d.Weekday() == time.Friday || d.Weekday() == time.Saturday {
			continue
		}
		open := time.Date(d.Year(), d.Month(), d.Day(), 17, 0, 0, 0, CT)
		if open.After(ct) {
			return open
		}
	}
	return ct
}

// NextClose returns the next session close at or after t: the daily break,
// the early close on shortened days, or the Friday weekly close.
func NextClose(t time.Time) time.Time {
	ct := t.In(CT)
	for i := 0; i < 10; i++ {
		d := ct.AddDate(0, 0, i)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		min := closeMinute
		if holidayKind(d) == holidayEarlyClose {
			min = earlyCloseMinute
		}
		close := time.Date(d.Year(), d.Month(), d.Day(), min/60, min%60, 0, 0, CT)
		if close.After(ct) {
			return close
		}
	}
	return ct
}

// StatusString returns a human-readable session status for dashboards.
func StatusString(t time.Time) string {
	if IsOpen(t) {
		return fmt.Sprintf("open, closes in %s", fmtDur(NextClose(t).Sub(t)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("closed, opens %s %s CT (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
