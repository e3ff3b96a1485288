package session

import "time"

type holiday int

const (
	holidayNone holiday = iota
	holidayFull
	holidayEarlyClose
)

// CME equity index futures holiday schedule for 2026. Most US holidays are
// early closes at noon CT; the market halts fully only on a few.
var holidays2026 = map[string]holiday{
	"2026-01-01": holidayFull,       // New Year's Day
	"2026-01-19": holidayEarlyClose, // Martin Luther King Jr. Day
	"2026-02-16": holidayEarlyClose, // Presidents' Day
	"2026-04-03": holidayFull,       // Good Friday
	"2026-05-25": holidayEarlyClose, // Memorial Day
	"2026-06-19": holidayEarlyClose, // Juneteenth
	"2026-07-03": holidayEarlyClose, // Independence Day (observed)
	"2026-09-07": holidayEarlyClose, // Labor Day
	"2026-11-26": holidayEarlyClose, // Thanksgiving
	"2026-12-25": holidayFull,       // Christmas
}

func holidayKind(t time.Time) holiday {
	return holidays2026[t.In(CT).Format("2006-01-02")]
}
