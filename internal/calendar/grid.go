// Package calendar builds the month grid shown to users and keeps it in sync
// with the appointment mirror.
package calendar

import (
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

const (
	Weeks     = 6
	GridCells = Weeks * 7
)

// EndTime adds minutes to an HH:MM start, wrapping at 24:00.
// A malformed start is rejected with a validation error.
func EndTime(start string, minutes int) (string, error) {
	c, err := model.ParseClock(start)
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, "end time", err)
	}
	return c.Add(minutes).String(), nil
}

// BuildMonthGrid returns the 42 days covering m, Monday first, with leading
// days from the previous month and trailing days from the next one.
// Each appointment lands on the first day whose date matches; appointments
// outside the grid are dropped.
func BuildMonthGrid(m model.Month, appts []model.Appointment) []model.CalendarDay {
	first := m.First().Time(time.UTC)
	// ISO weekday order: Monday=0 ... Sunday=6
	lead := (int(first.Weekday()) + 6) % 7
	start := first.AddDate(0, 0, -lead)

	days := make([]model.CalendarDay, GridCells)
	index := make(map[model.Date]int, GridCells)
	for i := range days {
		d := start.AddDate(0, 0, i)
		days[i] = model.CalendarDay{
			Day:     d.Day(),
			Month:   d.Month(),
			Year:    d.Year(),
			InMonth: d.Month() == m.Month && d.Year() == m.Year,
		}
		key := model.DateOf(d)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	for _, a := range appts {
		i, ok := index[a.Date]
		if !ok {
			continue
		}
		days[i].Appointments = append(days[i].Appointments, a)
	}
	return days
}
