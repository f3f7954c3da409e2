// Package slots expands a recurrence rule into free appointments so an
// administrator can publish a whole series in one go.
package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

// DefaultMax caps a single expansion.
const DefaultMax = 500

// Series describes recurring free slots. First carries the date, time of day
// and location of the first occurrence; RRule is an RFC 5545 rule without
// DTSTART, e.g. "FREQ=WEEKLY;BYDAY=MO,WE;BYHOUR=9,10".
type Series struct {
	Title       string
	Description string
	RRule       string
	First       time.Time
	Duration    int
	Max         int
}

// Expand returns one free appointment per occurrence within [from, to]. The
// second result reports whether the cap cut the series short.
func Expand(s Series, from, to time.Time) ([]model.Appointment, bool, error) {
	const op = "expand series"
	if strings.TrimSpace(s.Title) == "" {
		return nil, false, apperr.New(apperr.Validation, op, "title required")
	}
	if s.Duration < model.MinDuration || s.Duration > model.MaxDuration {
		return nil, false, apperr.New(apperr.Validation, op,
			fmt.Sprintf("duration must be %d-%d minutes", model.MinDuration, model.MaxDuration))
	}
	if s.First.IsZero() {
		return nil, false, apperr.New(apperr.Validation, op, "first occurrence required")
	}
	if to.Before(from) {
		return nil, false, apperr.New(apperr.Validation, op, "window ends before it starts")
	}

	r, err := rrule.StrToRRule(s.RRule)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Validation, op, err)
	}
	r.DTStart(s.First)

	var set rrule.Set
	set.RRule(r)
	loc := s.First.Location()
	times := set.Between(from.In(loc), to.In(loc), true)

	limit := s.Max
	if limit <= 0 {
		limit = DefaultMax
	}
	capped := false
	if len(times) > limit {
		times = times[:limit]
		capped = true
	}

	out := make([]model.Appointment, 0, len(times))
	seen := make(map[string]bool, len(times))
	for _, t := range times {
		t = t.In(loc)
		a := model.Appointment{
			Title:       s.Title,
			Description: s.Description,
			Date:        model.DateOf(t),
			Start:       model.Clock{Hour: t.Hour(), Minute: t.Minute()},
			Duration:    s.Duration,
			Status:      model.StatusFree,
		}
		// the server keeps one appointment per date and start
		k := key(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out, capped, nil
}

// Excluding drops candidates whose date and start are already taken by an
// existing appointment.
func Excluding(candidates, existing []model.Appointment) []model.Appointment {
	taken := make(map[string]bool, len(existing))
	for _, a := range existing {
		taken[key(a)] = true
	}
	out := make([]model.Appointment, 0, len(candidates))
	for _, a := range candidates {
		if !taken[key(a)] {
			out = append(out, a)
		}
	}
	return out
}

func key(a model.Appointment) string {
	return a.Date.String() + " " + a.Start.String()
}
