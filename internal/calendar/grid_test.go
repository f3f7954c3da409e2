package calendar

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

func TestEndTime(t *testing.T) {
	tests := []struct {
		start string
		dur   int
		want  string
	}{
		{"09:00", 30, "09:30"},
		{"09:45", 30, "10:15"},
		{"23:50", 30, "00:20"},
		{"00:00", 240, "04:00"},
		{"22:30", 240, "02:30"},
		{"9:05", 15, "09:20"},
		{"10:00", -30, "09:30"},
		{"00:10", -30, "23:40"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s+%d", tt.start, tt.dur), func(t *testing.T) {
			got, err := EndTime(tt.start, tt.dur)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEndTimeStaysInRange(t *testing.T) {
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			start := fmt.Sprintf("%02d:%02d", h, m)
			for d := model.MinDuration; d <= model.MaxDuration; d++ {
				got, err := EndTime(start, d)
				if err != nil {
					t.Fatalf("%s+%d: %v", start, d, err)
				}
				c, err := model.ParseClock(got)
				if err != nil || len(got) != 5 {
					t.Fatalf("%s+%d produced %q", start, d, got)
				}
				if c.Minutes() != (h*60+m+d)%1440 {
					t.Fatalf("%s+%d produced %q", start, d, got)
				}
			}
		}
	}
}

func TestEndTimeRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "24:00", "12:60", "noon", "12-30", "12:3"} {
		if _, err := EndTime(in, 30); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", in, err)
		}
	}
}

func TestBuildMonthGridShape(t *testing.T) {
	for year := 2024; year <= 2027; year++ {
		for month := time.January; month <= time.December; month++ {
			m := model.Month{Year: year, Month: month}
			grid := BuildMonthGrid(m, nil)
			if len(grid) != GridCells {
				t.Fatalf("%s: expected 42 days, got %d", m, len(grid))
			}

			first := grid[0].Date().Time(time.UTC)
			if first.Weekday() != time.Monday {
				t.Fatalf("%s: grid starts on %s", m, first.Weekday())
			}
			firstOfMonth := m.First().Time(time.UTC)
			if first.After(firstOfMonth) || firstOfMonth.Sub(first) >= 7*24*time.Hour {
				t.Fatalf("%s: first cell %s is not the Monday on/before the 1st", m, first)
			}

			wantIdx := (int(firstOfMonth.Weekday()) + 6) % 7
			if d := grid[wantIdx]; d.Day != 1 || d.Month != month || !d.InMonth {
				t.Fatalf("%s: 1st expected at index %d, got %+v", m, wantIdx, d)
			}

			for i := 1; i < len(grid); i++ {
				prev := grid[i-1].Date().Time(time.UTC)
				cur := grid[i].Date().Time(time.UTC)
				if cur.Sub(prev) != 24*time.Hour {
					t.Fatalf("%s: gap between %s and %s", m, prev, cur)
				}
				if grid[i].InMonth != (grid[i].Month == month) {
					t.Fatalf("%s: InMonth wrong at %d", m, i)
				}
			}
		}
	}
}

func TestBuildMonthGridYearBoundaries(t *testing.T) {
	// January 2027 starts on a Friday, so the grid opens with Dec 28 2026.
	grid := BuildMonthGrid(model.Month{Year: 2027, Month: time.January}, nil)
	if g := grid[0]; g.Year != 2026 || g.Month != time.December || g.Day != 28 || g.InMonth {
		t.Fatalf("unexpected first cell %+v", g)
	}
	// December 2026 spills into January 2027.
	grid = BuildMonthGrid(model.Month{Year: 2026, Month: time.December}, nil)
	last := grid[len(grid)-1]
	if last.Year != 2027 || last.Month != time.January || last.InMonth {
		t.Fatalf("unexpected last cell %+v", last)
	}
}

func appt(id int64, date string, start string) model.Appointment {
	d, _ := model.ParseDate(date)
	c, _ := model.ParseClock(start)
	return model.Appointment{ID: id, Title: fmt.Sprint("slot ", id), Date: d, Start: c, Duration: 30, Status: model.StatusFree}
}

func TestBuildMonthGridAssignment(t *testing.T) {
	m := model.Month{Year: 2026, Month: time.October}
	appts := []model.Appointment{
		appt(1, "2026-10-14", "09:00"),
		appt(2, "2026-10-14", "10:00"),
		appt(3, "2026-09-28", "11:00"), // leading spill
		appt(4, "2026-11-08", "12:00"), // trailing spill
		appt(5, "2027-03-01", "09:00"), // outside grid, dropped
	}
	grid := BuildMonthGrid(m, appts)

	total := 0
	for _, d := range grid {
		total += len(d.Appointments)
		for _, a := range d.Appointments {
			if a.Date != d.Date() {
				t.Fatalf("appointment %d on wrong day %s", a.ID, d.Date())
			}
		}
	}
	if total != 4 {
		t.Fatalf("expected 4 assigned appointments, got %d", total)
	}

	day, ok := findDay(grid, model.Date{Year: 2026, Month: time.October, Day: 14})
	if !ok || len(day.Appointments) != 2 || day.Appointments[0].ID != 1 || day.Appointments[1].ID != 2 {
		t.Fatalf("expected ids 1,2 in order on the 14th, got %+v", day.Appointments)
	}
}

func TestBuildMonthGridIdempotent(t *testing.T) {
	m := model.Month{Year: 2026, Month: time.February}
	appts := []model.Appointment{appt(1, "2026-02-02", "09:00"), appt(2, "2026-02-28", "15:00")}
	a := BuildMonthGrid(m, appts)
	b := BuildMonthGrid(m, appts)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("grid is not deterministic")
	}
}
