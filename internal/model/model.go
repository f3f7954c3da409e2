package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusFree   Status = "free"
	StatusBooked Status = "booked"
)

// duration bounds in minutes, inclusive
const (
	MinDuration = 15
	MaxDuration = 240
)

// Appointment is a bookable slot. ID is zero until the server assigns one.
type Appointment struct {
	ID           int64
	Title        string
	Description  string
	Date         Date
	Start        Clock
	Duration     int
	Status       Status
	PatientName  string
	PatientEmail string
	PatientPhone string
}

// Validate checks the record invariants: duration bounds, a known status and
// patient fields that are empty while free and all set once booked.
func (a Appointment) Validate() error {
	var problems []string
	if strings.TrimSpace(a.Title) == "" {
		problems = append(problems, "title required")
	}
	if !a.Date.Valid() {
		problems = append(problems, "date invalid")
	}
	if !a.Start.Valid() {
		problems = append(problems, "start time invalid")
	}
	if a.Duration < MinDuration || a.Duration > MaxDuration {
		problems = append(problems, fmt.Sprintf("duration must be %d-%d minutes", MinDuration, MaxDuration))
	}
	switch a.Status {
	case StatusFree:
		if a.PatientName != "" || a.PatientEmail != "" || a.PatientPhone != "" {
			problems = append(problems, "free appointment carries patient data")
		}
	case StatusBooked:
		if a.PatientName == "" || a.PatientEmail == "" || a.PatientPhone == "" {
			problems = append(problems, "booked appointment needs patient name, email and phone")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown status %q", a.Status))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// End is the wall-clock end of the slot, wrapping at midnight.
func (a Appointment) End() Clock {
	return a.Start.Add(a.Duration)
}

// BookingRequest carries the patient identity for a reservation.
type BookingRequest struct {
	AppointmentID int64
	PatientName   string
	PatientEmail  string
	PatientPhone  string
}

// CalendarDay is one cell of the 6x7 month grid.
type CalendarDay struct {
	Day          int
	Month        time.Month
	Year         int
	InMonth      bool
	Appointments []Appointment
}

func (d CalendarDay) Date() Date {
	return Date{Year: d.Year, Month: d.Month, Day: d.Day}
}

type User struct {
	ID          int64    `json:"id,omitempty"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	IsStaff     bool     `json:"is_staff,omitempty"`
	IsSuperuser bool     `json:"is_superuser,omitempty"`
	IsAdmin     bool     `json:"is_admin,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// DisplayName is "first last" when a first name is known.
func (u User) DisplayName() string {
	if u.FirstName == "" {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RolePatient Role = "patient"
	RoleUnknown Role = "unknown"
)

type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
