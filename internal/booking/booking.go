// Package booking drives the free to booked transition of one selected
// appointment.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"schedule-client/internal/apperr"
	"schedule-client/internal/model"
)

const minNameLen = 3

var (
	emailPattern = regexp.MustCompile(`(?i)^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,4}$`)
	phonePattern = regexp.MustCompile(`^[0-9]{6,}$`)
)

// Booker reserves appointments; the cache implements it.
type Booker interface {
	Book(ctx context.Context, req model.BookingRequest) (model.Appointment, error)
}

// Roles reports the role of the signed-in user.
type Roles interface {
	CurrentRole() model.Role
}

type Workflow struct {
	booker Booker
	roles  Roles
	log    *slog.Logger

	mu       sync.Mutex
	selected *model.Appointment
}

func New(b Booker, r Roles, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{booker: b, roles: r, log: log}
}

// Select makes a the target of the next Submit. Booked slots cannot be
// selected.
func (w *Workflow) Select(a model.Appointment) error {
	if a.Status != model.StatusFree {
		return apperr.New(apperr.Validation, "select", "appointment is not free")
	}
	w.mu.Lock()
	w.selected = &a
	w.mu.Unlock()
	return nil
}

func (w *Workflow) Selected() (model.Appointment, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return model.Appointment{}, false
	}
	return *w.selected, true
}

// Cancel drops the selection.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	w.selected = nil
	w.mu.Unlock()
}

// Submit books the selected appointment for the given patient. Input is
// checked before anything is sent. The selection is cleared on success and
// kept on failure.
func (w *Workflow) Submit(ctx context.Context, name, email, phone string) (model.Appointment, error) {
	const op = "book"
	if w.roles.CurrentRole() == model.RoleUnknown {
		return model.Appointment{}, apperr.New(apperr.Unauthorized, op, "login required")
	}
	target, ok := w.Selected()
	if !ok {
		return model.Appointment{}, apperr.New(apperr.Validation, op, "no appointment selected")
	}

	req := model.BookingRequest{
		AppointmentID: target.ID,
		PatientName:   strings.TrimSpace(name),
		PatientEmail:  strings.TrimSpace(email),
		PatientPhone:  strings.TrimSpace(phone),
	}
	if err := Validate(req); err != nil {
		return model.Appointment{}, err
	}

	booked, err := w.booker.Book(ctx, req)
	if err != nil {
		w.log.Warn("booking failed", "id", target.ID, "error", err)
		return model.Appointment{}, err
	}

	w.mu.Lock()
	if w.selected != nil && w.selected.ID == target.ID {
		w.selected = nil
	}
	w.mu.Unlock()
	w.log.Info("booking confirmed", "id", booked.ID)
	return booked, nil
}

// Validate checks the patient fields of req: a name of at least three
// characters, a plausible email and a phone number of six or more digits.
func Validate(req model.BookingRequest) error {
	var problems []string
	if utf8.RuneCountInString(strings.TrimSpace(req.PatientName)) < minNameLen {
		problems = append(problems, "name must have at least 3 characters")
	}
	if !emailPattern.MatchString(req.PatientEmail) {
		problems = append(problems, "email invalid")
	}
	if !phonePattern.MatchString(req.PatientPhone) {
		problems = append(problems, "phone must be at least 6 digits")
	}
	if len(problems) == 0 {
		return nil
	}
	return apperr.Wrap(apperr.Validation, "book", errors.New(strings.Join(problems, "; ")))
}
