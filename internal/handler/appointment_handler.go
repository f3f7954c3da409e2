package handler

import (
	"context"
	"errors"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/cache"
	"schedule-client/internal/calendar"
	"schedule-client/internal/model"
	"schedule-client/internal/slots"
)

// Overview is the outcome of Refresh. Mine is only set for patients.
type Overview struct {
	Role model.Role
	Mine *cache.UserResult
}

// Refresh reloads the mirror for the current role: everything for admins,
// free slots plus their own bookings for patients.
func (h *Handler) Refresh(ctx context.Context, opts ...cache.LoadOption) (*Overview, error) {
	role := h.sess.CurrentRole()
	switch role {
	case model.RoleAdmin:
		if err := h.cache.LoadAll(ctx, opts...); err != nil {
			return nil, h.check(ctx, err)
		}
		return &Overview{Role: role}, nil
	case model.RolePatient:
		if err := h.cache.LoadFree(ctx, opts...); err != nil {
			return nil, h.check(ctx, err)
		}
		ov := &Overview{Role: role}
		if u := h.sess.CurrentUser(); u != nil && u.Email != "" {
			res := h.cache.LoadForUser(ctx, u.Email, role, opts...)
			if errors.Is(res.Err, cache.ErrStale) {
				return nil, res.Err
			}
			if res.Err != nil {
				h.log.Warn("own bookings not loaded", "source", res.Source, "error", res.Err)
				_ = h.check(ctx, res.Err)
			}
			ov.Mine = &res
		}
		return ov, nil
	default:
		return nil, apperr.New(apperr.Unauthorized, "refresh", "login required")
	}
}

// Projector binds a calendar view of month to the mirror.
func (h *Handler) Projector(m model.Month) *calendar.Projector {
	return calendar.NewProjector(h.cache, m)
}

// Get reads one appointment from the server.
func (h *Handler) Get(ctx context.Context, id int64) (model.Appointment, error) {
	if h.sess.CurrentRole() == model.RoleUnknown {
		return model.Appointment{}, apperr.New(apperr.Unauthorized, "get", "login required")
	}
	a, err := h.cache.Fetch(ctx, id)
	return a, h.check(ctx, err)
}

func (h *Handler) Create(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	const op = "create"
	if err := h.requireAdmin(op); err != nil {
		return model.Appointment{}, err
	}
	a.ID = 0
	if a.Status == "" {
		a.Status = model.StatusFree
	}
	if err := a.Validate(); err != nil {
		return model.Appointment{}, apperr.Wrap(apperr.Validation, op, err)
	}
	created, err := h.cache.Create(ctx, a)
	return created, h.check(ctx, err)
}

func (h *Handler) Update(ctx context.Context, id int64, a model.Appointment) (model.Appointment, error) {
	const op = "update"
	if err := h.requireAdmin(op); err != nil {
		return model.Appointment{}, err
	}
	if id <= 0 {
		return model.Appointment{}, apperr.New(apperr.Validation, op, "id required")
	}
	a.ID = id
	if err := a.Validate(); err != nil {
		return model.Appointment{}, apperr.Wrap(apperr.Validation, op, err)
	}
	updated, err := h.cache.Update(ctx, id, a)
	return updated, h.check(ctx, err)
}

func (h *Handler) Delete(ctx context.Context, id int64) error {
	const op = "delete"
	if err := h.requireAdmin(op); err != nil {
		return err
	}
	if id <= 0 {
		return apperr.New(apperr.Validation, op, "id required")
	}
	return h.check(ctx, h.cache.Delete(ctx, id))
}

// Generated reports a series publication. Skipped counts slots that were
// already taken locally or refused by the server as duplicates.
type Generated struct {
	Created []model.Appointment
	Skipped int
	Capped  bool
}

// GenerateSlots expands s within [from, to] and creates each free slot.
// It stops at the first failure other than a refused duplicate and returns
// what was created so far.
func (h *Handler) GenerateSlots(ctx context.Context, s slots.Series, from, to time.Time) (*Generated, error) {
	const op = "generate slots"
	if err := h.requireAdmin(op); err != nil {
		return nil, err
	}
	if s.First.IsZero() {
		return nil, apperr.New(apperr.Validation, op, "first occurrence required")
	}
	s.First = h.inLocation(s.First)
	cands, capped, err := slots.Expand(s, from, to)
	if err != nil {
		return nil, err
	}
	fresh := slots.Excluding(cands, h.cache.Appointments())
	out := &Generated{Skipped: len(cands) - len(fresh), Capped: capped}

	for _, a := range fresh {
		created, err := h.cache.Create(ctx, a)
		switch {
		case err == nil:
			out.Created = append(out.Created, created)
		case errors.Is(err, apperr.ErrValidation):
			h.log.Debug("slot refused", "date", a.Date, "start", a.Start, "error", err)
			out.Skipped++
		default:
			return out, h.check(ctx, err)
		}
	}
	h.log.Info("slots generated", "created", len(out.Created), "skipped", out.Skipped)
	return out, nil
}

// inLocation reads the wall clock of t in the handler's zone.
func (h *Handler) inLocation(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, h.loc)
}

// Patient carries the booking form. An empty Email falls back to the
// signed-in user's address.
type Patient struct {
	Name  string
	Email string
	Phone string
}

// Book reserves appointment id for p.
func (h *Handler) Book(ctx context.Context, id int64, p Patient) (model.Appointment, error) {
	const op = "book"
	if h.sess.CurrentRole() == model.RoleUnknown {
		return model.Appointment{}, apperr.New(apperr.Unauthorized, op, "login required")
	}
	a, ok := h.cache.Lookup(id)
	if !ok {
		var err error
		if a, err = h.cache.Fetch(ctx, id); err != nil {
			return model.Appointment{}, h.check(ctx, err)
		}
	}
	if err := h.flow.Select(a); err != nil {
		return model.Appointment{}, err
	}
	if p.Email == "" {
		if u := h.sess.CurrentUser(); u != nil {
			p.Email = u.Email
		}
	}
	booked, err := h.flow.Submit(ctx, p.Name, p.Email, p.Phone)
	return booked, h.check(ctx, err)
}
