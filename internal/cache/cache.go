// Package cache mirrors the server's appointments locally. Readers get a
// snapshot slice that is never modified in place; every mutator swaps in a
// new slice after its remote call succeeded, so a failed call leaves the
// mirror as it was.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"schedule-client/internal/apperr"
	"schedule-client/internal/metrics"
	"schedule-client/internal/model"
	"schedule-client/internal/reactive"
)

const DefaultWatchdog = 10 * time.Second

// ErrStale means the response arrived after its view moved on and was dropped.
var ErrStale = errors.New("response discarded: view changed")

// Remote is the appointment store.
type Remote interface {
	ListAll(ctx context.Context) ([]model.Appointment, error)
	ListFree(ctx context.Context) ([]model.Appointment, error)
	ListByUser(ctx context.Context, email string) ([]model.Appointment, error)
	Get(ctx context.Context, id int64) (model.Appointment, error)
	Create(ctx context.Context, a model.Appointment) (model.Appointment, error)
	Update(ctx context.Context, id int64, a model.Appointment) (model.Appointment, error)
	Delete(ctx context.Context, id int64) error
	Book(ctx context.Context, req model.BookingRequest) (model.Appointment, error)
}

type Option func(*Cache)

// WithWatchdog bounds list calls; zero disables the bound.
func WithWatchdog(d time.Duration) Option {
	return func(c *Cache) { c.watchdog = d }
}

// WithStrict makes undecodable payloads fail without touching the mirror.
// Otherwise the mirror degrades to empty and the error is still returned.
func WithStrict(strict bool) Option {
	return func(c *Cache) { c.strict = strict }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

type Cache struct {
	remote   Remote
	items    *reactive.Cell[[]model.Appointment]
	watchdog time.Duration
	strict   bool
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func New(remote Remote, opts ...Option) *Cache {
	c := &Cache{
		remote:   remote,
		items:    reactive.NewCell([]model.Appointment{}),
		watchdog: DefaultWatchdog,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.items.Subscribe(func(a []model.Appointment) { c.metrics.SetAppointments(len(a)) })
	return c
}

// Appointments returns the current snapshot. Callers must not modify it.
func (c *Cache) Appointments() []model.Appointment {
	return c.items.Get()
}

// Lookup finds an appointment in the mirror.
func (c *Cache) Lookup(id int64) (model.Appointment, bool) {
	for _, a := range c.items.Get() {
		if a.ID == id {
			return a, true
		}
	}
	return model.Appointment{}, false
}

// Subscribe is notified with the new snapshot after every change.
func (c *Cache) Subscribe(fn func([]model.Appointment)) (cancel func()) {
	return c.items.Subscribe(fn)
}

// Reset empties the mirror, e.g. after logout.
func (c *Cache) Reset() {
	c.items.Set([]model.Appointment{})
}

type loadOpts struct {
	current func() bool
}

type LoadOption func(*loadOpts)

// IfCurrent drops the response unless current still reports true when it
// arrives.
func IfCurrent(current func() bool) LoadOption {
	return func(o *loadOpts) { o.current = current }
}

// LoadAll replaces the mirror with every appointment.
func (c *Cache) LoadAll(ctx context.Context, opts ...LoadOption) error {
	return c.load(ctx, "load_all", c.remote.ListAll, opts)
}

// LoadFree replaces the mirror with the free appointments.
func (c *Cache) LoadFree(ctx context.Context, opts ...LoadOption) error {
	return c.load(ctx, "load_free", c.remote.ListFree, opts)
}

func buildOpts(opts []LoadOption) loadOpts {
	o := loadOpts{current: func() bool { return true }}
	for _, f := range opts {
		f(&o)
	}
	return o
}

func (c *Cache) load(ctx context.Context, op string, fetch func(context.Context) ([]model.Appointment, error), opts []LoadOption) error {
	o := buildOpts(opts)

	appts, err := c.guard(ctx, op, fetch)
	if err == nil && !o.current() {
		err = ErrStale
	}
	c.metrics.ObserveCacheOp(op, err)
	switch {
	case err == nil:
		c.items.Set(normalize(appts))
		c.log.Debug("mirror replaced", "op", op, "count", len(appts))
		return nil
	case errors.Is(err, ErrStale):
		c.log.Debug("stale response dropped", "op", op)
		return err
	case errors.Is(err, apperr.ErrMalformed) && !c.strict && o.current():
		c.log.Error("undecodable payload, mirror emptied", "op", op, "error", err)
		c.items.Set([]model.Appointment{})
		return err
	default:
		c.log.Warn("load failed", "op", op, "error", err)
		return err
	}
}

// guard runs fetch under the watchdog. The call is abandoned when nothing
// arrives in time, even if fetch ignores its context.
func (c *Cache) guard(ctx context.Context, op string, fetch func(context.Context) ([]model.Appointment, error)) ([]model.Appointment, error) {
	if c.watchdog <= 0 {
		return fetch(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, c.watchdog)
	defer cancel()

	type result struct {
		appts []model.Appointment
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		a, err := fetch(wctx)
		ch <- result{a, err}
	}()

	select {
	case r := <-ch:
		return r.appts, r.err
	case <-wctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.Transport, op, err)
		}
		return nil, apperr.New(apperr.Transport, op, fmt.Sprintf("no response within %s", c.watchdog))
	}
}

// Source tells which branch produced a per-user result.
type Source int

const (
	SourceNone Source = iota
	SourceAuthoritative
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceAuthoritative:
		return "authoritative"
	case SourceFallback:
		return "fallback"
	default:
		return "none"
	}
}

// UserResult is the outcome of LoadForUser. With SourceFallback, Err holds
// the failure of the per-user query that forced the fallback.
type UserResult struct {
	Appointments []model.Appointment
	Source       Source
	Err          error
}

// LoadForUser fetches the bookings of email and merges them into the mirror.
// If the per-user query fails and role is admin, the full list is fetched
// and filtered to booked records of email instead. A result whose view is no
// longer current is not merged and reports ErrStale.
func (c *Cache) LoadForUser(ctx context.Context, email string, role model.Role, opts ...LoadOption) UserResult {
	const op = "load_for_user"
	o := buildOpts(opts)
	appts, err := c.guard(ctx, op, func(ctx context.Context) ([]model.Appointment, error) {
		return c.remote.ListByUser(ctx, email)
	})
	if err == nil && !o.current() {
		c.metrics.ObserveCacheOp(op, ErrStale)
		c.log.Debug("stale response dropped", "op", op)
		return UserResult{Err: ErrStale}
	}
	if err == nil {
		c.metrics.ObserveCacheOp(op, nil)
		c.merge(appts)
		return UserResult{Appointments: normalize(appts), Source: SourceAuthoritative}
	}
	if role != model.RoleAdmin {
		c.metrics.ObserveCacheOp(op, err)
		return UserResult{Err: err}
	}

	c.log.Warn("per-user query failed, falling back to full list", "error", err)
	all, ferr := c.guard(ctx, op, c.remote.ListAll)
	if ferr != nil {
		joined := errors.Join(err, ferr)
		c.metrics.ObserveCacheOp(op, joined)
		return UserResult{Err: joined}
	}
	if !o.current() {
		c.metrics.ObserveCacheOp(op, ErrStale)
		c.log.Debug("stale response dropped", "op", op)
		return UserResult{Err: ErrStale}
	}
	filtered := []model.Appointment{}
	for _, a := range all {
		if a.Status == model.StatusBooked && strings.EqualFold(a.PatientEmail, email) {
			filtered = append(filtered, a)
		}
	}
	c.metrics.ObserveCacheOp(op+"_fallback", nil)
	c.merge(filtered)
	return UserResult{Appointments: filtered, Source: SourceFallback, Err: err}
}

// Fetch reads one appointment and reconciles it into the mirror. A 404
// removes the local copy.
func (c *Cache) Fetch(ctx context.Context, id int64) (model.Appointment, error) {
	a, err := c.remote.Get(ctx, id)
	c.metrics.ObserveCacheOp("fetch", err)
	if errors.Is(err, apperr.ErrNotFound) {
		c.remove(id)
		return model.Appointment{}, err
	}
	if err != nil {
		return model.Appointment{}, err
	}
	c.merge([]model.Appointment{a})
	return a, nil
}

// Create adds the server's record to the mirror exactly once.
func (c *Cache) Create(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	created, err := c.remote.Create(ctx, a)
	c.metrics.ObserveCacheOp("create", err)
	if err != nil {
		return model.Appointment{}, err
	}
	c.merge([]model.Appointment{created})
	c.log.Info("appointment created", "id", created.ID)
	return created, nil
}

// Update replaces the record by id. A record absent from the mirror is not
// added.
func (c *Cache) Update(ctx context.Context, id int64, a model.Appointment) (model.Appointment, error) {
	updated, err := c.remote.Update(ctx, id, a)
	c.metrics.ObserveCacheOp("update", err)
	if err != nil {
		return model.Appointment{}, err
	}
	c.replace(id, updated)
	c.log.Info("appointment updated", "id", id)
	return updated, nil
}

// Delete removes the record by id once the server confirmed.
func (c *Cache) Delete(ctx context.Context, id int64) error {
	err := c.remote.Delete(ctx, id)
	c.metrics.ObserveCacheOp("delete", err)
	if err != nil {
		return err
	}
	c.remove(id)
	c.log.Info("appointment deleted", "id", id)
	return nil
}

// Book reserves an appointment. The local record takes the server's echo;
// nothing is synthesized locally.
func (c *Cache) Book(ctx context.Context, req model.BookingRequest) (model.Appointment, error) {
	echo, err := c.remote.Book(ctx, req)
	c.metrics.ObserveCacheOp("book", err)
	if err != nil {
		return model.Appointment{}, err
	}
	id := echo.ID
	if id == 0 {
		id = req.AppointmentID
		echo.ID = id
	}
	c.replace(id, echo)
	c.log.Info("appointment booked", "id", id)
	return echo, nil
}

// merge upserts by id, appending unknown records in order.
func (c *Cache) merge(in []model.Appointment) {
	if len(in) == 0 {
		return
	}
	c.items.Update(func(cur []model.Appointment) []model.Appointment {
		next := slices.Clone(cur)
		for _, a := range in {
			if i := indexOf(next, a.ID); i >= 0 {
				next[i] = a
			} else {
				next = append(next, a)
			}
		}
		return next
	})
}

func (c *Cache) replace(id int64, a model.Appointment) {
	c.items.Update(func(cur []model.Appointment) []model.Appointment {
		i := indexOf(cur, id)
		if i < 0 {
			return cur
		}
		next := slices.Clone(cur)
		next[i] = a
		return next
	})
}

func (c *Cache) remove(id int64) {
	c.items.Update(func(cur []model.Appointment) []model.Appointment {
		if indexOf(cur, id) < 0 {
			return cur
		}
		return slices.DeleteFunc(slices.Clone(cur), func(a model.Appointment) bool { return a.ID == id })
	})
}

func indexOf(appts []model.Appointment, id int64) int {
	return slices.IndexFunc(appts, func(a model.Appointment) bool { return a.ID == id })
}

func normalize(appts []model.Appointment) []model.Appointment {
	if appts == nil {
		return []model.Appointment{}
	}
	return appts
}
