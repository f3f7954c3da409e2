package calendar

import (
	"sync"
	"sync/atomic"
	"time"

	"schedule-client/internal/model"
	"schedule-client/internal/reactive"
)

// Source is the read side of the appointment mirror.
type Source interface {
	Appointments() []model.Appointment
	Subscribe(fn func([]model.Appointment)) (cancel func())
}

// Projector re-derives the month grid whenever the mirror or the viewed
// month changes. It never writes to its source.
type Projector struct {
	src   Source
	month *reactive.Cell[model.Month]
	grid  *reactive.Cell[[]model.CalendarDay]

	rebuildMu sync.Mutex
	mu        sync.Mutex
	selected  *model.Date
	cancels   []func()
	closed    atomic.Bool
}

func NewProjector(src Source, m model.Month) *Projector {
	p := &Projector{
		src:   src,
		month: reactive.NewCell(m),
		grid:  reactive.NewCell(BuildMonthGrid(m, src.Appointments())),
	}
	p.cancels = append(p.cancels,
		src.Subscribe(func([]model.Appointment) { p.rebuild() }),
		p.month.Subscribe(func(model.Month) { p.rebuild() }),
	)
	return p
}

func (p *Projector) rebuild() {
	if p.closed.Load() {
		return
	}
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()
	p.grid.Set(BuildMonthGrid(p.month.Get(), p.src.Appointments()))
}

// Grid returns the current 42-day projection.
func (p *Projector) Grid() []model.CalendarDay {
	return p.grid.Get()
}

func (p *Projector) Month() model.Month {
	return p.month.Get()
}

// SubscribeGrid is notified after every recomputation.
func (p *Projector) SubscribeGrid(fn func([]model.CalendarDay)) (cancel func()) {
	return p.grid.Subscribe(fn)
}

func (p *Projector) SetMonth(m model.Month) {
	if p.month.Get() == m {
		return
	}
	p.month.Set(m)
}

func (p *Projector) Next() model.Month {
	m := p.month.Get().AddMonths(1)
	p.SetMonth(m)
	return m
}

func (p *Projector) Previous() model.Month {
	m := p.month.Get().AddMonths(-1)
	p.SetMonth(m)
	return m
}

func (p *Projector) Today(now time.Time) model.Month {
	m := model.MonthOf(now)
	p.SetMonth(m)
	return m
}

// SelectDay narrows to the appointments of d. It reports false when d is
// not part of the grid.
func (p *Projector) SelectDay(d model.Date) ([]model.Appointment, bool) {
	day, ok := findDay(p.grid.Get(), d)
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	p.selected = &d
	p.mu.Unlock()
	return day.Appointments, true
}

// Selected resolves the selected date against the latest grid, so deleted
// appointments never linger in the selection.
func (p *Projector) Selected() (model.CalendarDay, bool) {
	p.mu.Lock()
	sel := p.selected
	p.mu.Unlock()
	if sel == nil {
		return model.CalendarDay{}, false
	}
	return findDay(p.grid.Get(), *sel)
}

func (p *Projector) ClearSelection() {
	p.mu.Lock()
	p.selected = nil
	p.mu.Unlock()
}

// Ticket captures the view context a request was issued for.
type Ticket struct {
	p     *Projector
	month model.Month
}

func (p *Projector) Ticket() Ticket {
	return Ticket{p: p, month: p.month.Get()}
}

// Current reports whether the view is still open on the same month.
func (t Ticket) Current() bool {
	return t.p != nil && !t.p.closed.Load() && t.p.month.Get() == t.month
}

func (t Ticket) Month() model.Month { return t.month }

// Close detaches the projector; later changes are no longer applied.
func (p *Projector) Close() {
	if p.closed.Swap(true) {
		return
	}
	for _, c := range p.cancels {
		c()
	}
}

func findDay(grid []model.CalendarDay, d model.Date) (model.CalendarDay, bool) {
	for _, day := range grid {
		if day.Date() == d {
			return day, true
		}
	}
	return model.CalendarDay{}, false
}
