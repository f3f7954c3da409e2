package handler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedule-client/internal/app"
	"schedule-client/internal/apperr"
	"schedule-client/internal/cache"
	"schedule-client/internal/config"
	"schedule-client/internal/fakeapi"
	"schedule-client/internal/handler"
	"schedule-client/internal/model"
	"schedule-client/internal/session"
	"schedule-client/internal/slots"
	"schedule-client/internal/store"
)

type env struct {
	fake *fakeapi.Server
	srv  *httptest.Server
}

func setup(t *testing.T) *env {
	t.Helper()
	fake := fakeapi.New("handler-test")
	fake.AddUser(fakeapi.Account{Username: "admin", Password: "adminpass", Email: "admin@praxis.de", Staff: true})
	fake.AddUser(fakeapi.Account{Username: "anna", Password: "annapass", Email: "anna@example.de", FirstName: "Anna"})
	fake.AddUser(fakeapi.Account{Username: "bob", Password: "bobpass", Email: "bob@example.de"})
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return &env{fake: fake, srv: srv}
}

// client starts a fresh client process against the fake server.
func (e *env) client(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = e.srv.URL + "/api"
	cfg.SessionBackend = config.BackendMemory
	cfg.LoadTimeout = 2 * time.Second
	cfg.RequestTimeout = 5 * time.Second
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000
	cfg.Timezone = "UTC"

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, log, app.WithStore(store.NewMemory()))
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func (e *env) login(t *testing.T, username, password string) (*app.App, *handler.Overview) {
	t.Helper()
	a := e.client(t)
	ov, err := a.Handler.Login(context.Background(), username, password)
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return a, ov
}

func slot(date, start string) model.Appointment {
	d, _ := model.ParseDate(date)
	c, _ := model.ParseClock(start)
	return model.Appointment{Title: "Sprechstunde", Date: d, Start: c, Duration: 30, Status: model.StatusFree}
}

func booked(date, start, email string) model.Appointment {
	a := slot(date, start)
	a.Status = model.StatusBooked
	a.PatientName, a.PatientEmail, a.PatientPhone = "Pat", email, "0301234567"
	return a
}

func TestAdminSeesEverything(t *testing.T) {
	e := setup(t)
	e.fake.Seed(slot("2026-10-20", "09:00"), booked("2026-10-20", "10:00", "anna@example.de"), slot("2026-10-21", "09:00"))

	a, ov := e.login(t, "admin", "adminpass")
	if ov.Role != model.RoleAdmin {
		t.Fatalf("expected admin, got %s", ov.Role)
	}
	appts := a.Cache.Appointments()
	if len(appts) != 3 {
		t.Fatalf("expected 3 appointments, got %d", len(appts))
	}
	nBooked := 0
	for _, x := range appts {
		if x.Status == model.StatusBooked {
			nBooked++
		}
	}
	if nBooked != 1 {
		t.Fatalf("expected the booked one too, got %d booked", nBooked)
	}
}

func TestGroupAdminLoadsEverything(t *testing.T) {
	e := setup(t)
	e.fake.AddUser(fakeapi.Account{Username: "grp", Password: "grppass", Email: "grp@praxis.de", Groups: []string{"admin"}})
	e.fake.Seed(slot("2026-10-20", "09:00"), booked("2026-10-20", "10:00", "anna@example.de"))

	a, ov := e.login(t, "grp", "grppass")
	if ov.Role != model.RoleAdmin {
		t.Fatalf("first load ran as %s, want admin", ov.Role)
	}
	if got := a.Session.CurrentRole(); got != model.RoleAdmin {
		t.Fatalf("session role %s, want admin", got)
	}
	if n := len(a.Cache.Appointments()); n != 2 {
		t.Fatalf("expected free and booked appointments, got %d", n)
	}
	if ov.Mine != nil {
		t.Fatal("admins get no per-user merge")
	}
}

func TestPatientSeesFreeAndOwn(t *testing.T) {
	e := setup(t)
	e.fake.Seed(slot("2026-10-20", "09:00"), booked("2026-10-20", "10:00", "anna@example.de"), booked("2026-10-20", "11:00", "bob@example.de"))

	a, ov := e.login(t, "anna", "annapass")
	if ov.Role != model.RolePatient {
		t.Fatalf("expected patient, got %s", ov.Role)
	}
	if ov.Mine == nil || ov.Mine.Source != cache.SourceAuthoritative || len(ov.Mine.Appointments) != 1 {
		t.Fatalf("unexpected own bookings %+v", ov.Mine)
	}
	for _, x := range a.Cache.Appointments() {
		if x.Status == model.StatusBooked && x.PatientEmail != "anna@example.de" {
			t.Fatalf("foreign booking leaked: %+v", x)
		}
	}
	if len(a.Cache.Appointments()) != 2 {
		t.Fatalf("expected free slot plus own booking, got %d", len(a.Cache.Appointments()))
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	e := setup(t)
	a := e.client(t)
	if _, err := a.Handler.Login(context.Background(), "anna", "wrong"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := a.Handler.Login(context.Background(), "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := a.Handler.Refresh(context.Background()); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized refresh, got %v", err)
	}
}

func TestWhoAmIReconciled(t *testing.T) {
	e := setup(t)
	a, _ := e.login(t, "anna", "annapass")
	a.Session.Wait()
	u, role, err := a.Handler.WhoAmI()
	if err != nil || role != model.RolePatient || u.FirstName != "Anna" {
		t.Fatalf("whoami: %+v %s %v", u, role, err)
	}
	if err := a.Handler.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.Handler.WhoAmI(); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout, got %v", err)
	}
	if len(a.Cache.Appointments()) != 0 {
		t.Fatal("logout should empty the mirror")
	}
}

func TestPatientCannotMutate(t *testing.T) {
	e := setup(t)
	ids := e.fake.Seed(slot("2026-10-20", "09:00"))
	a, _ := e.login(t, "anna", "annapass")
	ctx := context.Background()

	if _, err := a.Handler.Create(ctx, slot("2026-10-22", "09:00")); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("create: expected forbidden, got %v", err)
	}
	if _, err := a.Handler.Update(ctx, ids[0], slot("2026-10-22", "09:00")); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("update: expected forbidden, got %v", err)
	}
	if err := a.Handler.Delete(ctx, ids[0]); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("delete: expected forbidden, got %v", err)
	}
	if e.fake.Calls(fakeapi.RouteCreate)+e.fake.Calls(fakeapi.RouteUpdate)+e.fake.Calls(fakeapi.RouteDelete) != 0 {
		t.Fatal("gated calls reached the server")
	}
}

func TestAdminCRUD(t *testing.T) {
	e := setup(t)
	a, _ := e.login(t, "admin", "adminpass")
	ctx := context.Background()

	bad := slot("2026-10-22", "09:00")
	bad.Duration = 10
	if _, err := a.Handler.Create(ctx, bad); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if e.fake.Calls(fakeapi.RouteCreate) != 0 {
		t.Fatal("invalid appointment was sent")
	}

	created, err := a.Handler.Create(ctx, slot("2026-10-22", "09:00"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Cache.Lookup(created.ID); !ok {
		t.Fatal("created appointment missing from mirror")
	}

	change := created
	change.Title = "Kontrolle"
	if _, err := a.Handler.Update(ctx, created.ID, change); err != nil {
		t.Fatal(err)
	}
	if got, _ := a.Cache.Lookup(created.ID); got.Title != "Kontrolle" {
		t.Fatalf("update not mirrored: %+v", got)
	}

	got, err := a.Handler.Get(ctx, created.ID)
	if err != nil || got.Title != "Kontrolle" {
		t.Fatalf("get: %+v %v", got, err)
	}

	if err := a.Handler.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Cache.Lookup(created.ID); ok {
		t.Fatal("deleted appointment still mirrored")
	}
	if err := a.Handler.Delete(ctx, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBookingFlow(t *testing.T) {
	e := setup(t)
	ids := e.fake.Seed(slot("2026-10-20", "09:00"))
	anna, _ := e.login(t, "anna", "annapass")
	bob, _ := e.login(t, "bob", "bobpass")
	ctx := context.Background()

	got, err := anna.Handler.Book(ctx, ids[0], handler.Patient{Name: "Anna Muster", Phone: "0301234567"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if got.Status != model.StatusBooked || got.PatientEmail != "anna@example.de" {
		t.Fatalf("unexpected echo %+v", got)
	}
	if local, _ := anna.Cache.Lookup(ids[0]); local.Status != model.StatusBooked {
		t.Fatalf("mirror not updated: %+v", local)
	}

	// bob still sees the slot as free and loses the race
	if local, _ := bob.Cache.Lookup(ids[0]); local.Status != model.StatusFree {
		t.Fatalf("bob's mirror should be stale: %+v", local)
	}
	if _, err := bob.Handler.Book(ctx, ids[0], handler.Patient{Name: "Bob Beispiel", Phone: "0301234567"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected refused booking, got %v", err)
	}
	if _, err := bob.Handler.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := bob.Cache.Lookup(ids[0]); ok {
		t.Fatal("bob's mirror should converge: slot no longer free")
	}

	// booked never reverts on reload
	if _, err := anna.Handler.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if local, ok := anna.Cache.Lookup(ids[0]); !ok || local.Status != model.StatusBooked {
		t.Fatalf("booking reverted: %+v %v", local, ok)
	}
	admin, _ := e.login(t, "admin", "adminpass")
	if local, _ := admin.Cache.Lookup(ids[0]); local.Status != model.StatusBooked {
		t.Fatalf("admin should see the booking: %+v", local)
	}
}

func TestBookingValidatedLocally(t *testing.T) {
	e := setup(t)
	ids := e.fake.Seed(slot("2026-10-20", "09:00"))
	a, _ := e.login(t, "anna", "annapass")

	_, err := a.Handler.Book(context.Background(), ids[0], handler.Patient{Name: "Anna", Phone: "12345"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := e.fake.Calls(fakeapi.RouteBook); n != 0 {
		t.Fatalf("booking reached the server %d times", n)
	}
}

func TestBookingDeletedAppointment(t *testing.T) {
	e := setup(t)
	var ids []int64
	for i := 0; i < 7; i++ {
		ids = e.fake.Seed(slot("2026-10-20", model.Clock{Hour: 8 + i}.String()))
	}
	id := ids[0]
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	a, _ := e.login(t, "anna", "annapass")
	before, ok := a.Cache.Lookup(id)
	if !ok {
		t.Fatal("slot 7 should be mirrored")
	}
	e.fake.Remove(id)

	_, err := a.Handler.Book(context.Background(), id, handler.Patient{Name: "Anna", Phone: "0301234567"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if after, ok := a.Cache.Lookup(id); !ok || after != before {
		t.Fatalf("mirror for id 7 changed: %+v %v", after, ok)
	}
}

func TestExpiredAccessTokenRefreshedOnce(t *testing.T) {
	e := setup(t)
	e.fake.Seed(slot("2026-10-20", "09:00"))
	a, _ := e.login(t, "anna", "annapass")
	a.Session.Wait()

	e.fake.RevokeAccessTokens()
	if _, err := a.Handler.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after revocation: %v", err)
	}
	if n := e.fake.Calls(fakeapi.RouteRefresh); n != 1 {
		t.Fatalf("expected one token refresh, got %d", n)
	}
	if a.Session.State() != session.Active {
		t.Fatalf("session should stay active, got %s", a.Session.State())
	}
}

func TestRejectedSessionLogsOut(t *testing.T) {
	e := setup(t)
	a, _ := e.login(t, "anna", "annapass")
	a.Session.Wait()

	e.fake.RevokeRefreshTokens()
	e.fake.RevokeAccessTokens()
	_, err := a.Handler.Refresh(context.Background())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	snap := a.Session.Snapshot()
	if snap.State != session.LoggedOut || !snap.NeedsLogin() {
		t.Fatalf("expected a login prompt, got %+v", snap)
	}
}

func TestLoadFailureSurfaces(t *testing.T) {
	e := setup(t)
	e.fake.Seed(slot("2026-10-20", "09:00"))
	a, _ := e.login(t, "admin", "adminpass")

	e.fake.Fail(fakeapi.RouteList, http.StatusServiceUnavailable, 1)
	if _, err := a.Handler.Refresh(context.Background()); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(a.Cache.Appointments()) != 1 {
		t.Fatal("failed load must keep the mirror")
	}
}

func TestGenerateSlots(t *testing.T) {
	e := setup(t)
	a, _ := e.login(t, "admin", "adminpass")
	ctx := context.Background()
	first := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	series := slots.Series{Title: "Sprechstunde", RRule: "FREQ=DAILY;COUNT=5", First: first, Duration: 30}

	out, err := a.Handler.GenerateSlots(ctx, series, first, first.AddDate(0, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Created) != 5 || out.Skipped != 0 || e.fake.Len() != 5 {
		t.Fatalf("unexpected result %+v, server holds %d", out, e.fake.Len())
	}

	again, err := a.Handler.GenerateSlots(ctx, series, first, first.AddDate(0, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Created) != 0 || again.Skipped != 5 {
		t.Fatalf("second run should skip everything: %+v", again)
	}

	anna, _ := e.login(t, "anna", "annapass")
	if _, err := anna.Handler.GenerateSlots(ctx, series, first, first.AddDate(0, 0, 10)); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestProjectorFollowsMirror(t *testing.T) {
	e := setup(t)
	a, _ := e.login(t, "admin", "adminpass")
	p := a.Handler.Projector(model.Month{Year: 2026, Month: time.October})
	defer p.Close()

	created, err := a.Handler.Create(context.Background(), slot("2026-10-20", "09:00"))
	if err != nil {
		t.Fatal(err)
	}
	day, ok := p.SelectDay(created.Date)
	if !ok || len(day) != 1 || day[0].ID != created.ID {
		t.Fatalf("projector missed the new appointment: %+v", day)
	}
}
