package fakeapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"schedule-client/internal/fakeapi"
	"schedule-client/internal/model"
)

func newServer(t *testing.T, opts ...fakeapi.Option) (*fakeapi.Server, *httptest.Server) {
	t.Helper()
	fake := fakeapi.New("test-secret", opts...)
	fake.AddUser(fakeapi.Account{Username: "admin", Password: "adminpass", Staff: true})
	fake.AddUser(fakeapi.Account{Username: "anna", Password: "annapass", Email: "anna@example.de"})
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func post(t *testing.T, url, bearer string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url, bearer string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func login(t *testing.T, base, user, pw string) (access, refresh string) {
	t.Helper()
	resp := post(t, base+"/api/token/", "", map[string]string{"username": user, "password": pw})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", user, resp.StatusCode)
	}
	var out struct{ Access, Refresh string }
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	return out.Access, out.Refresh
}

func TestLoginRateLimit(t *testing.T) {
	_, srv := newServer(t, fakeapi.WithLoginRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		resp := post(t, srv.URL+"/api/token/", "", map[string]string{"username": "anna", "password": "wrong"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d, want 401", i, resp.StatusCode)
		}
	}
	resp := post(t, srv.URL+"/api/token/", "", map[string]string{"username": "anna", "password": "annapass"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", resp.StatusCode)
	}
}

func TestBearerRequired(t *testing.T) {
	fake, srv := newServer(t)

	if resp := get(t, srv.URL+"/api/termine/", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/termine/", "garbage"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}

	access, refresh := login(t, srv.URL, "anna", "annapass")
	if resp := get(t, srv.URL+"/api/termine/", access); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status %d", resp.StatusCode)
	}

	fake.RevokeAccessTokens()
	if resp := get(t, srv.URL+"/api/termine/", access); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token: status %d", resp.StatusCode)
	}
	resp := post(t, srv.URL+"/api/token/refresh/", "", map[string]string{"refresh": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d", resp.StatusCode)
	}

	fake.RevokeRefreshTokens()
	resp = post(t, srv.URL+"/api/token/refresh/", "", map[string]string{"refresh": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked refresh: status %d", resp.StatusCode)
	}
}

func TestPatientPermissions(t *testing.T) {
	fake, srv := newServer(t)
	d, _ := model.ParseDate("2026-10-20")
	ids := fake.Seed(model.Appointment{Title: "Termin", Date: d, Start: model.Clock{Hour: 9}, Duration: 30, Status: model.StatusFree})
	access, _ := login(t, srv.URL, "anna", "annapass")

	if resp := get(t, srv.URL+"/api/termine/benutzer/bob%40example.de/", access); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign bookings: status %d, want 403", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/termine/benutzer/anna%40example.de/", access); resp.StatusCode != http.StatusOK {
		t.Fatalf("own bookings: status %d", resp.StatusCode)
	}

	resp := post(t, srv.URL+"/api/termine/", access, map[string]any{
		"titel": "x", "datum": "2026-10-21", "uhrzeit": "09:00", "dauer_minuten": 30, "status": "frei",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patient create: status %d, want 403", resp.StatusCode)
	}
	if got := fake.Calls(fakeapi.RouteCreate); got != 1 {
		t.Fatalf("create calls = %d", got)
	}
	if fake.Len() != len(ids) {
		t.Fatalf("store changed: %d records", fake.Len())
	}
}

func TestFaultInjection(t *testing.T) {
	fake, srv := newServer(t)
	access, _ := login(t, srv.URL, "admin", "adminpass")

	fake.Fail(fakeapi.RouteList, http.StatusBadGateway, 1)
	if resp := get(t, srv.URL+"/api/termine/", access); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("faulted: status %d", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/api/termine/", access); resp.StatusCode != http.StatusOK {
		t.Fatalf("after fault: status %d", resp.StatusCode)
	}

	fake.Garble(fakeapi.RouteFree, 0)
	resp := get(t, srv.URL+"/api/termine/verfuegbar/", access)
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err == nil {
		t.Fatal("garbled body decoded")
	}
	fake.Clear(fakeapi.RouteFree)
	if got := fake.Calls(fakeapi.RouteList); got != 2 {
		t.Fatalf("list calls = %d", got)
	}
}

func TestUpdateKeepsMissingFields(t *testing.T) {
	fake, srv := newServer(t)
	d, _ := model.ParseDate("2026-10-20")
	id := fake.Seed(model.Appointment{
		Title: "Termin", Description: "Kontrolle", Date: d, Start: model.Clock{Hour: 9}, Duration: 30,
		Status: model.StatusBooked, PatientName: "Anna", PatientEmail: "anna@example.de", PatientPhone: "123456",
	})[0]
	access, _ := login(t, srv.URL, "admin", "adminpass")

	put := func(body string) int {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/termine/"+strconv.FormatInt(id, 10)+"/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put(`{"titel":"Neu","datum":"2026-10-20","uhrzeit":"09:00","dauer_minuten":30,"status":"frei"}`); code != http.StatusOK {
		t.Fatalf("put: status %d", code)
	}
	rec, _ := fake.Appointment(id)
	if rec.PatientEmail != "anna@example.de" || rec.Beschreibung != "Kontrolle" || rec.Titel != "Neu" {
		t.Fatalf("missing keys must keep stored values: %+v", rec)
	}

	if code := put(`{"titel":"Neu","datum":"2026-10-20","uhrzeit":"09:00","dauer_minuten":30,"status":"frei","patient_name":null,"patient_email":null,"patient_telefon":null}`); code != http.StatusOK {
		t.Fatalf("put: status %d", code)
	}
	rec, _ = fake.Appointment(id)
	if rec.PatientName != "" || rec.PatientEmail != "" || rec.PatientTelefon != "" {
		t.Fatalf("null keys must clear: %+v", rec)
	}
}
