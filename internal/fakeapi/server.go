// Package fakeapi is an in-memory stand-in for the appointment REST service
// and its token endpoints. Tests mount Handler on an httptest server and
// steer it with the fault injection helpers.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"schedule-client/internal/auth"
	"schedule-client/internal/model"
)

// route names for fault injection and call counting
const (
	RouteToken       = "token"
	RouteRefresh     = "refresh"
	RouteCurrentUser = "current-user"
	RouteList        = "list"
	RouteFree        = "free"
	RouteGet         = "get"
	RouteByUser      = "by-user"
	RouteCreate      = "create"
	RouteUpdate      = "update"
	RouteDelete      = "delete"
	RouteBook        = "book"
)

// Account seeds a user of the identity provider.
type Account struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Staff     bool
	Superuser bool
	Groups    []string
}

type user struct {
	Account
	id   int64
	hash string
}

func (u *user) isAdmin() bool {
	return u.Staff || slices.Contains(u.Groups, "admin")
}

func (u *user) model() model.User {
	return model.User{
		ID:          u.id,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsStaff:     u.Staff,
		IsSuperuser: u.Superuser,
		IsAdmin:     u.isAdmin(),
		Groups:      u.Groups,
	}
}

// Termin is the stored record in the server's own field names. Uhrzeit
// carries seconds like the real service.
type Termin struct {
	ID             int64  `json:"id"`
	Titel          string `json:"titel"`
	Beschreibung   string `json:"beschreibung"`
	Datum          string `json:"datum"`
	Uhrzeit        string `json:"uhrzeit"`
	DauerMinuten   int    `json:"dauer_minuten"`
	PatientName    string `json:"patient_name"`
	PatientEmail   string `json:"patient_email"`
	PatientTelefon string `json:"patient_telefon"`
	Status         string `json:"status"`
	ErstelltAm     string `json:"erstellt_am"`
	AktualisiertAm string `json:"aktualisiert_am"`
}

type fault struct {
	status int
	garble bool
	delay  time.Duration
	times  int // <= 0: until cleared
}

type Server struct {
	secret  string
	ttl     time.Duration
	limiter *RateLimiter

	mu       sync.Mutex
	users    map[string]*user
	nextUser int64
	termine  map[int64]*Termin
	nextID   int64
	refresh  map[string]string // refresh token hash -> username
	issued   []string
	revoked  map[string]bool
	faults   map[string]*fault
	calls    map[string]int
}

type Option func(*Server)

// WithTokenTTL sets the lifetime of issued access tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.ttl = d }
}

// WithLoginRateLimit limits token requests per client address.
func WithLoginRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(rps, burst) }
}

func New(secret string, opts ...Option) *Server {
	s := &Server{
		secret:  secret,
		ttl:     10 * time.Minute,
		users:   map[string]*user{},
		termine: map[int64]*Termin{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		faults:  map[string]*fault{},
		calls:   map[string]int{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler serves everything under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.With(s.limitLogin).Post("/token/", s.route(RouteToken, s.token))
		r.Post("/token/refresh/", s.route(RouteRefresh, s.refreshToken))

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/current-user/", s.route(RouteCurrentUser, s.currentUser))
			r.Get("/termine/", s.route(RouteList, s.list))
			r.Post("/termine/", s.route(RouteCreate, s.create))
			r.Get("/termine/verfuegbar/", s.route(RouteFree, s.free))
			r.Get("/termine/benutzer/{email}/", s.route(RouteByUser, s.byUser))
			r.Get("/termine/{id}/", s.route(RouteGet, s.get))
			r.Put("/termine/{id}/", s.route(RouteUpdate, s.update))
			r.Delete("/termine/{id}/", s.route(RouteDelete, s.remove))
			r.Post("/termine/{id}/buchen/", s.route(RouteBook, s.book))
		})
	})
	return r
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(a Account) int64 {
	hash, err := auth.HashPassword(a.Password)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	s.users[a.Username] = &user{Account: a, id: s.nextUser, hash: hash}
	return s.nextUser
}

// Seed stores appointments as the server would and returns their ids.
func (s *Server) Seed(appts ...model.Appointment) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(appts))
	for _, a := range appts {
		t := recordOf(a)
		s.nextID++
		t.ID = s.nextID
		now := time.Now().UTC().Format(time.RFC3339)
		t.ErstelltAm, t.AktualisiertAm = now, now
		s.termine[t.ID] = &t
		ids = append(ids, t.ID)
	}
	return ids
}

// Appointment returns the stored record.
func (s *Server) Appointment(id int64) (Termin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.termine[id]
	if !ok {
		return Termin{}, false
	}
	return *t, true
}

// Remove deletes a record behind the client's back.
func (s *Server) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.termine, id)
}

// Len is the number of stored records.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.termine)
}

// Fail answers the next times calls of route with status.
func (s *Server) Fail(route string, status, times int) {
	s.setFault(route, &fault{status: status, times: times})
}

// Garble answers the next times calls of route with a broken JSON body.
func (s *Server) Garble(route string, times int) {
	s.setFault(route, &fault{garble: true, times: times})
}

// Delay holds the next times calls of route for d before serving them.
func (s *Server) Delay(route string, d time.Duration, times int) {
	s.setFault(route, &fault{delay: d, times: times})
}

func (s *Server) Clear(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, route)
}

func (s *Server) setFault(route string, f *fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = f
}

// Calls reports how often route was hit, faults included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// RevokeAccessTokens rejects every access token issued so far.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.issued {
		s.revoked[t] = true
	}
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]string{}
}

func (s *Server) take(route string) *fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	f, ok := s.faults[route]
	if !ok {
		return nil
	}
	if f.times > 0 {
		f.times--
		if f.times == 0 {
			delete(s.faults, route)
		}
	}
	copied := *f
	return &copied
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f := s.take(name); f != nil {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-r.Context().Done():
					return
				}
			}
			if f.garble {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"garbled": [`))
				return
			}
			if f.status != 0 {
				writeDetail(w, f.status, "injected failure")
				return
			}
		}
		h(w, r)
	}
}

// sortedLocked returns the records matching keep, by id.
func (s *Server) sortedLocked(keep func(*Termin) bool) []Termin {
	out := []Termin{}
	for _, t := range s.termine {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
