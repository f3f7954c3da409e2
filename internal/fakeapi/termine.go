package fakeapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"schedule-client/internal/model"
)

func recordOf(a model.Appointment) Termin {
	status := "frei"
	if a.Status == model.StatusBooked {
		status = "gebucht"
	}
	return Termin{
		Titel:          a.Title,
		Beschreibung:   a.Description,
		Datum:          a.Date.String(),
		Uhrzeit:        a.Start.String() + ":00",
		DauerMinuten:   a.Duration,
		PatientName:    a.PatientName,
		PatientEmail:   a.PatientEmail,
		PatientTelefon: a.PatientPhone,
		Status:         status,
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	// admins see everything, patients only their own bookings
	out := s.sortedLocked(func(t *Termin) bool {
		return u.isAdmin() || t.PatientEmail == u.Email
	})
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) free(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := s.sortedLocked(func(t *Termin) bool { return t.Status == "frei" })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) byUser(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "bad email")
		return
	}
	if !u.isAdmin() && u.Email != email {
		writeDetail(w, http.StatusForbidden, "Sie haben keine Berechtigung, diese Termine einzusehen.")
		return
	}
	s.mu.Lock()
	out := s.sortedLocked(func(t *Termin) bool { return t.PatientEmail == email })
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Termin, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	s.mu.Lock()
	t, ok := s.termine[id]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return nil, false
	}
	return t, true
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	u := userFrom(r.Context())
	s.mu.Lock()
	rec := *t
	s.mu.Unlock()
	if !u.isAdmin() && rec.PatientEmail != u.Email {
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !userFrom(r.Context()).isAdmin() {
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return false
	}
	return true
}

// decodeRecord reads and checks a create/update body and reports which keys
// it carried. Uhrzeit is stored with seconds.
func decodeRecord(w http.ResponseWriter, r *http.Request) (Termin, map[string]bool, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return Termin{}, nil, false
	}
	var keys map[string]json.RawMessage
	var t Termin
	if json.Unmarshal(body, &keys) != nil || json.Unmarshal(body, &t) != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return Termin{}, nil, false
	}
	present := make(map[string]bool, len(keys))
	for k := range keys {
		present[k] = true
	}
	problems := map[string][]string{}
	if t.Titel == "" {
		problems["titel"] = []string{"This field may not be blank."}
	}
	if _, err := time.Parse("2006-01-02", t.Datum); err != nil {
		problems["datum"] = []string{"Date has wrong format. Use one of these formats instead: YYYY-MM-DD."}
	}
	if c, err := time.Parse("15:04", t.Uhrzeit); err == nil {
		t.Uhrzeit = c.Format("15:04:05")
	} else if c, err := time.Parse("15:04:05", t.Uhrzeit); err == nil {
		t.Uhrzeit = c.Format("15:04:05")
	} else {
		problems["uhrzeit"] = []string{"Time has wrong format. Use one of these formats instead: hh:mm[:ss[.uuuuuu]]."}
	}
	if t.DauerMinuten <= 0 {
		problems["dauer_minuten"] = []string{"Ensure this value is greater than 0."}
	}
	if t.Status != "frei" && t.Status != "gebucht" {
		problems["status"] = []string{strconv.Quote(t.Status) + " is not a valid choice."}
	}
	if len(problems) > 0 {
		writeJSON(w, http.StatusBadRequest, problems)
		return Termin{}, nil, false
	}
	return t, present, true
}

// slotTakenLocked reports another record at the same date and time.
func (s *Server) slotTakenLocked(t Termin, except int64) bool {
	for id, o := range s.termine {
		if id != except && o.Datum == t.Datum && o.Uhrzeit == t.Uhrzeit {
			return true
		}
	}
	return false
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	t, _, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.slotTakenLocked(t, 0) {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, []string{"Dieser Termin ist bereits vergeben."})
		return
	}
	s.nextID++
	t.ID = s.nextID
	now := time.Now().UTC().Format(time.RFC3339)
	t.ErstelltAm, t.AktualisiertAm = now, now
	s.termine[t.ID] = &t
	rec := t
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	cur, ok := s.lookup(w, r)
	if !ok {
		return
	}
	t, present, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	// optional fields missing from the body keep their stored value
	if !present["patient_name"] {
		t.PatientName = cur.PatientName
	}
	if !present["patient_email"] {
		t.PatientEmail = cur.PatientEmail
	}
	if !present["patient_telefon"] {
		t.PatientTelefon = cur.PatientTelefon
	}
	if !present["beschreibung"] {
		t.Beschreibung = cur.Beschreibung
	}
	if s.slotTakenLocked(t, cur.ID) {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"non_field_errors": {"The fields datum, uhrzeit must make a unique set."},
		})
		return
	}
	t.ID = cur.ID
	t.ErstelltAm = cur.ErstelltAm
	t.AktualisiertAm = time.Now().UTC().Format(time.RFC3339)
	s.termine[t.ID] = &t
	rec := t
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.termine, t.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// book reserves a free slot for the caller. The email always comes from the
// authenticated user.
func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		PatientName    string `json:"patient_name"`
		PatientPhone   string `json:"patient_phone"`
		PatientTelefon string `json:"patient_telefon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	phone := req.PatientPhone
	if phone == "" {
		phone = req.PatientTelefon
	}
	u := userFrom(r.Context())

	s.mu.Lock()
	if t.Status != "frei" {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Dieser Termin ist nicht mehr verfügbar.")
		return
	}
	t.PatientName = req.PatientName
	t.PatientEmail = u.Email
	t.PatientTelefon = phone
	t.Status = "gebucht"
	t.AktualisiertAm = time.Now().UTC().Format(time.RFC3339)
	rec := *t
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rec)
}
