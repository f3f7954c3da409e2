package api

import (
	"fmt"

	"schedule-client/internal/model"
)

const (
	wireFree   = "frei"
	wireBooked = "gebucht"
)

// termin is the server's appointment record.
type termin struct {
	ID             int64  `json:"id,omitempty"`
	Titel          string `json:"titel"`
	Beschreibung   string `json:"beschreibung"`
	Datum          string `json:"datum"`
	Uhrzeit        string `json:"uhrzeit"`
	DauerMinuten   int    `json:"dauer_minuten"`
	PatientName    string `json:"patient_name,omitempty"`
	PatientEmail   string `json:"patient_email,omitempty"`
	PatientTelefon string `json:"patient_telefon,omitempty"`
	Status         string `json:"status"`
	ErstelltAm     string `json:"erstellt_am,omitempty"`
	AktualisiertAm string `json:"aktualisiert_am,omitempty"`
}

// terminBody is the create/update body. Patient fields are always sent, as
// null when empty, because a PUT keeps any field missing from the body.
type terminBody struct {
	Titel          string  `json:"titel"`
	Beschreibung   string  `json:"beschreibung"`
	Datum          string  `json:"datum"`
	Uhrzeit        string  `json:"uhrzeit"`
	DauerMinuten   int     `json:"dauer_minuten"`
	PatientName    *string `json:"patient_name"`
	PatientEmail   *string `json:"patient_email"`
	PatientTelefon *string `json:"patient_telefon"`
	Status         string  `json:"status"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// buchung is the reserve request body. The server reads the phone number
// from patient_phone, the record exposes it as patient_telefon: send both.
type buchung struct {
	PatientName    string `json:"patient_name"`
	PatientEmail   string `json:"patient_email"`
	PatientTelefon string `json:"patient_telefon"`
	PatientPhone   string `json:"patient_phone"`
}

func statusFromWire(s string) (model.Status, error) {
	switch s {
	case wireFree:
		return model.StatusFree, nil
	case wireBooked:
		return model.StatusBooked, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func statusToWire(s model.Status) string {
	if s == model.StatusBooked {
		return wireBooked
	}
	return wireFree
}

// truncateSeconds turns HH:MM:SS into HH:MM; other input is returned as is.
func truncateSeconds(s string) string {
	if len(s) == 8 && s[2] == ':' && s[5] == ':' {
		return s[:5]
	}
	return s
}

func fromWire(t termin) (model.Appointment, error) {
	d, err := model.ParseDate(t.Datum)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("termin %d: %w", t.ID, err)
	}
	c, err := model.ParseClock(truncateSeconds(t.Uhrzeit))
	if err != nil {
		return model.Appointment{}, fmt.Errorf("termin %d: %w", t.ID, err)
	}
	st, err := statusFromWire(t.Status)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("termin %d: %w", t.ID, err)
	}
	return model.Appointment{
		ID:           t.ID,
		Title:        t.Titel,
		Description:  t.Beschreibung,
		Date:         d,
		Start:        c,
		Duration:     t.DauerMinuten,
		Status:       st,
		PatientName:  t.PatientName,
		PatientEmail: t.PatientEmail,
		PatientPhone: t.PatientTelefon,
	}, nil
}

func fromWireList(ts []termin) ([]model.Appointment, error) {
	out := make([]model.Appointment, 0, len(ts))
	for _, t := range ts {
		a, err := fromWire(t)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// toWire leaves the id to the path; time goes out as HH:MM. A free slot
// never carries patient data.
func toWire(a model.Appointment) terminBody {
	b := terminBody{
		Titel:        a.Title,
		Beschreibung: a.Description,
		Datum:        a.Date.String(),
		Uhrzeit:      a.Start.String(),
		DauerMinuten: a.Duration,
		Status:       statusToWire(a.Status),
	}
	if a.Status == model.StatusBooked {
		b.PatientName = nullable(a.PatientName)
		b.PatientEmail = nullable(a.PatientEmail)
		b.PatientTelefon = nullable(a.PatientPhone)
	}
	return b
}
