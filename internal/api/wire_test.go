package api

import (
	"encoding/json"
	"testing"
	"time"

	"schedule-client/internal/model"
)

func TestFromWireTruncatesSeconds(t *testing.T) {
	a, err := fromWire(termin{
		ID: 7, Titel: "Vorsorge", Datum: "2026-10-14", Uhrzeit: "09:30:00",
		DauerMinuten: 45, Status: "gebucht",
		PatientName: "Anna Muster", PatientEmail: "anna@example.de", PatientTelefon: "0301234567",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Start.String() != "09:30" {
		t.Errorf("expected 09:30, got %s", a.Start)
	}
	if a.Status != model.StatusBooked || a.PatientPhone != "0301234567" {
		t.Errorf("unexpected mapping %+v", a)
	}
	if a.Date != (model.Date{Year: 2026, Month: time.October, Day: 14}) {
		t.Errorf("unexpected date %v", a.Date)
	}
}

func TestFromWireRejects(t *testing.T) {
	tests := []struct {
		name string
		in   termin
	}{
		{"bad status", termin{Datum: "2026-10-14", Uhrzeit: "09:00", Status: "reserviert"}},
		{"bad date", termin{Datum: "14.10.2026", Uhrzeit: "09:00", Status: "frei"}},
		{"bad time", termin{Datum: "2026-10-14", Uhrzeit: "9 Uhr", Status: "frei"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fromWire(tt.in); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestToWire(t *testing.T) {
	c, _ := model.ParseClock("08:05")
	w := toWire(model.Appointment{
		ID: 3, Title: "Kontrolle", Date: model.Date{Year: 2026, Month: time.March, Day: 2},
		Start: c, Duration: 30, Status: model.StatusFree,
	})
	if w.Uhrzeit != "08:05" || w.Datum != "2026-03-02" || w.Status != "frei" {
		t.Fatalf("unexpected wire record %+v", w)
	}
}

func TestToWirePatientFields(t *testing.T) {
	d := model.Date{Year: 2026, Month: time.March, Day: 2}
	c, _ := model.ParseClock("09:00")

	free, err := json.Marshal(toWire(model.Appointment{
		Title: "x", Date: d, Start: c, Duration: 30, Status: model.StatusFree,
		PatientName: "stale", PatientEmail: "stale@example.de",
	}))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(free, &got); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"patient_name", "patient_email", "patient_telefon"} {
		v, ok := got[k]
		if !ok || v != nil {
			t.Errorf("free body: %s = %v (present %v), want explicit null", k, v, ok)
		}
	}

	booked, _ := json.Marshal(toWire(model.Appointment{
		Title: "x", Date: d, Start: c, Duration: 30, Status: model.StatusBooked,
		PatientName: "Anna", PatientEmail: "anna@example.de", PatientPhone: "0301234567",
	}))
	got = nil
	json.Unmarshal(booked, &got)
	if got["patient_name"] != "Anna" || got["patient_email"] != "anna@example.de" || got["patient_telefon"] != "0301234567" {
		t.Fatalf("booked body: %s", booked)
	}
}

func TestTruncateSeconds(t *testing.T) {
	for in, want := range map[string]string{
		"09:30:00": "09:30",
		"23:59:59": "23:59",
		"09:30":    "09:30",
		"9:30":     "9:30",
		"":         "",
	} {
		if got := truncateSeconds(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestEscapeSegment(t *testing.T) {
	for in, want := range map[string]string{
		"anna@example.de":      "anna%40example.de",
		"a+b@example.de":       "a%2Bb%40example.de",
		"first last@x.de":      "first%20last%40x.de",
		"o'neil@example.co.uk": "o%27neil%40example.co.uk",
	} {
		if got := escapeSegment(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestDetail(t *testing.T) {
	for in, want := range map[string]string{
		`{"detail":"Not found."}`:                      "Not found.",
		`{"titel":["required"],"datum":["bad"]}`:       "datum: bad; titel: required",
		`["Dieser Termin ist bereits vergeben."]`:      "Dieser Termin ist bereits vergeben.",
		`<html>oops</html>`:                            "<html>oops</html>",
		``:                                             "",
	} {
		if got := detail([]byte(in)); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}
