// Package ics writes appointments as an iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/emersion/go-ical"

	"schedule-client/internal/model"
)

const ProductID = "-//schedule-client//terminctl//DE"

type Options struct {
	// Location interprets appointment dates and times; nil means UTC.
	Location *time.Location
	// Month limits the feed to one month when set.
	Month *model.Month
	// Patients adds the booking patient as attendee.
	Patients bool
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// UID is stable per appointment id so calendar apps update in place.
func UID(id int64) string {
	return "termin-" + strconv.FormatInt(id, 10) + "@schedule-client"
}

// Calendar builds the VCALENDAR for appts.
func Calendar(appts []model.Appointment, o Options) *ical.Calendar {
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	for _, a := range appts {
		if o.Month != nil && (a.Date.Year != o.Month.Year || a.Date.Month != o.Month.Month) {
			continue
		}
		cal.Children = append(cal.Children, event(a, loc, now, o.Patients))
	}
	return cal
}

func event(a model.Appointment, loc *time.Location, now time.Time, patients bool) *ical.Component {
	start := a.Date.At(a.Start, loc)
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, UID(a.ID))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(time.Duration(a.Duration)*time.Minute))

	summary := a.Title
	status := "CONFIRMED"
	if a.Status == model.StatusFree {
		summary += " (frei)"
		status = "TENTATIVE"
	}
	ve.Props.SetText(ical.PropSummary, summary)
	ve.Props.SetText(ical.PropStatus, status)
	if a.Description != "" {
		ve.Props.SetText(ical.PropDescription, a.Description)
	}
	if patients && a.Status == model.StatusBooked && a.PatientEmail != "" {
		p := ical.NewProp(ical.PropAttendee)
		p.Params.Set(ical.ParamCommonName, a.PatientName)
		p.SetText(fmt.Sprintf("mailto:%s", a.PatientEmail))
		ve.Props.Add(p)
	}
	return ve
}

// Write encodes the feed for appts to w.
func Write(w io.Writer, appts []model.Appointment, o Options) error {
	if err := ical.NewEncoder(w).Encode(Calendar(appts, o)); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
