package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"schedule-client/internal/handler"
	"schedule-client/internal/model"
)

func printTable(w io.Writer, appts []model.Appointment) {
	if len(appts) == 0 {
		fmt.Fprintln(w, "no appointments")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTIME\tMIN\tSTATUS\tTITLE\tPATIENT")
	for _, a := range appts {
		fmt.Fprintf(tw, "%d\t%s\t%s-%s\t%d\t%s\t%s\t%s\n",
			a.ID, a.Date, a.Start, a.End(), a.Duration, a.Status, a.Title, a.PatientName)
	}
	tw.Flush()
}

// printGrid renders the six week grid. Days outside the month are dimmed
// with brackets, the number after a day counts its free slots.
func printGrid(w io.Writer, m model.Month, grid []model.CalendarDay) {
	fmt.Fprintf(w, "%s\n", m)
	fmt.Fprintln(w, "  Mo    Di    Mi    Do    Fr    Sa    So")
	for i, d := range grid {
		free := 0
		for _, a := range d.Appointments {
			if a.Status == model.StatusFree {
				free++
			}
		}
		cell := fmt.Sprintf(" %2d  ", d.Day)
		if !d.InMonth {
			cell = fmt.Sprintf("[%2d] ", d.Day)
		} else if free > 0 {
			cell = fmt.Sprintf(" %2d:%d", d.Day, free)
		}
		fmt.Fprintf(w, "%-6s", cell)
		if i%7 == 6 {
			fmt.Fprintln(w)
		}
	}
}

func printOwn(c *cli.Context, ov *handler.Overview) {
	if ov == nil || ov.Mine == nil {
		return
	}
	if ov.Mine.Err != nil {
		fmt.Fprintf(c.App.ErrWriter, "your bookings could not be loaded: %v\n", ov.Mine.Err)
		return
	}
	fmt.Fprintf(c.App.Writer, "your bookings (%s):\n", ov.Mine.Source)
	printTable(c.App.Writer, ov.Mine.Appointments)
}
