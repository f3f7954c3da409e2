package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"schedule-client/internal/app"
	"schedule-client/internal/apperr"
	"schedule-client/internal/cache"
	"schedule-client/internal/handler"
	"schedule-client/internal/ics"
	"schedule-client/internal/model"
	"schedule-client/internal/slots"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in and store the session.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"TERMINCTL_PASSWORD"}, Usage: "read from stdin when empty"},
		},
		Action: func(c *cli.Context) error {
			password := c.String("password")
			if password == "" {
				fmt.Fprint(c.App.ErrWriter, "Password: ")
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				password = strings.TrimSpace(line)
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				ov, err := a.Handler.Login(ctx, c.String("username"), password)
				if errors.Is(err, apperr.ErrInvalidCredentials) {
					return errors.New("invalid username or password")
				}
				if err != nil {
					return err
				}
				a.Session.Wait()
				name := c.String("username")
				if u := a.Session.CurrentUser(); u != nil {
					name = u.Username
				}
				fmt.Fprintf(c.App.Writer, "logged in as %s (%s), %d appointments loaded\n", name, a.Session.CurrentRole(), len(a.Cache.Appointments()))
				printOwn(c, ov)
				return nil
			})
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored session.",
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				return a.Handler.Logout(ctx)
			})
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the signed-in user and role.",
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				a.Session.Wait()
				u, role, err := a.Handler.WhoAmI()
				if err != nil {
					return needsLogin(a, err)
				}
				name := u.DisplayName()
				if name == "" {
					name = u.Username
				}
				fmt.Fprintf(c.App.Writer, "%s <%s> role=%s state=%s\n", name, u.Email, role, a.Session.State())
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the appointments visible to you.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "free", Usage: "only free appointments"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				ov, err := a.Handler.Refresh(ctx)
				if err != nil {
					return needsLogin(a, err)
				}
				appts := a.Cache.Appointments()
				if c.Bool("free") {
					appts = onlyFree(appts)
				}
				printTable(c.App.Writer, appts)
				printOwn(c, ov)
				return nil
			})
		},
	}
}

func monthCommand() *cli.Command {
	return &cli.Command{
		Name:  "month",
		Usage: "Print the six week grid of a month.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "month", Aliases: []string{"m"}, Usage: "YYYY-MM, default current month"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				m, err := monthFlag(c, a)
				if err != nil {
					return err
				}
				p := a.Handler.Projector(m)
				defer p.Close()
				ticket := p.Ticket()
				if _, err := a.Handler.Refresh(ctx, cache.IfCurrent(ticket.Current)); err != nil {
					return needsLogin(a, err)
				}
				printGrid(c.App.Writer, p.Month(), p.Grid())
				return nil
			})
		},
	}
}

func dayCommand() *cli.Command {
	return &cli.Command{
		Name:  "day",
		Usage: "Show the appointments of one day.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "YYYY-MM-DD, default today"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				d := model.DateOf(time.Now().In(a.Handler.Location()))
				if s := c.String("date"); s != "" {
					var err error
					if d, err = model.ParseDate(s); err != nil {
						return err
					}
				}
				p := a.Handler.Projector(model.Month{Year: d.Year, Month: d.Month})
				defer p.Close()
				if _, err := a.Handler.Refresh(ctx, cache.IfCurrent(p.Ticket().Current)); err != nil {
					return needsLogin(a, err)
				}
				appts, ok := p.SelectDay(d)
				if !ok {
					return fmt.Errorf("%s is not on the grid", d)
				}
				fmt.Fprintf(c.App.Writer, "%s\n", d)
				printTable(c.App.Writer, appts)
				return nil
			})
		},
	}
}

func bookCommand() *cli.Command {
	return &cli.Command{
		Name:  "book",
		Usage: "Book a free appointment.",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true},
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "email", Usage: "default: your account email"},
			&cli.StringFlag{Name: "phone", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				if _, err := a.Handler.Refresh(ctx); err != nil {
					return needsLogin(a, err)
				}
				got, err := a.Handler.Book(ctx, c.Int64("id"), handler.Patient{
					Name: c.String("name"), Email: c.String("email"), Phone: c.String("phone"),
				})
				if err != nil {
					return needsLogin(a, err)
				}
				fmt.Fprintf(c.App.Writer, "booked #%d on %s at %s-%s\n", got.ID, got.Date, got.Start, got.End())
				return nil
			})
		},
	}
}

func appointmentFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Value: "Freier Termin"},
		&cli.StringFlag{Name: "description"},
		&cli.StringFlag{Name: "date", Required: required, Usage: "YYYY-MM-DD"},
		&cli.StringFlag{Name: "time", Value: "09:00", Usage: "HH:MM"},
		&cli.IntFlag{Name: "duration", Value: 30, Usage: "minutes, 15-240"},
	}
}

func appointmentFrom(c *cli.Context, base model.Appointment) (model.Appointment, error) {
	a := base
	if c.IsSet("title") || a.Title == "" {
		a.Title = c.String("title")
	}
	if c.IsSet("description") {
		a.Description = c.String("description")
	}
	if c.IsSet("date") || !a.Date.Valid() {
		d, err := model.ParseDate(c.String("date"))
		if err != nil {
			return a, err
		}
		a.Date = d
	}
	if c.IsSet("time") || a.ID == 0 {
		t, err := model.ParseClock(c.String("time"))
		if err != nil {
			return a, err
		}
		a.Start = t
	}
	if c.IsSet("duration") || a.Duration == 0 {
		a.Duration = c.Int("duration")
	}
	return a, nil
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a free appointment (administrators).",
		Flags: appointmentFlags(true),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				appt, err := appointmentFrom(c, model.Appointment{Status: model.StatusFree})
				if err != nil {
					return err
				}
				created, err := a.Handler.Create(ctx, appt)
				if err != nil {
					return needsLogin(a, err)
				}
				fmt.Fprintf(c.App.Writer, "created #%d\n", created.ID)
				return nil
			})
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Change an appointment (administrators).",
		Flags: append(appointmentFlags(false),
			&cli.Int64Flag{Name: "id", Required: true},
			&cli.BoolFlag{Name: "release", Usage: "mark free and drop the patient data"}),
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cur, err := a.Handler.Get(ctx, c.Int64("id"))
				if err != nil {
					return needsLogin(a, err)
				}
				appt, err := appointmentFrom(c, cur)
				if err != nil {
					return err
				}
				if c.Bool("release") {
					appt.Status = model.StatusFree
					appt.PatientName, appt.PatientEmail, appt.PatientPhone = "", "", ""
				}
				updated, err := a.Handler.Update(ctx, cur.ID, appt)
				if err != nil {
					return needsLogin(a, err)
				}
				fmt.Fprintf(c.App.Writer, "updated #%d\n", updated.ID)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an appointment (administrators).",
		Flags: []cli.Flag{&cli.Int64Flag{Name: "id", Required: true}},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				if err := a.Handler.Delete(ctx, c.Int64("id")); err != nil {
					return needsLogin(a, err)
				}
				fmt.Fprintf(c.App.Writer, "deleted #%d\n", c.Int64("id"))
				return nil
			})
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Publish a series of free appointments from a recurrence rule (administrators).",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Value: "Freier Termin"},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "rrule", Required: true, Usage: `e.g. "FREQ=WEEKLY;BYDAY=MO,WE;BYHOUR=9,10"`},
			&cli.StringFlag{Name: "first", Required: true, Usage: "first occurrence, YYYY-MM-DD HH:MM"},
			&cli.StringFlag{Name: "until", Required: true, Usage: "last day, YYYY-MM-DD"},
			&cli.IntFlag{Name: "duration", Value: 30},
			&cli.IntFlag{Name: "max", Value: slots.DefaultMax},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				loc := a.Handler.Location()
				first, err := time.ParseInLocation("2006-01-02 15:04", c.String("first"), loc)
				if err != nil {
					return fmt.Errorf("first: %w", err)
				}
				until, err := model.ParseDate(c.String("until"))
				if err != nil {
					return err
				}
				if _, err := a.Handler.Refresh(ctx); err != nil {
					return needsLogin(a, err)
				}
				out, err := a.Handler.GenerateSlots(ctx, slots.Series{
					Title:       c.String("title"),
					Description: c.String("description"),
					RRule:       c.String("rrule"),
					First:       first,
					Duration:    c.Int("duration"),
					Max:         c.Int("max"),
				}, first, until.Time(loc).AddDate(0, 0, 1).Add(-time.Second))
				if out != nil {
					fmt.Fprintf(c.App.Writer, "created %d, skipped %d\n", len(out.Created), out.Skipped)
					if out.Capped {
						fmt.Fprintln(c.App.Writer, "series was cut at --max")
					}
				}
				return needsLogin(a, err)
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the visible appointments as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "termine.ics", Usage: `"-" for stdout`},
			&cli.StringFlag{Name: "month", Aliases: []string{"m"}, Usage: "YYYY-MM, default all"},
			&cli.BoolFlag{Name: "patients", Usage: "include patient contacts"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				if _, err := a.Handler.Refresh(ctx); err != nil {
					return needsLogin(a, err)
				}
				opts := ics.Options{Location: a.Handler.Location(), Patients: c.Bool("patients")}
				if c.IsSet("month") {
					m, err := model.ParseMonth(c.String("month"))
					if err != nil {
						return err
					}
					opts.Month = &m
				}
				if c.String("out") == "-" {
					return ics.Write(c.App.Writer, a.Cache.Appointments(), opts)
				}
				f, err := os.Create(c.String("out"))
				if err != nil {
					return fmt.Errorf("create %s: %w", c.String("out"), err)
				}
				defer f.Close()
				if err := ics.Write(f, a.Cache.Appointments(), opts); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "wrote %s\n", c.String("out"))
				return f.Close()
			})
		},
	}
}

func monthFlag(c *cli.Context, a *app.App) (model.Month, error) {
	if s := c.String("month"); s != "" {
		return model.ParseMonth(s)
	}
	return model.MonthOf(time.Now().In(a.Handler.Location())), nil
}

// needsLogin turns a lost session into an actionable message.
func needsLogin(a *app.App, err error) error {
	if err == nil {
		return nil
	}
	if a.Session.Snapshot().NeedsLogin() || errors.Is(err, apperr.ErrUnauthorized) {
		return fmt.Errorf("%w; run terminctl login", err)
	}
	return err
}

func onlyFree(appts []model.Appointment) []model.Appointment {
	out := make([]model.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status == model.StatusFree {
			out = append(out, a)
		}
	}
	return out
}
