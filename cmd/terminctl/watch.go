package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"schedule-client/internal/app"
	"schedule-client/internal/model"
	"schedule-client/internal/session"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep the session alive, reload on a schedule and serve metrics.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cron", Usage: "reload schedule, overrides the config"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "listen address, empty disables"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				spec := a.Config.WatchCron
				if c.IsSet("cron") {
					spec = c.String("cron")
				}
				addr := a.Config.MetricsAddr
				if c.IsSet("metrics-addr") {
					addr = c.String("metrics-addr")
				}
				return watch(ctx, c, a, spec, addr)
			})
		},
	}
}

func watch(ctx context.Context, c *cli.Context, a *app.App, spec, addr string) error {
	if a.Session.CurrentRole() == model.RoleUnknown {
		return errors.New("not logged in; run terminctl login")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reload := func() {
		rctx, cancel := context.WithTimeout(ctx, a.Config.LoadTimeout)
		defer cancel()
		if _, err := a.Handler.Refresh(rctx); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "reload failed: %v\n", needsLogin(a, err))
			return
		}
		fmt.Fprintf(c.App.Writer, "%s reloaded %d appointments\n", time.Now().Format(time.TimeOnly), len(a.Cache.Appointments()))
	}

	sched := cron.New()
	if _, err := sched.AddFunc(spec, reload); err != nil {
		return fmt.Errorf("watch cron %q: %w", spec, err)
	}

	var srv *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(c.App.ErrWriter, "metrics server: %v\n", err)
			}
		}()
	}

	// a rejected session ends the watch; there is nobody to log back in
	done, cancel := sessionEnded(a.Session)
	defer cancel()

	reload()
	sched.Start()

	var err error
	select {
	case <-ctx.Done():
	case <-done:
		err = errors.New("session ended; run terminctl login")
	}

	<-sched.Stop().Done()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}
	return err
}

type snapshotter interface {
	Subscribe(fn func(session.Snapshot)) (cancel func())
	Snapshot() session.Snapshot
}

// sessionEnded closes the returned channel once the session needs a new
// login, including when it already does.
func sessionEnded(s snapshotter) (<-chan struct{}, func()) {
	done := make(chan struct{})
	var once sync.Once
	check := func(snap session.Snapshot) {
		if snap.NeedsLogin() {
			once.Do(func() { close(done) })
		}
	}
	cancel := s.Subscribe(check)
	check(s.Snapshot())
	return done, cancel
}
