package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"schedule-client/internal/app"
	"schedule-client/internal/config"
)

func main() {
	cliApp := &cli.App{
		Name:  "terminctl",
		Usage: "Manage and book appointments of a practice calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"TERMINCTL_CONFIG"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error; overrides the config"},
		},
		Commands: []*cli.Command{
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			listCommand(),
			monthCommand(),
			dayCommand(),
			bookCommand(),
			createCommand(),
			updateCommand(),
			deleteCommand(),
			generateCommand(),
			exportCommand(),
			watchCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("terminctl failed", "error", err)
		os.Exit(1)
	}
}

// withApp loads the config, builds the client and runs fn with it.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger := setupLogger(level)

	a, err := app.New(c.Context, cfg, logger)
	if err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer a.Close()
	return fn(c.Context, a)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
