package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/missionctl/internal/activation"
	"github.com/dohr-michael/missionctl/internal/config"
	"github.com/dohr-michael/missionctl/internal/dispatch"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/gateway"
	"github.com/dohr-michael/missionctl/internal/ledger"
	"github.com/dohr-michael/missionctl/internal/lifecycle"
	"github.com/dohr-michael/missionctl/internal/store"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the mission control API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}

	if cmd.IsSet("host") {
		cfg.API.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.API.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.Seed.Path != "" {
		seed, err := config.LoadSeed(cfg.Seed.Path)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		if err := config.ApplySeed(ctx, st, seed); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		slog.Info("seed applied", "workspaces", len(seed.Workspaces))
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	lsync := ledger.NewSync(cfg.Ledger.Path)

	// Outbound gateway connection is lazy: the server starts even when
	// the agent gateway is down, and dispatches fail with 503 until it
	// comes back.
	client := dispatch.NewWSClient(cfg.Gateway.URL)
	engine := dispatch.NewEngine(st, client, lsync, bus)
	controller := lifecycle.NewController(st, engine, lsync, bus)
	orch := activation.NewOrchestrator(st, engine, lsync, bus)

	server := gateway.NewServer(st, controller, engine, orch, bus, cfg.API.Host, cfg.API.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
