package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/questtrail/internal/config"
	"github.com/playperu/questtrail/internal/database"
	"github.com/playperu/questtrail/internal/proximity"
	"github.com/playperu/questtrail/internal/quest"
	"github.com/playperu/questtrail/internal/runtime"
	"github.com/playperu/questtrail/internal/server"
	"github.com/playperu/questtrail/internal/session"
	"github.com/playperu/questtrail/internal/state"
	"github.com/playperu/questtrail/internal/teamsync"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Quest definition ---
	q, err := quest.Load(cfg.QuestFile)
	if err != nil {
		return fmt.Errorf("loading quest: %w", err)
	}
	logger.Info("quest loaded", "quest", q.ID, "version", q.Version, "stops", len(q.Stops))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	st, err := state.Open(ctx, db)
	if err != nil {
		return fmt.Errorf("initializing local state: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- Runtime sync client ---
	rt := runtime.NewClient(cfg.RuntimeBaseURL, cfg.RuntimeTimeout, logger)

	// --- Team channel (team mode only) ---
	g, gctx := errgroup.WithContext(ctx)

	var team session.TeamChannel
	var channel *teamsync.Channel
	if cfg.TeamCode != "" && cfg.TeamWSURL != "" {
		playerName, _ := st.GetOr(ctx, state.KeyPlayerName, "")
		channel, err = teamsync.Dial(ctx, cfg.TeamWSURL, cfg.TeamCode, playerName, teamsync.Handlers{}, logger)
		if err != nil {
			return fmt.Errorf("joining team %s: %w", cfg.TeamCode, err)
		}
		defer channel.Close()
		team = channel
	}

	// --- Session manager ---
	mgr, err := session.New(ctx, db, st, rt, session.Options{
		QuestID:      q.ID,
		QuestVersion: q.Version,
		TeamCode:     cfg.TeamCode,
		Team:         team,
		Logger:       logger,
		MaxRetries:   cfg.QueueMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	if channel != nil {
		channel.SetHandlers(teamsync.Handlers{
			OnRuntimeSession: func(id string, expiresAt time.Time) {
				mgr.SetTeamRuntimeSession(ctx, id, expiresAt)
			},
		})
		g.Go(func() error { return channel.Listen(gctx) })
	}

	// --- Proximity tracker ---
	broker := server.NewBroker()
	tracker := proximity.NewTracker(proximity.Config{
		Stops:       q.Stops,
		Debounce:    cfg.GeoDebounce,
		OneTimeOnly: cfg.GeoOneTimeOnly,
		Logger:      logger,
		OnEnter: func(ev proximity.Event) {
			broker.Publish(server.Event{
				Type:      server.EventZoneEntered,
				StopID:    ev.Stop.ID,
				DistanceM: ev.DistanceM,
			})
			mgr.HandleZoneEnter(ev)
		},
		OnExit: func(ev proximity.Event) {
			broker.Publish(server.Event{
				Type:      server.EventZoneExited,
				StopID:    ev.Stop.ID,
				DistanceM: ev.DistanceM,
			})
		},
		OnError: func(code proximity.ErrorCode, err error) {
			broker.Publish(server.Event{Type: server.EventGeoError, Error: string(code)})
		},
	})
	tracker.Start()
	defer tracker.Stop()

	// --- HTTP server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Manager: mgr,
		Tracker: tracker,
		Broker:  broker,
		DB:      db,
	})

	// --- Run ---
	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return probeConnectivity(gctx, rt, mgr, cfg.ProbeInterval, logger)
	})

	return g.Wait()
}

// probeConnectivity polls the remote runtime and feeds the online/offline
// signal to the session manager. Each online report re-attempts the queue
// drain.
func probeConnectivity(ctx context.Context, rt *runtime.Client, mgr *session.Manager, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		online := rt.Ping(pctx) == nil
		cancel()
		if online != mgr.Online() {
			logger.Info("connectivity changed", "online", online)
		}
		// The drain triggered by an online report runs under the watcher's
		// own context, not the ping deadline; each queued send is bounded
		// by the runtime client's timeout.
		mgr.SetOnline(ctx, online)
	}

	probe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			probe()
		}
	}
}
