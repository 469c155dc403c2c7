// Package app is the wiring layer between the CLI and the gateway's
// services. It constructs every dependency from a config.Config,
// exposes the composed http.Handler, and owns the lifecycle of the
// background schedulers that run alongside it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"torrent-gateway/internal/activity"
	"torrent-gateway/internal/applog"
	"torrent-gateway/internal/auth"
	"torrent-gateway/internal/backend/factory"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/config"
	"torrent-gateway/internal/dispatch"
	"torrent-gateway/internal/events"
	"torrent-gateway/internal/httpapi"
	"torrent-gateway/internal/maintenance"
	"torrent-gateway/internal/store"
	"torrent-gateway/internal/stream"
	"torrent-gateway/internal/transfer"
)

// Gateway is the fully wired application: every service the HTTP
// adapter dispatches into, plus the background schedulers that run
// for the life of the process.
type Gateway struct {
	cfg *config.Config
	log *slog.Logger

	store *store.SQLiteStore
	cache *clientcache.Cache

	auth       *auth.Service
	dispatch   *dispatch.Dispatcher
	activity   *activity.Recorder
	transfer   *transfer.Manager
	stream     *stream.Manager
	events     *events.Bus
	maintSched *maintenance.Scheduler

	handler http.Handler
}

// New builds a Gateway from cfg. The caller must call Close when done.
func New(cfg *config.Config) (*Gateway, error) {
	log := applog.NewStderr()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clk := clock.Real{}
	cache := clientcache.New(factory.NewClient)

	bus := events.New(s, log)
	authSvc := auth.New(s, clk)
	disp := dispatch.New(s, cache, cfg.BackendCallDeadline, clk, log)
	rec := activity.New(s)
	xfer := transfer.New(s, cache, clk, bus, log)

	var streamMgr *stream.Manager
	if cfg.StreamScratchDir != "" {
		streamMgr = stream.New(stream.Options{
			FFmpegPath:  cfg.FFmpegPath,
			ScratchRoot: cfg.StreamScratchDir,
			IdleTimeout: cfg.StreamIdleTimeout,
		}, &stream.FFProber{}, log)
		streamMgr.Run()
	}

	maintSched := maintenance.New(s, cache, rec, xfer, bus, clk, log, maintenance.Options{
		Interval:            cfg.MaintenanceInterval,
		CallDeadline:        cfg.BackendCallDeadline,
		PublicSeedDuration:  cfg.PublicSeedDuration,
		PrivateSeedDuration: cfg.PrivateSeedDuration,
		AutoPauseSeeding:    cfg.AutoPauseSeeding,
	})

	api := httpapi.New(httpapi.Options{
		Auth:                authSvc,
		Dispatch:            disp,
		Store:               s,
		Activity:            rec,
		Transfer:            xfer,
		Stream:              streamMgr,
		Events:              bus,
		Clock:               clk,
		Log:                 log,
		CookieSecure:        cfg.CookieSecure,
		PublicSeedDuration:  cfg.PublicSeedDuration,
		PrivateSeedDuration: cfg.PrivateSeedDuration,
	})

	return &Gateway{
		cfg:        cfg,
		log:        log,
		store:      s,
		cache:      cache,
		auth:       authSvc,
		dispatch:   disp,
		activity:   rec,
		transfer:   xfer,
		stream:     streamMgr,
		events:     bus,
		maintSched: maintSched,
		handler:    api.Router(),
	}, nil
}

// Handler returns the gateway's composed http.Handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Run starts the background maintenance scheduler. It returns
// immediately; the scheduler keeps ticking until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) {
	g.maintSched.Start(ctx)
}

// Close stops the background schedulers, waits for in-flight
// transfers and webhook deliveries to drain, and closes the store.
func (g *Gateway) Close() error {
	g.maintSched.Stop()
	if g.stream != nil {
		g.stream.Stop()
	}
	g.transfer.Wait()
	g.events.Wait()
	return g.store.Close()
}

// ListenAddr returns the configured HTTP listen address.
func (g *Gateway) ListenAddr() string { return g.cfg.ListenAddr }

// Log returns the process-wide logger, for the CLI entrypoint's own
// startup/shutdown messages.
func (g *Gateway) Log() *slog.Logger { return g.log }
