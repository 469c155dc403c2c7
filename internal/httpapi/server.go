// Package httpapi is the thin HTTP adapter in front of the gateway's
// core services: it resolves credentials, decodes/encodes JSON, and
// translates the structured error taxonomy into status codes. It
// holds no business logic of its own.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"torrent-gateway/internal/activity"
	"torrent-gateway/internal/auth"
	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/dispatch"
	"torrent-gateway/internal/events"
	"torrent-gateway/internal/store"
	"torrent-gateway/internal/stream"
	"torrent-gateway/internal/transfer"
)

// Server holds every dependency the adapter dispatches into. One
// Server is built at startup and shared across every request.
type Server struct {
	auth     *auth.Service
	dispatch *dispatch.Dispatcher
	store    store.Store
	activity *activity.Recorder
	transfer *transfer.Manager
	stream   *stream.Manager
	events   *events.Bus
	clock    clock.Clock
	log      *slog.Logger

	cookieSecure        bool
	publicSeedDuration  time.Duration
	privateSeedDuration time.Duration
}

// Options configures a Server.
type Options struct {
	Auth         *auth.Service
	Dispatch     *dispatch.Dispatcher
	Store        store.Store
	Activity     *activity.Recorder
	Transfer     *transfer.Manager
	Stream       *stream.Manager
	Events       *events.Bus
	Clock        clock.Clock
	Log          *slog.Logger
	CookieSecure bool

	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
}

// New builds a Server from opts.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		auth:                opts.Auth,
		dispatch:            opts.Dispatch,
		store:               opts.Store,
		activity:            opts.Activity,
		transfer:            opts.Transfer,
		stream:              opts.Stream,
		events:              opts.Events,
		clock:               opts.Clock,
		log:                 log,
		cookieSecure:        opts.CookieSecure,
		publicSeedDuration:  opts.PublicSeedDuration,
		privateSeedDuration: opts.PrivateSeedDuration,
	}
}

// Router builds the adapter's http.Handler: access logging, then
// CORS, then route dispatch. Each route group below registers its
// own patterns on the shared mux, mirroring the one-group-per-concern
// organization of the pack's HTTP-surfaced example, adapted to Go's
// 1.22+ method+wildcard ServeMux patterns instead of that example's
// prefix-stripping dispatch.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	s.registerAuthRoutes(mux)
	s.registerServerRoutes(mux)
	s.registerTorrentRoutes(mux)
	s.registerTransferRoutes(mux)
	s.registerWebhookRoutes(mux)
	s.registerStreamRoutes(mux)
	s.registerAdminRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return logging(s.log, c.Handler(mux))
}
