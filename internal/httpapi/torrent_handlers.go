package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/dispatch"
	"torrent-gateway/internal/events"
)

const maxUploadBytes = 64 << 20 // 64MiB, generous for a .torrent metafile

func (s *Server) registerTorrentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /torrents", s.requireAuth(s.handleListTorrents))
	mux.HandleFunc("POST /torrents", s.requireAuth(s.handleAddTorrent))
	mux.HandleFunc("POST /torrents/upload", s.requireAuth(s.handleUploadTorrent))
	mux.HandleFunc("GET /torrents/{hash}", s.requireAuth(s.handleGetTorrent))
	mux.HandleFunc("POST /torrents/{hash}/start", s.requireAuth(s.handleStartTorrent))
	mux.HandleFunc("POST /torrents/{hash}/stop", s.requireAuth(s.handleStopTorrent))
	mux.HandleFunc("DELETE /torrents/{hash}", s.requireAuth(s.handleDeleteTorrent))
	mux.HandleFunc("PUT /torrents/{hash}/labels", s.requireAuth(s.handleSetLabels))
	mux.HandleFunc("PUT /torrents/{hash}/settings/{key}", s.requireAuth(s.handleSetSetting))
}

func torrentViewJSON(tv dispatch.TaggedTorrentView, seedingSeconds, seedThreshold float64) map[string]any {
	return map[string]any{
		"info_hash":        tv.InfoHash,
		"name":             tv.Name,
		"size":             tv.Size,
		"bytes_done":       tv.BytesDone,
		"state":            tv.State,
		"is_active":        tv.IsActive,
		"complete":         tv.Complete,
		"ratio":            tv.Ratio,
		"up_rate":          tv.UpRate,
		"down_rate":        tv.DownRate,
		"peers":            tv.Peers,
		"is_private":       tv.IsPrivate,
		"progress":         tv.Progress,
		"server_id":        tv.BackendID,
		"server_name":      tv.BackendName,
		"server_type":      tv.BackendKind,
		"seeding_duration": seedingSeconds,
		"seed_threshold":   seedThreshold,
	}
}

func (s *Server) seedThresholdFor(isPrivate bool) float64 {
	if isPrivate {
		return s.privateSeedDuration.Seconds()
	}
	return s.publicSeedDuration.Seconds()
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	backendID := r.URL.Query().Get("server_id")

	result, err := s.dispatch.ListTorrents(r.Context(), user, backendID, "")
	if err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}

	torrents := make([]map[string]any, 0, len(result.Torrents))
	for _, tv := range result.Torrents {
		var seeded float64
		if s.activity != nil {
			if d, err := s.activity.SeedingDuration(tv.InfoHash, 0); err == nil {
				seeded = d.Seconds()
			}
		}
		torrents = append(torrents, torrentViewJSON(tv, seeded, s.seedThresholdFor(tv.IsPrivate)))
	}

	errs := make([]map[string]any, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, map[string]any{"backend_id": e.BackendID, "message": e.Message})
	}

	writeJSON(w, http.StatusOK, map[string]any{"torrents": torrents, "errors": errs})
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	backendID := r.URL.Query().Get("server_id")

	result, err := s.dispatch.ListTorrents(r.Context(), user, backendID, hash)
	if err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	if len(result.Torrents) == 0 {
		writeErr(w, errWith(KindNotFound, "torrent not found"))
		return
	}
	tv := result.Torrents[0]
	var seeded float64
	if s.activity != nil {
		if d, err := s.activity.SeedingDuration(tv.InfoHash, 0); err == nil {
			seeded = d.Seconds()
		}
	}
	writeJSON(w, http.StatusOK, torrentViewJSON(tv, seeded, s.seedThresholdFor(tv.IsPrivate)))
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URI       string `json:"uri"`
		ServerID  string `json:"server_id"`
		Start     *bool  `json:"start,omitempty"`
		Priority  int    `json:"priority,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.URI == "" || body.ServerID == "" {
		writeErr(w, errWith(KindBadRequest, "uri and server_id are required"))
		return
	}

	start := true
	if body.Start != nil {
		start = *body.Start
	}

	kind := dispatch.AddKindURL
	if len(body.URI) >= 7 && body.URI[:7] == "magnet:" {
		kind = dispatch.AddKindMagnet
	}

	user := userFromContext(r.Context())
	err := s.dispatch.Add(r.Context(), user, body.ServerID, dispatch.AddRequest{
		Kind:     kind,
		URI:      body.URI,
		Start:    start,
		Priority: body.Priority,
	})
	if err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}

	s.publish(r.Context(), user.ID, events.KindAdded, "", body.ServerID, "")
	writeJSON(w, http.StatusOK, map[string]any{"message": "torrent added"})
}

func (s *Server) handleUploadTorrent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, errWith(KindBadRequest, "invalid multipart form"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, errWith(KindBadRequest, "missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeErr(w, errWith(KindBadRequest, "could not read uploaded file"))
		return
	}

	backendID := r.URL.Query().Get("server_id")
	if backendID == "" {
		writeErr(w, errWith(KindBadRequest, "server_id is required"))
		return
	}

	user := userFromContext(r.Context())
	err = s.dispatch.Add(r.Context(), user, backendID, dispatch.AddRequest{
		Kind:  dispatch.AddKindFile,
		Data:  data,
		Start: true,
	})
	if err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}

	s.publish(r.Context(), user.ID, events.KindAdded, "", backendID, "")
	writeJSON(w, http.StatusOK, map[string]any{"message": "torrent added"})
}

func (s *Server) handleStartTorrent(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	backendID := r.URL.Query().Get("server_id")

	if err := s.dispatch.Start(r.Context(), user, backendID, hash); err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	s.publish(r.Context(), user.ID, events.KindStarted, hash, backendID, "")
	writeJSON(w, http.StatusOK, map[string]any{"message": "started"})
}

func (s *Server) handleStopTorrent(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	backendID := r.URL.Query().Get("server_id")

	if err := s.dispatch.Stop(r.Context(), user, backendID, hash); err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	s.publish(r.Context(), user.ID, events.KindStopped, hash, backendID, "")
	writeJSON(w, http.StatusOK, map[string]any{"message": "stopped"})
}

func (s *Server) handleDeleteTorrent(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	backendID := r.URL.Query().Get("server_id")
	deleteData := r.URL.Query().Get("delete_data") == "true"

	if err := s.dispatch.Erase(r.Context(), user, backendID, hash, deleteData); err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	s.publish(r.Context(), user.ID, events.KindRemoved, hash, backendID, "")
	writeJSON(w, http.StatusOK, map[string]any{"message": "removed"})
}

func (s *Server) handleSetLabels(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Labels []string `json:"labels"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	backendID := r.URL.Query().Get("server_id")

	if err := s.dispatch.SetLabels(r.Context(), user, backendID, hash, body.Labels); err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "labels updated"})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))
	key := r.PathValue("key")
	backendID := r.URL.Query().Get("server_id")

	if err := s.dispatch.SetSetting(r.Context(), user, backendID, hash, key, body.Value); err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "setting updated"})
}

func (s *Server) publish(ctx context.Context, userID string, kind events.Kind, hash, backendID, detail string) {
	if s.events == nil {
		return
	}
	now := s.clock.Now()
	if err := s.events.Publish(ctx, events.Event{
		Kind:        kind,
		UserID:      userID,
		TorrentHash: hash,
		BackendID:   backendID,
		Timestamp:   now,
		Detail:      detail,
	}); err != nil {
		s.log.Warn("httpapi: publishing event failed", "kind", kind, "error", err)
	}
}

func mapDispatchErr(err error) error {
	var badReq dispatch.ErrBadRequest
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		return errWith(KindNotFound, "torrent not found")
	case errors.As(err, &badReq):
		return errWith(KindBadRequest, badReq.Error())
	default:
		return errWith(KindBackendFailure, err.Error())
	}
}
