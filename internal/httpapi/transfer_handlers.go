package httpapi

import (
	"net/http"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/model"
)

func (s *Server) registerTransferRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /transfers", s.requireAuth(s.handleListTransfers))
	mux.HandleFunc("GET /transfers/{id}", s.requireAuth(s.handleGetTransfer))
	mux.HandleFunc("POST /torrents/{hash}/transfer", s.requireAuth(s.handleSubmitTransfer))
}

func transferJobJSON(j *model.TransferJob) map[string]any {
	out := map[string]any{
		"id":          j.ID,
		"info_hash":   j.TorrentHash,
		"server_id":   j.BackendID,
		"source_path": j.SourcePath,
		"dest_path":   j.DestPath,
		"state":       j.State,
		"bytes_done":  j.BytesDone,
		"bytes_total": j.BytesTotal,
		"started_at":  j.StartedAt,
		"error":       j.Error,
	}
	if j.FinishedAt != nil {
		out["finished_at"] = *j.FinishedAt
	}
	return out
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	jobs, err := s.store.ListTransferJobsByUser(user.ID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not list transfers"))
		return
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, transferJobJSON(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := r.PathValue("id")

	j, err := s.store.GetTransferJob(id)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not look up transfer"))
		return
	}
	if j == nil {
		writeErr(w, errWith(KindNotFound, "transfer not found"))
		return
	}
	b, err := s.store.GetBackend(j.BackendID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not look up transfer"))
		return
	}
	if b == nil || b.OwnerUserID != user.ID {
		writeErr(w, errWith(KindNotFound, "transfer not found"))
		return
	}
	writeJSON(w, http.StatusOK, transferJobJSON(j))
}

// handleSubmitTransfer lets a user manually move a torrent's files to
// local storage on demand, independently of auto_download. The
// backend's configured auto_download (if any) supplies defaults for
// local_path/delete_remote_after; the request body can override both.
func (s *Server) handleSubmitTransfer(w http.ResponseWriter, r *http.Request) {
	if s.transfer == nil {
		writeErr(w, errWith(KindBadRequest, "transfers are not enabled on this gateway"))
		return
	}

	var body struct {
		ServerID          string `json:"server_id"`
		LocalPath         string `json:"local_path,omitempty"`
		DeleteRemoteAfter *bool  `json:"delete_remote_after,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.ServerID == "" {
		writeErr(w, errWith(KindBadRequest, "server_id is required"))
		return
	}

	user := userFromContext(r.Context())
	hash := backend.NormalizeHash(r.PathValue("hash"))

	result, err := s.dispatch.ListTorrents(r.Context(), user, body.ServerID, hash)
	if err != nil {
		writeErr(w, mapDispatchErr(err))
		return
	}
	if len(result.Torrents) == 0 {
		writeErr(w, errWith(KindNotFound, "torrent not found"))
		return
	}
	tv := result.Torrents[0]

	b, err := s.store.GetBackend(body.ServerID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not look up server"))
		return
	}
	if b == nil || b.OwnerUserID != user.ID {
		writeErr(w, errWith(KindNotFound, "server not found"))
		return
	}

	auto := &model.AutoDownload{}
	if b.AutoDownload != nil {
		*auto = *b.AutoDownload
	}
	if body.LocalPath != "" {
		auto.LocalPath = body.LocalPath
	}
	if body.DeleteRemoteAfter != nil {
		auto.DeleteRemoteAfter = *body.DeleteRemoteAfter
	}
	if auto.LocalPath == "" {
		writeErr(w, errWith(KindBadRequest, "local_path is required when the server has no auto_download configured"))
		return
	}

	job, err := s.transfer.Submit(r.Context(), b, tv.TorrentView, auto)
	if err != nil {
		writeErr(w, errWith(KindBackendFailure, err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, transferJobJSON(job))
}
