package httpapi

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"torrent-gateway/internal/stream"
)

func (s *Server) registerStreamRoutes(mux *http.ServeMux) {
	if s.stream == nil {
		return
	}
	mux.HandleFunc("POST /streams", s.requireAuth(s.handleStartStream))
	mux.HandleFunc("GET /streams/{id}", s.requireAuth(s.handleStreamInfo))
	mux.HandleFunc("GET /streams/{id}/{file}", s.requireAuth(s.handleStreamFile))
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerID string `json:"server_id"`
		FilePath string `json:"file_path"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.ServerID == "" || body.FilePath == "" {
		writeErr(w, errWith(KindBadRequest, "server_id and file_path are required"))
		return
	}

	user := userFromContext(r.Context())
	b, err := s.store.GetBackend(body.ServerID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not look up server"))
		return
	}
	if b == nil || b.OwnerUserID != user.ID {
		writeErr(w, errWith(KindNotFound, "server not found"))
		return
	}
	if b.MountPath == "" {
		writeErr(w, errWith(KindBadRequest, "server has no mount_path configured for streaming"))
		return
	}

	resolved, err := resolveUnderMount(b.MountPath, body.FilePath)
	if err != nil {
		writeErr(w, errWith(KindBadRequest, "file_path must resolve under the server's mount_path"))
		return
	}

	job, err := s.stream.StartStream(r.Context(), b.ID, resolved)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not start stream"))
		return
	}

	writeJSON(w, http.StatusOK, streamJobJSON(job))
}

// resolveUnderMount joins rel onto root the same way the transfer
// manager resolves a torrent's files under a backend's mount_path for
// its mount transport: rel is first collapsed against a bare "/" so
// any ".." climbs no higher than that root, then joined onto root.
func resolveUnderMount(root, rel string) (string, error) {
	cleaned := filepath.Join(string(filepath.Separator), rel)
	full := filepath.Join(root, cleaned)
	if full != filepath.Clean(root) && !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		return "", errors.New("path escapes mount root")
	}
	return full, nil
}

// ownedStreamJobOrErr looks up a stream job and confirms the caller
// owns the backend it is transcoding from, the same isolation every
// other backend-touching handler enforces.
func (s *Server) ownedStreamJobOrErr(r *http.Request, id string) (*stream.Job, error) {
	job, err := s.stream.JobInfo(id)
	if err != nil {
		return nil, errWith(KindInternal, "could not look up stream job")
	}
	if job == nil {
		return nil, errWith(KindNotFound, "stream job not found")
	}
	b, err := s.store.GetBackend(job.BackendID)
	if err != nil {
		return nil, errWith(KindInternal, "could not look up server")
	}
	if b == nil || b.OwnerUserID != userFromContext(r.Context()).ID {
		return nil, errWith(KindNotFound, "stream job not found")
	}
	return job, nil
}

func (s *Server) handleStreamInfo(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedStreamJobOrErr(r, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, streamJobJSON(job))
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.ownedStreamJobOrErr(r, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	name := r.PathValue("file")
	path := filepath.Join(job.ScratchDir, name)
	if filepath.Dir(path) != filepath.Clean(job.ScratchDir) {
		writeErr(w, errWith(KindBadRequest, "invalid file path"))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeErr(w, errWith(KindNotFound, "segment not found"))
		return
	}
	defer f.Close()

	s.stream.Touch(id)
	http.ServeContent(w, r, name, job.StartedAt, f)
}

func streamJobJSON(job *stream.Job) map[string]any {
	return map[string]any{
		"job_id":             job.ID,
		"status":             job.Status,
		"duration_seconds":   job.DurationSeconds,
		"transcoded_seconds": job.TranscodedSeconds,
		"media_type":         job.MediaType,
		"playlist_url":       "/streams/" + job.ID + "/stream.m3u8",
		"error":              job.Error,
	}
}
