package httpapi

import (
	"context"
	"net/http"
	"time"

	"torrent-gateway/internal/model"
)

func (s *Server) registerServerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /servers", s.requireAuth(s.handleCreateBackend))
	mux.HandleFunc("GET /servers", s.requireAuth(s.handleListBackends))
	mux.HandleFunc("GET /servers/{id}", s.requireAuth(s.handleGetBackend))
	mux.HandleFunc("PUT /servers/{id}", s.requireAuth(s.handleUpdateBackend))
	mux.HandleFunc("DELETE /servers/{id}", s.requireAuth(s.handleDeleteBackend))
	mux.HandleFunc("POST /servers/{id}/test", s.requireAuth(s.handleTestBackend))
}

type httpDownloadPayload struct {
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
	Auth    string `json:"auth,omitempty"`
	UseSSL  bool   `json:"use_ssl,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
}

type sshConfigPayload struct {
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	User    string `json:"user,omitempty"`
	KeyPath string `json:"key_path,omitempty"`
}

type autoDownloadPayload struct {
	Enabled           bool   `json:"enabled,omitempty"`
	LocalPath         string `json:"local_path,omitempty"`
	DeleteRemoteAfter bool   `json:"delete_remote_after,omitempty"`
}

type backendPayload struct {
	Name         string                `json:"name"`
	ServerType   model.BackendKind     `json:"server_type"`
	Host         string                `json:"host"`
	Port         int                   `json:"port"`
	RPCPath      string                `json:"rpc_path,omitempty"`
	UseSSL       bool                  `json:"use_ssl,omitempty"`
	Auth         string                `json:"auth,omitempty"`
	Enabled      *bool                 `json:"enabled,omitempty"`
	IsDefault    *bool                 `json:"is_default,omitempty"`
	MountPath    string                `json:"mount_path,omitempty"`
	DownloadDir  string                `json:"download_dir,omitempty"`
	HTTPDownload *httpDownloadPayload  `json:"http_download,omitempty"`
	AutoDownload *autoDownloadPayload  `json:"auto_download,omitempty"`
	SSH          *sshConfigPayload     `json:"ssh,omitempty"`
}

func httpDownloadFromPayload(p *httpDownloadPayload) *model.HTTPDownload {
	if p == nil {
		return nil
	}
	return &model.HTTPDownload{Host: p.Host, Port: p.Port, Path: p.Path, Auth: p.Auth, UseSSL: p.UseSSL, Enabled: p.Enabled}
}

func sshConfigFromPayload(p *sshConfigPayload) *model.SSHConfig {
	if p == nil {
		return nil
	}
	return &model.SSHConfig{Host: p.Host, Port: p.Port, User: p.User, KeyPath: p.KeyPath}
}

func autoDownloadFromPayload(p *autoDownloadPayload) *model.AutoDownload {
	if p == nil {
		return nil
	}
	return &model.AutoDownload{Enabled: p.Enabled, LocalPath: p.LocalPath, DeleteRemoteAfter: p.DeleteRemoteAfter}
}

func httpDownloadJSON(h *model.HTTPDownload) map[string]any {
	if h == nil {
		return nil
	}
	return map[string]any{"host": h.Host, "port": h.Port, "path": h.Path, "use_ssl": h.UseSSL, "enabled": h.Enabled}
}

func sshConfigJSON(c *model.SSHConfig) map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{"host": c.Host, "port": c.Port, "user": c.User, "key_path": c.KeyPath}
}

func autoDownloadJSON(a *model.AutoDownload) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{"enabled": a.Enabled, "local_path": a.LocalPath, "delete_remote_after": a.DeleteRemoteAfter}
}

func backendToJSON(b *model.Backend) map[string]any {
	return map[string]any{
		"id":            b.ID,
		"name":          b.Name,
		"server_type":   b.Kind,
		"host":          b.Host,
		"port":          b.Port,
		"rpc_path":      b.RPCPath,
		"use_ssl":       b.UseSSL,
		"enabled":       b.Enabled,
		"is_default":    b.IsDefault,
		"mount_path":    b.MountPath,
		"download_dir":  b.DownloadDir,
		"http_download": httpDownloadJSON(b.HTTPDownload),
		"auto_download": autoDownloadJSON(b.AutoDownload),
		"ssh":           sshConfigJSON(b.SSH),
		"created_at":    b.CreatedAt,
	}
}

func (s *Server) handleCreateBackend(w http.ResponseWriter, r *http.Request) {
	var body backendPayload
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Name == "" || body.Host == "" || body.ServerType == "" {
		writeErr(w, errWith(KindBadRequest, "name, host, and server_type are required"))
		return
	}

	user := userFromContext(r.Context())
	b := &model.Backend{
		OwnerUserID:  user.ID,
		Name:         body.Name,
		Kind:         body.ServerType,
		Host:         body.Host,
		Port:         body.Port,
		RPCPath:      body.RPCPath,
		UseSSL:       body.UseSSL,
		Auth:         body.Auth,
		Enabled:      true,
		MountPath:    body.MountPath,
		DownloadDir:  body.DownloadDir,
		HTTPDownload: httpDownloadFromPayload(body.HTTPDownload),
		AutoDownload: autoDownloadFromPayload(body.AutoDownload),
		SSH:          sshConfigFromPayload(body.SSH),
	}
	if body.Enabled != nil {
		b.Enabled = *body.Enabled
	}
	if body.IsDefault != nil {
		b.IsDefault = *body.IsDefault
	}

	created, err := s.store.CreateBackend(b)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not create server"))
		return
	}
	writeJSON(w, http.StatusCreated, backendToJSON(created))
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	backends, err := s.store.ListBackendsByUser(user.ID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not list servers"))
		return
	}
	out := make([]map[string]any, 0, len(backends))
	for _, b := range backends {
		out = append(out, backendToJSON(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ownedBackendOrErr(r *http.Request) (*model.Backend, error) {
	id := r.PathValue("id")
	user := userFromContext(r.Context())
	b, err := s.store.GetBackend(id)
	if err != nil {
		return nil, errWith(KindInternal, "could not look up server")
	}
	if b == nil || b.OwnerUserID != user.ID {
		return nil, errWith(KindNotFound, "server not found")
	}
	return b, nil
}

func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	b, err := s.ownedBackendOrErr(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backendToJSON(b))
}

func (s *Server) handleUpdateBackend(w http.ResponseWriter, r *http.Request) {
	b, err := s.ownedBackendOrErr(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var body backendPayload
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Name != "" {
		b.Name = body.Name
	}
	if body.ServerType != "" {
		b.Kind = body.ServerType
	}
	if body.Host != "" {
		b.Host = body.Host
	}
	if body.Port != 0 {
		b.Port = body.Port
	}
	if body.RPCPath != "" {
		b.RPCPath = body.RPCPath
	}
	b.UseSSL = body.UseSSL
	if body.Auth != "" {
		b.Auth = body.Auth
	}
	if body.Enabled != nil {
		b.Enabled = *body.Enabled
	}
	if body.IsDefault != nil {
		b.IsDefault = *body.IsDefault
	}
	if body.MountPath != "" {
		b.MountPath = body.MountPath
	}
	if body.DownloadDir != "" {
		b.DownloadDir = body.DownloadDir
	}
	if body.HTTPDownload != nil {
		b.HTTPDownload = httpDownloadFromPayload(body.HTTPDownload)
	}
	if body.AutoDownload != nil {
		b.AutoDownload = autoDownloadFromPayload(body.AutoDownload)
	}
	if body.SSH != nil {
		b.SSH = sshConfigFromPayload(body.SSH)
	}

	updated, err := s.store.UpdateBackend(b)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not update server"))
		return
	}
	writeJSON(w, http.StatusOK, backendToJSON(updated))
}

func (s *Server) handleDeleteBackend(w http.ResponseWriter, r *http.Request) {
	b, err := s.ownedBackendOrErr(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.store.DeleteBackend(b.ID, true); err != nil {
		writeErr(w, errWith(KindInternal, "could not delete server"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "message": "server removed"})
}

func (s *Server) handleTestBackend(w http.ResponseWriter, r *http.Request) {
	b, err := s.ownedBackendOrErr(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	cache := s.dispatch.Cache()
	if pingErr := cache.Ping(ctx, b); pingErr != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "message": pingErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "connected", "message": "ok"})
}
