package httpapi

import (
	"errors"
	"net/http"

	"torrent-gateway/internal/auth"
	"torrent-gateway/internal/store"
)

func (s *Server) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("POST /auth/api-keys", s.requireAuth(s.handleCreateApiKey))
	mux.HandleFunc("GET /auth/api-keys", s.requireAuth(s.handleListApiKeys))
	mux.HandleFunc("DELETE /auth/api-keys/{prefix}", s.requireAuth(s.handleRevokeApiKey))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.Username == "" || body.Password == "" {
		writeErr(w, errWith(KindBadRequest, "username and password are required"))
		return
	}

	user, err := s.auth.Register(body.Username, body.Password)
	if err != nil {
		writeErr(w, mapAuthErr(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user, err := s.auth.Authenticate(body.Username, body.Password)
	if err != nil {
		writeErr(w, errWith(KindNotAuthenticated, "invalid credentials"))
		return
	}

	sessionID, rememberID, err := s.auth.CreateSession(user, r.RemoteAddr, r.UserAgent(), body.RememberMe)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not create session"))
		return
	}
	s.setSessionCookie(w, sessionID)
	if rememberID != "" {
		s.setRememberCookie(w, rememberID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := cookieValue(r, sessionCookieName)
	rememberID := cookieValue(r, rememberCookieName)
	if err := s.auth.Logout(sessionID, rememberID); err != nil {
		writeErr(w, errWith(KindInternal, "could not log out"))
		return
	}
	clearCookie(w, sessionCookieName)
	clearCookie(w, rememberCookieName)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"username":    user.Username,
		"is_admin":    user.IsAdmin,
		"auth_method": authMethodFromContext(r.Context()),
	})
}

func (s *Server) handleCreateApiKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		ExpiresDays *int   `json:"expires_days,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}

	user := userFromContext(r.Context())
	fullKey, key, err := s.auth.CreateApiKey(user, body.Name, body.ExpiresDays)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not create api key"))
		return
	}

	resp := map[string]any{
		"api_key":    fullKey,
		"prefix":     key.Prefix,
		"name":       key.Name,
		"created_at": key.CreatedAt,
	}
	if key.ExpiresAt != nil {
		resp["expires_at"] = *key.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListApiKeys(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	keys, err := s.store.ListApiKeysByUser(user.ID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not list api keys"))
		return
	}

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		item := map[string]any{
			"prefix":     k.Prefix,
			"name":       k.Name,
			"created_at": k.CreatedAt,
			"revoked":    k.Revoked,
		}
		if k.LastUsedAt != nil {
			item["last_used_at"] = *k.LastUsedAt
		}
		if k.ExpiresAt != nil {
			item["expires_at"] = *k.ExpiresAt
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeApiKey(w http.ResponseWriter, r *http.Request) {
	prefix := r.PathValue("prefix")
	user := userFromContext(r.Context())
	if err := s.auth.RevokeApiKey(user.ID, prefix); err != nil {
		writeErr(w, errWith(KindInternal, "could not revoke api key"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "revoked"})
}

func mapAuthErr(err error) error {
	var dup store.ErrDuplicateUsername
	switch {
	case errors.Is(err, auth.ErrWeakPassword):
		return errWith(KindBadRequest, err.Error())
	case errors.As(err, &dup):
		return errWith(KindDuplicate, dup.Error())
	default:
		return errWith(KindInternal, "could not register user")
	}
}
