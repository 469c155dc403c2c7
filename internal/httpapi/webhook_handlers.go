package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"torrent-gateway/internal/model"
)

func (s *Server) registerWebhookRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks", s.requireAuth(s.handleCreateWebhook))
	mux.HandleFunc("GET /webhooks", s.requireAuth(s.handleListWebhooks))
	mux.HandleFunc("DELETE /webhooks/{id}", s.requireAuth(s.handleDeleteWebhook))
}

func newWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.URL == "" {
		writeErr(w, errWith(KindBadRequest, "url is required"))
		return
	}

	secret, err := newWebhookSecret()
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not generate webhook secret"))
		return
	}

	user := userFromContext(r.Context())
	sub := &model.WebhookSubscriber{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		URL:       body.URL,
		Secret:    secret,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateWebhook(sub); err != nil {
		writeErr(w, errWith(KindInternal, "could not create webhook"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         sub.ID,
		"url":        sub.URL,
		"secret":     sub.Secret,
		"created_at": sub.CreatedAt,
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	subs, err := s.store.ListWebhooksByUser(user.ID)
	if err != nil {
		writeErr(w, errWith(KindInternal, "could not list webhooks"))
		return
	}

	out := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		out = append(out, map[string]any{
			"id":         sub.ID,
			"url":        sub.URL,
			"created_at": sub.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	id := r.PathValue("id")
	if err := s.store.DeleteWebhook(user.ID, id); err != nil {
		writeErr(w, errWith(KindInternal, "could not delete webhook"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "deleted"})
}
