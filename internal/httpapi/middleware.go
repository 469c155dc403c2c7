package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"torrent-gateway/internal/model"
)

type contextKey string

const (
	userContextKey       contextKey = "user"
	authMethodContextKey contextKey = "auth_method"
)

const (
	sessionCookieName  = "session"
	rememberCookieName = "remember_me"
)

func userFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userContextKey).(*model.User)
	return u
}

func authMethodFromContext(ctx context.Context) string {
	m, _ := ctx.Value(authMethodContextKey).(string)
	return m
}

// requireAuth resolves the caller's identity from, in order, a bearer
// API key or a session/remember-me cookie pair, per the adapter
// contract's three accepted credential forms. A renewed session (the
// presented session was absent or expired but the remember-me token
// was valid) sets a fresh session cookie on the response.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearer, ok := bearerToken(r); ok {
			user, _, err := s.auth.AuthenticateApiKey(bearer)
			if err != nil {
				writeErr(w, errWith(KindNotAuthenticated, "invalid credentials"))
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			ctx = context.WithValue(ctx, authMethodContextKey, "api_key")
			next(w, r.WithContext(ctx))
			return
		}

		sessionID := cookieValue(r, sessionCookieName)
		rememberID := cookieValue(r, rememberCookieName)
		if sessionID == "" && rememberID == "" {
			writeErr(w, errWith(KindNotAuthenticated, "not authenticated"))
			return
		}

		res, err := s.auth.ResolveSession(sessionID, rememberID, r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeErr(w, errWith(KindNotAuthenticated, "not authenticated"))
			return
		}

		if res.Used == "renewed" {
			s.setSessionCookie(w, res.NewSessionID)
		}

		ctx := context.WithValue(r.Context(), userContextKey, res.User)
		ctx = context.WithValue(ctx, authMethodContextKey, "session")
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin wraps a handler that requireAuth has already resolved,
// rejecting non-admin callers with Forbidden.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if u := userFromContext(r.Context()); u == nil || !u.IsAdmin {
			writeErr(w, errWith(KindForbidden, "admin access required"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setRememberCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// statusRecorder wraps a ResponseWriter to capture the status code the
// handler ultimately wrote, for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logging wraps a handler, logging method, path, status, and duration
// after it completes.
func logging(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
