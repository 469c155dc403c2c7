// Package auth implements the gateway's credential and session
// store: registration, login, sliding-expiry sessions, remember-me
// renewal, and API keys.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store"
)

const (
	bcryptCost = 12

	minPasswordLength = 8

	slidingWindow  = 7 * 24 * time.Hour
	maxSessionAge  = 30 * 24 * time.Hour
	rememberWindow = 90 * 24 * time.Hour
	slideThreshold = time.Minute

	tokenBytes = 48 // base64 URL-encoded without padding -> 64 chars
)

var (
	ErrWeakPassword      = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// Service implements the credential and session store against a
// durable Store.
type Service struct {
	store store.Store
	clock clock.Clock
}

// New builds a Service backed by s, using clock for all time-based
// decisions so tests can control the clock.
func New(s store.Store, clock clock.Clock) *Service {
	return &Service{store: s, clock: clock}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Register creates a new user. It returns ErrWeakPassword on policy
// violation and the store's ErrDuplicateUsername if the name is
// taken.
func (s *Service) Register(username, password string) (*model.User, error) {
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.store.CreateUser(username, string(hash), false)
}

// Authenticate verifies a username/password pair. It never reveals
// whether the username exists; any failure is ErrInvalidCredentials.
func (s *Service) Authenticate(username, password string) (*model.User, error) {
	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// CreateSession mints a session for user, and a remember-me token
// when remember is set. rememberToken is "" when remember is false.
func (s *Service) CreateSession(user *model.User, ip, ua string, remember bool) (sessionID, rememberToken string, err error) {
	now := s.clock.Now()

	sessID, err := newToken()
	if err != nil {
		return "", "", err
	}
	sess := &model.Session{
		ID:           sessID,
		UserID:       user.ID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(slidingWindow),
		IP:           ip,
		UA:           ua,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return "", "", fmt.Errorf("creating session: %w", err)
	}

	if !remember {
		return sessID, "", nil
	}

	rtID, err := newToken()
	if err != nil {
		return "", "", err
	}
	rt := &model.RememberToken{
		ID:        rtID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(rememberWindow),
		IP:        ip,
		UA:        ua,
	}
	if err := s.store.CreateRememberToken(rt); err != nil {
		return "", "", fmt.Errorf("creating remember token: %w", err)
	}
	return sessID, rtID, nil
}

// Resolution is the outcome of resolving a presented session and/or
// remember-me token.
type Resolution struct {
	User *model.User
	// Used is "session" (slid or not), or "renewed" when a remember
	// token minted a fresh session because the presented session was
	// absent or expired.
	Used string
	// NewSessionID is set only when Used == "renewed"; callers must
	// update the session cookie with it.
	NewSessionID string
}

// ResolveSession authenticates a request from its presented session
// and/or remember-me cookie values, sliding the session's expiry or
// renewing it from the remember token as appropriate.
func (s *Service) ResolveSession(sessionID, rememberID, ip, ua string) (*Resolution, error) {
	now := s.clock.Now()

	if sessionID != "" {
		sess, err := s.store.GetSession(sessionID)
		if err != nil {
			return nil, fmt.Errorf("looking up session: %w", err)
		}
		if sess != nil && now.Before(sess.ExpiresAt) {
			if now.Sub(sess.LastActivity) >= slideThreshold {
				newExpiry := now.Add(slidingWindow)
				if maxExpiry := sess.CreatedAt.Add(maxSessionAge); newExpiry.After(maxExpiry) {
					newExpiry = maxExpiry
				}
				if err := s.store.UpdateSessionActivity(sessionID, now, newExpiry); err != nil {
					return nil, fmt.Errorf("sliding session: %w", err)
				}
			}
			user, err := s.store.GetUserByID(sess.UserID)
			if err != nil {
				return nil, fmt.Errorf("looking up session user: %w", err)
			}
			if user == nil {
				return nil, ErrNotAuthenticated
			}
			return &Resolution{User: user, Used: "session"}, nil
		}
	}

	if rememberID != "" {
		rt, err := s.store.GetRememberToken(rememberID)
		if err != nil {
			return nil, fmt.Errorf("looking up remember token: %w", err)
		}
		if rt != nil && !rt.Revoked && now.Before(rt.ExpiresAt) {
			user, err := s.store.GetUserByID(rt.UserID)
			if err != nil {
				return nil, fmt.Errorf("looking up remember token user: %w", err)
			}
			if user == nil {
				return nil, ErrNotAuthenticated
			}
			newSessID, _, err := s.CreateSession(user, ip, ua, false)
			if err != nil {
				return nil, err
			}
			return &Resolution{User: user, Used: "renewed", NewSessionID: newSessID}, nil
		}
	}

	return nil, ErrNotAuthenticated
}

// Logout deletes the session and revokes the remember token, if
// either is presented.
func (s *Service) Logout(sessionID, rememberID string) error {
	if sessionID != "" {
		if err := s.store.DeleteSession(sessionID); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
	}
	if rememberID != "" {
		if err := s.store.RevokeRememberToken(rememberID); err != nil {
			return fmt.Errorf("revoking remember token: %w", err)
		}
	}
	return nil
}

// CreateApiKey mints a new API key for user. fullKey is returned
// exactly once; only its prefix is recoverable afterward.
func (s *Service) CreateApiKey(user *model.User, name string, expiresDays *int) (fullKey string, key *model.ApiKey, err error) {
	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	now := s.clock.Now()

	var expiresAt *time.Time
	if expiresDays != nil {
		t := now.Add(time.Duration(*expiresDays) * 24 * time.Hour)
		expiresAt = &t
	}

	key = &model.ApiKey{
		ID:        token,
		Prefix:    token[:8],
		UserID:    user.ID,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateApiKey(key); err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	return token, key, nil
}

// AuthenticateApiKey resolves the bearer token to its owning user,
// rejecting revoked or expired keys.
func (s *Service) AuthenticateApiKey(fullKey string) (*model.User, *model.ApiKey, error) {
	key, err := s.store.GetApiKeyByID(fullKey)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up api key: %w", err)
	}
	if key == nil {
		return nil, nil, ErrInvalidCredentials
	}
	now := s.clock.Now()
	if key.Revoked || (key.ExpiresAt != nil && now.After(*key.ExpiresAt)) {
		return nil, nil, ErrInvalidCredentials
	}
	if err := s.store.TouchApiKey(key.ID, now); err != nil {
		return nil, nil, fmt.Errorf("touching api key: %w", err)
	}
	user, err := s.store.GetUserByID(key.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("looking up api key user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	return user, key, nil
}

// RevokeApiKey revokes every key matching prefix owned by userID.
func (s *Service) RevokeApiKey(userID, prefix string) error {
	if err := s.store.RevokeApiKeyByPrefix(userID, prefix); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}
