// Package store is the gateway's persistence layer: durable records for
// users, backends, torrents, status/action history, transfer jobs,
// settings, sessions, remember-me tokens, API keys, and webhook
// subscribers. The Store interface is the only way the rest of the
// gateway touches durable state; SQLiteStore is the production
// implementation and is exercised directly by every other package's
// tests (there is no in-memory fake — SQLite's :memory: mode serves
// that role, exactly as the teacher's database layer does).
package store

import (
	"time"

	"torrent-gateway/internal/model"
)

// Store is the full persistence contract. All methods return
// (nil, nil) for "not found" on single-row lookups, never a sentinel
// error, so callers can distinguish "absent" from "store failure".
type Store interface {
	// Users

	CreateUser(username, passwordHash string, isAdmin bool) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	GetUserByID(id string) (*model.User, error)
	CountUsers() (int, error)
	DeleteUser(id string) error

	// Backends

	CreateBackend(b *model.Backend) (*model.Backend, error)
	GetBackend(id string) (*model.Backend, error)
	ListBackendsByUser(ownerUserID string) ([]*model.Backend, error)
	ListEnabledBackends() ([]*model.Backend, error)
	UpdateBackend(b *model.Backend) (*model.Backend, error)
	DeleteBackend(id string, tombstone bool) error

	// Torrents

	UpsertTorrent(t *model.Torrent) error
	GetTorrent(ownerUserID, backendID, infoHash string) (*model.Torrent, error)
	ListTorrentsByUser(ownerUserID string) ([]*model.Torrent, error)
	DeleteTorrent(ownerUserID, backendID, infoHash string) error
	SetTorrentLabels(ownerUserID, backendID, infoHash string, labels []string) error

	// Status / Action history

	InsertStatus(s *model.Status) error
	ListStatuses(infoHash string, backendID string) ([]*model.Status, error)
	PruneStatusesBefore(cutoff time.Time) (int64, error)
	InsertAction(a *model.Action) error
	ListActions(infoHash string) ([]*model.Action, error)

	// Transfer jobs

	CreateTransferJob(j *model.TransferJob) error
	GetTransferJob(id string) (*model.TransferJob, error)
	FindActiveTransferJob(infoHash, backendID string) (*model.TransferJob, error)
	FindTransferJob(infoHash, backendID string) (*model.TransferJob, error)
	ListTransferJobsByUser(userID string) ([]*model.TransferJob, error)
	UpdateTransferJob(j *model.TransferJob) error

	// Per-torrent settings

	SetTorrentSetting(s *model.TorrentSetting) error
	ListTorrentSettings(ownerUserID, infoHash string) ([]*model.TorrentSetting, error)

	// Sessions

	CreateSession(s *model.Session) error
	GetSession(id string) (*model.Session, error)
	UpdateSessionActivity(id string, lastActivity, expiresAt time.Time) error
	DeleteSession(id string) error

	// Remember-me tokens

	CreateRememberToken(t *model.RememberToken) error
	GetRememberToken(id string) (*model.RememberToken, error)
	RevokeRememberToken(id string) error

	// API keys

	CreateApiKey(k *model.ApiKey) error
	GetApiKeyByID(id string) (*model.ApiKey, error)
	GetApiKeyByPrefix(userID, prefix string) (*model.ApiKey, error)
	ListApiKeysByUser(userID string) ([]*model.ApiKey, error)
	RevokeApiKeyByPrefix(userID, prefix string) error
	TouchApiKey(id string, lastUsedAt time.Time) error

	// Webhook subscribers

	CreateWebhook(w *model.WebhookSubscriber) error
	ListWebhooksByUser(userID string) ([]*model.WebhookSubscriber, error)
	DeleteWebhook(userID, id string) error

	Close() error
}

// ErrDuplicateUsername is returned by CreateUser when the username is
// already taken.
type ErrDuplicateUsername struct{ Username string }

func (e ErrDuplicateUsername) Error() string { return "username already exists: " + e.Username }
