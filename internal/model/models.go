// Package model defines the gateway's persistent entities. All primary
// keys are opaque URL-safe strings unless noted otherwise.
package model

import "time"

// BackendKind identifies which RPC dialect a Backend speaks.
type BackendKind string

const (
	KindRTorrent     BackendKind = "rtorrent"
	KindTransmission BackendKind = "transmission"
)

// User is an account holder. Usernames are unique and case-sensitive.
// Passwords are never stored in clear.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// HTTPDownload describes a backend's optional HTTP endpoint for pulling
// completed payloads to local storage.
type HTTPDownload struct {
	Host    string
	Port    int
	Path    string
	Auth    string // "user:pass", empty if anonymous
	UseSSL  bool
	Enabled bool
}

// SSHConfig describes a backend's optional SSH/SFTP transport.
type SSHConfig struct {
	Host    string
	Port    int
	User    string
	KeyPath string
}

// AutoDownload configures automatic transfer of completed torrents.
type AutoDownload struct {
	Enabled           bool
	LocalPath         string
	DeleteRemoteAfter bool
}

// Backend is one remote rTorrent/Transmission instance a user controls.
type Backend struct {
	ID          string
	OwnerUserID string
	Name        string
	Kind        BackendKind
	Host        string
	Port        int
	RPCPath     string
	UseSSL      bool
	Auth        string // "user:pass", empty if anonymous
	Enabled     bool
	IsDefault   bool
	CreatedAt   time.Time

	HTTPDownload *HTTPDownload
	MountPath    string // local path the backend's download dir is mounted at, if any
	DownloadDir  string // remote download directory, as the backend sees it
	AutoDownload *AutoDownload
	SSH          *SSHConfig

	// Version increments on every update; the client cache uses it to
	// invalidate a cached connection when the record changes.
	Version int64
}

// Torrent is a user's local record of a torrent tracked on one backend.
// Identity is (OwnerUserID, BackendID, InfoHash); the distinguishing key
// when the same hash exists on more than one backend.
type Torrent struct {
	InfoHash    string // 40-hex, uppercase
	OwnerUserID string
	BackendID   string // blank (tombstoned) if the backend was deleted
	Name        string
	Size        int64
	IsPrivate   bool
	BasePath    string
	AddedAt     time.Time
	Labels      []string
}

// Status is an append-only observation of a torrent's transfer state.
type Status struct {
	ID          int64
	TorrentHash string
	BackendID   string
	IsSeeding   bool
	IsPrivate   bool
	Progress    float64
	DownRate    int64
	UpRate      int64
	Peers       int
	Seeds       int
	Timestamp   time.Time
}

// ActionKind enumerates the audit-log action types.
type ActionKind string

const (
	ActionAdd             ActionKind = "add"
	ActionStart           ActionKind = "start"
	ActionStop            ActionKind = "stop"
	ActionRemove          ActionKind = "remove"
	ActionTransferStart   ActionKind = "transfer_start"
	ActionTransferDone    ActionKind = "transfer_done"
	ActionError           ActionKind = "error"
)

// Action is an append-only audit log entry for a torrent.
type Action struct {
	ID          int64
	TorrentHash string
	Kind        ActionKind
	Timestamp   time.Time
	Detail      string
}

// TransferState is the lifecycle state of a TransferJob.
type TransferState string

const (
	TransferPending TransferState = "pending"
	TransferRunning TransferState = "running"
	TransferDone    TransferState = "done"
	TransferFailed  TransferState = "failed"
)

// TransferJob moves a completed remote torrent's payload to local storage.
type TransferJob struct {
	ID         string
	TorrentHash string
	BackendID  string
	SourcePath string
	DestPath   string
	State      TransferState
	BytesDone  int64
	BytesTotal int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// TorrentSetting is a per-user per-torrent key/value override.
type TorrentSetting struct {
	TorrentHash string
	OwnerUserID string
	Key         string
	Value       string
}

// Session is a sliding-expiry opaque-cookie login session.
type Session struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IP           string
	UA           string
}

// RememberToken mints a fresh Session without re-supplying a password.
type RememberToken struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	IP        string
	UA        string
	Revoked   bool
}

// ApiKey is an opaque bearer credential. Prefix (the first 8 characters
// of the full value) identifies it for management once the full value
// has been shown to the user exactly once.
type ApiKey struct {
	ID         string // full key value
	Prefix     string
	UserID     string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	Revoked    bool
}

// WebhookSubscriber is a user-registered HTTP endpoint that receives
// signed POSTs for typed gateway events.
type WebhookSubscriber struct {
	ID        string
	UserID    string
	URL       string
	Secret    string
	CreatedAt time.Time
}
