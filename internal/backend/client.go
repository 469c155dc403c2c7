// Package backend normalizes rTorrent and Transmission into one
// capability set so the rest of the gateway never branches on backend
// kind.
package backend

import (
	"context"
	"strings"
)

// FileView describes one file inside a torrent.
type FileView struct {
	Index    int
	Path     string
	Size     int64
	Priority int
	Progress float64
}

// TorrentView is a backend's normalized view of one torrent.
type TorrentView struct {
	InfoHash        string // uppercase hex
	Name            string
	BasePath        string
	Size            int64
	IsMultiFile     bool
	BytesDone       int64
	State           string
	IsActive        bool
	Complete        bool
	Ratio           float64
	UpRate          int64
	DownRate        int64
	Peers           int
	Priority        int
	IsPrivate       bool
	Progress        float64
	IsMagnetPending bool
	Files           []FileView // nil unless includeFiles was requested
}

// Client is the capability set every backend kind must implement.
// Every method's context carries the per-call deadline; a method that
// outlives it must return ctx.Err().
type Client interface {
	ListTorrents(ctx context.Context, infoHash string, includeFiles bool) ([]TorrentView, error)
	AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error
	AddMagnet(ctx context.Context, uri string, start bool, priority int) error
	AddTorrentURL(ctx context.Context, url string, start bool, priority int) error
	Start(ctx context.Context, infoHash string) error
	Stop(ctx context.Context, infoHash string) error
	Erase(ctx context.Context, infoHash string, deleteData bool) error
	Files(ctx context.Context, infoHash string) ([]FileView, error)
	SetPriority(ctx context.Context, infoHash string, priority int) error
	SetFilePriority(ctx context.Context, infoHash string, index int, priority int) error
	Ping(ctx context.Context) error
}

// NormalizeHash upper-cases an info hash, the form every backend
// persists and compares by.
func NormalizeHash(hash string) string { return strings.ToUpper(hash) }

// IsActiveState reports whether a normalized state string counts as
// "active" per the contract (downloading or seeding).
func IsActiveState(state string) bool {
	return state == "downloading" || state == "seeding"
}
