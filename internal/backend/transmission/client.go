// Package transmission implements backend.Client against
// Transmission's JSON-RPC surface, including the
// X-Transmission-Session-Id CSRF handshake.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"torrent-gateway/internal/backend"
)

const sessionHeader = "X-Transmission-Session-Id"

// Client talks to one Transmission instance's RPC endpoint.
type Client struct {
	endpoint string
	auth     string
	http     *http.Client

	mu        sync.Mutex
	sessionID string
}

// New builds a Client against the given RPC endpoint URL, e.g.
// "http://seedbox.example.com:9091/transmission/rpc".
func New(endpoint, auth string) *Client {
	return &Client{
		endpoint: endpoint,
		auth:     auth,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *Client) call(ctx context.Context, method string, args any, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	resp, err := c.doWithSession(ctx, body)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Result != "success" {
		return fmt.Errorf("%s: %s", method, rpcResp.Result)
	}
	if out != nil && len(rpcResp.Arguments) > 0 {
		if err := json.Unmarshal(rpcResp.Arguments, out); err != nil {
			return fmt.Errorf("decoding %s arguments: %w", method, err)
		}
	}
	return nil
}

// doWithSession sends body, retrying once with a fresh session id if
// Transmission responds 409 Conflict (the CSRF handshake).
func (c *Client) doWithSession(ctx context.Context, body []byte) (*http.Response, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	resp, err := c.post(ctx, body, sessionID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusConflict {
		return resp, nil
	}
	resp.Body.Close()

	newSessionID := resp.Header.Get(sessionHeader)
	c.mu.Lock()
	c.sessionID = newSessionID
	c.mu.Unlock()

	return c.post(ctx, body, newSessionID)
}

func (c *Client) post(ctx context.Context, body []byte, sessionID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	if c.auth != "" {
		user, pass, _ := strings.Cut(c.auth, ":")
		req.SetBasicAuth(user, pass)
	}
	return c.http.Do(req)
}

// Transmission status codes.
const (
	statusStopped      = 0
	statusCheckWait    = 1
	statusChecking     = 2
	statusDownloadWait = 3
	statusDownloading  = 4
	statusSeedWait     = 5
	statusSeeding      = 6
)

type torrentInfo struct {
	HashString            string      `json:"hashString"`
	Name                  string      `json:"name"`
	DownloadDir           string      `json:"downloadDir"`
	TotalSize             int64       `json:"totalSize"`
	Status                int         `json:"status"`
	UploadRatio           float64     `json:"uploadRatio"`
	RateUpload            int64       `json:"rateUpload"`
	RateDownload          int64       `json:"rateDownload"`
	PeersConnected        int         `json:"peersConnected"`
	BandwidthPriority     int         `json:"bandwidthPriority"`
	IsPrivate             bool        `json:"isPrivate"`
	PercentDone           float64     `json:"percentDone"`
	MetadataPercentComplete float64   `json:"metadataPercentComplete"`
	Files                 []fileEntry `json:"files"`
	FileStats             []fileStat  `json:"fileStats"`
}

type fileEntry struct {
	Name   string `json:"name"`
	Length int64  `json:"length"`
}

type fileStat struct {
	BytesCompleted int64 `json:"bytesCompleted"`
	Wanted         bool  `json:"wanted"`
	Priority       int   `json:"priority"`
}

var torrentGetFields = []string{
	"hashString", "name", "downloadDir", "totalSize", "status", "uploadRatio",
	"rateUpload", "rateDownload", "peersConnected", "bandwidthPriority",
	"isPrivate", "percentDone", "metadataPercentComplete", "files", "fileStats",
	"isFinished",
}

func (c *Client) ListTorrents(ctx context.Context, infoHash string, includeFiles bool) ([]backend.TorrentView, error) {
	args := map[string]any{"fields": torrentGetFields}
	if infoHash != "" {
		args["ids"] = []string{backend.NormalizeHash(infoHash)}
	}

	var out struct {
		Torrents []torrentInfo `json:"torrents"`
	}
	if err := c.call(ctx, "torrent-get", args, &out); err != nil {
		return nil, fmt.Errorf("listing torrents: %w", err)
	}

	views := make([]backend.TorrentView, 0, len(out.Torrents))
	for _, t := range out.Torrents {
		views = append(views, torrentInfoToView(t, includeFiles))
	}
	return views, nil
}

func torrentInfoToView(t torrentInfo, includeFiles bool) backend.TorrentView {
	state := "stopped"
	switch t.Status {
	case statusDownloading:
		state = "downloading"
	case statusSeeding:
		state = "seeding"
	case statusCheckWait, statusChecking, statusDownloadWait, statusSeedWait:
		state = "queued"
	}

	view := backend.TorrentView{
		InfoHash:        backend.NormalizeHash(t.HashString),
		Name:            t.Name,
		BasePath:        t.DownloadDir,
		Size:            t.TotalSize,
		IsMultiFile:     len(t.Files) > 1,
		BytesDone:       int64(t.PercentDone * float64(t.TotalSize)),
		State:           state,
		IsActive:        backend.IsActiveState(state),
		Complete:        t.PercentDone >= 1,
		Ratio:           t.UploadRatio,
		UpRate:          t.RateUpload,
		DownRate:        t.RateDownload,
		Peers:           t.PeersConnected,
		Priority:        t.BandwidthPriority,
		IsPrivate:       t.IsPrivate,
		Progress:        t.PercentDone,
		IsMagnetPending: t.MetadataPercentComplete < 1 && t.TotalSize == 0,
	}

	if includeFiles {
		view.Files = filesFromInfo(t)
	}
	return view
}

func filesFromInfo(t torrentInfo) []backend.FileView {
	files := make([]backend.FileView, 0, len(t.Files))
	for i, f := range t.Files {
		priority := 1
		progress := 0.0
		if i < len(t.FileStats) {
			stat := t.FileStats[i]
			if !stat.Wanted {
				priority = 0
			} else if stat.Priority > 0 {
				priority = 2
			}
			if f.Length > 0 {
				progress = float64(stat.BytesCompleted) / float64(f.Length)
			}
		}
		files = append(files, backend.FileView{
			Index:    i,
			Path:     f.Name,
			Size:     f.Length,
			Priority: priority,
			Progress: progress,
		})
	}
	return files
}

func (c *Client) addTorrent(ctx context.Context, arg map[string]any, start bool, priority int) error {
	arg["paused"] = !start

	var out struct {
		TorrentAdded     *struct{ HashString string `json:"hashString"` } `json:"torrent-added"`
		TorrentDuplicate *struct{ HashString string `json:"hashString"` } `json:"torrent-duplicate"`
	}
	if err := c.call(ctx, "torrent-add", arg, &out); err != nil {
		return fmt.Errorf("adding torrent: %w", err)
	}

	var hash string
	if out.TorrentAdded != nil {
		hash = out.TorrentAdded.HashString
	} else if out.TorrentDuplicate != nil {
		hash = out.TorrentDuplicate.HashString
	}
	if hash == "" || priority == 1 {
		return nil
	}
	return c.SetPriority(ctx, hash, priority)
}

func (c *Client) AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error {
	return c.addTorrent(ctx, map[string]any{
		"metainfo": base64.StdEncoding.EncodeToString(data),
	}, start, priority)
}

func (c *Client) AddMagnet(ctx context.Context, uri string, start bool, priority int) error {
	return c.addTorrent(ctx, map[string]any{"filename": uri}, start, priority)
}

func (c *Client) AddTorrentURL(ctx context.Context, url string, start bool, priority int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building torrent download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading torrent file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading torrent file: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading downloaded torrent file: %w", err)
	}
	return c.AddTorrentFile(ctx, data, start, priority)
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	if err := c.call(ctx, "torrent-start", map[string]any{"ids": []string{backend.NormalizeHash(infoHash)}}, nil); err != nil {
		return fmt.Errorf("starting %s: %w", infoHash, err)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	if err := c.call(ctx, "torrent-stop", map[string]any{"ids": []string{backend.NormalizeHash(infoHash)}}, nil); err != nil {
		return fmt.Errorf("stopping %s: %w", infoHash, err)
	}
	return nil
}

func (c *Client) Erase(ctx context.Context, infoHash string, deleteData bool) error {
	hash := backend.NormalizeHash(infoHash)
	if err := c.Stop(ctx, hash); err != nil {
		return err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		views, err := c.ListTorrents(ctx, hash, false)
		if err != nil {
			return fmt.Errorf("waiting for %s to stop: %w", hash, err)
		}
		if len(views) == 0 || !views[0].IsActive {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	if err := c.call(ctx, "torrent-remove", map[string]any{
		"ids":               []string{hash},
		"delete-local-data": deleteData,
	}, nil); err != nil {
		return fmt.Errorf("erasing %s: %w", hash, err)
	}
	return nil
}

func (c *Client) Files(ctx context.Context, infoHash string) ([]backend.FileView, error) {
	views, err := c.ListTorrents(ctx, infoHash, true)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, nil
	}
	return views[0].Files, nil
}

// SetPriority maps the gateway's priority scale (0 = don't download,
// 1 = normal, 2 = high) onto Transmission's per-torrent
// bandwidthPriority (-1/0/1); priority 0 has no whole-torrent
// equivalent in Transmission, so it stops the torrent instead.
func (c *Client) SetPriority(ctx context.Context, infoHash string, priority int) error {
	hash := backend.NormalizeHash(infoHash)
	if priority == 0 {
		return c.Stop(ctx, hash)
	}
	bandwidthPriority := 0
	if priority == 2 {
		bandwidthPriority = 1
	}
	if err := c.call(ctx, "torrent-set", map[string]any{
		"ids":               []string{hash},
		"bandwidthPriority": bandwidthPriority,
	}, nil); err != nil {
		return fmt.Errorf("setting priority for %s: %w", hash, err)
	}
	return nil
}

func (c *Client) SetFilePriority(ctx context.Context, infoHash string, index int, priority int) error {
	hash := backend.NormalizeHash(infoHash)
	args := map[string]any{"ids": []string{hash}}
	if priority == 0 {
		args["files-unwanted"] = []int{index}
	} else {
		args["files-wanted"] = []int{index}
		if priority == 2 {
			args["priority-high"] = []int{index}
		} else {
			args["priority-normal"] = []int{index}
		}
	}
	if err := c.call(ctx, "torrent-set", args, nil); err != nil {
		return fmt.Errorf("setting file priority for %s file %d: %w", hash, index, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, "session-get", nil, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

var _ backend.Client = (*Client)(nil)
