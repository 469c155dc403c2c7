// Package memory implements backend.Client as an in-memory fake,
// exercised by the dispatcher, maintenance scheduler, and transfer
// manager's tests in place of a live rTorrent/Transmission instance.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"torrent-gateway/internal/backend"
)

// Client is a thread-safe, in-process stand-in for a real backend.
type Client struct {
	mu       sync.Mutex
	torrents map[string]backend.TorrentView
	pingErr  error
	failErr  error // when set, ListTorrents, Start, Stop and Erase fail with this error
}

// New returns an empty fake, ready to have torrents seeded via Seed.
func New() *Client {
	return &Client{torrents: make(map[string]backend.TorrentView)}
}

// Seed installs or replaces a torrent the fake will report.
func (c *Client) Seed(tv backend.TorrentView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tv.InfoHash = backend.NormalizeHash(tv.InfoHash)
	c.torrents[tv.InfoHash] = tv
}

// FailPingWith makes subsequent Ping calls return err; pass nil to
// restore success.
func (c *Client) FailPingWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// FailWith makes subsequent ListTorrents, Start, Stop and Erase calls
// fail with err, simulating an unreachable backend; pass nil to restore
// normal behavior. The add, file and priority methods are not affected,
// and Ping is controlled separately by FailPingWith.
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

func (c *Client) ListTorrents(ctx context.Context, infoHash string, includeFiles bool) ([]backend.TorrentView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}

	if infoHash != "" {
		tv, ok := c.torrents[backend.NormalizeHash(infoHash)]
		if !ok {
			return nil, nil
		}
		return []backend.TorrentView{tv}, nil
	}

	out := make([]backend.TorrentView, 0, len(c.torrents))
	for _, tv := range c.torrents {
		out = append(out, tv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InfoHash < out[j].InfoHash })
	return out, nil
}

func (c *Client) AddTorrentFile(ctx context.Context, data []byte, start bool, priority int) error {
	return nil
}

func (c *Client) AddMagnet(ctx context.Context, uri string, start bool, priority int) error {
	return nil
}

func (c *Client) AddTorrentURL(ctx context.Context, url string, start bool, priority int) error {
	return nil
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	hash := backend.NormalizeHash(infoHash)
	tv, ok := c.torrents[hash]
	if !ok {
		return fmt.Errorf("memory backend: unknown torrent %s", hash)
	}
	tv.State = "downloading"
	tv.IsActive = true
	c.torrents[hash] = tv
	return nil
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	hash := backend.NormalizeHash(infoHash)
	tv, ok := c.torrents[hash]
	if !ok {
		return fmt.Errorf("memory backend: unknown torrent %s", hash)
	}
	tv.State = "stopped"
	tv.IsActive = false
	c.torrents[hash] = tv
	return nil
}

func (c *Client) Erase(ctx context.Context, infoHash string, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	delete(c.torrents, backend.NormalizeHash(infoHash))
	return nil
}

func (c *Client) Files(ctx context.Context, infoHash string) ([]backend.FileView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tv, ok := c.torrents[backend.NormalizeHash(infoHash)]
	if !ok {
		return nil, nil
	}
	return tv.Files, nil
}

func (c *Client) SetPriority(ctx context.Context, infoHash string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := backend.NormalizeHash(infoHash)
	tv, ok := c.torrents[hash]
	if !ok {
		return fmt.Errorf("memory backend: unknown torrent %s", hash)
	}
	tv.Priority = priority
	c.torrents[hash] = tv
	return nil
}

func (c *Client) SetFilePriority(ctx context.Context, infoHash string, index int, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := backend.NormalizeHash(infoHash)
	tv, ok := c.torrents[hash]
	if !ok || index >= len(tv.Files) {
		return fmt.Errorf("memory backend: unknown file %s[%d]", hash, index)
	}
	tv.Files[index].Priority = priority
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

var _ backend.Client = (*Client)(nil)
