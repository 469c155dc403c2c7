// Package dispatch routes per-user torrent operations to the correct
// backend: fan-out reads across every enabled backend a user owns,
// and by-hash write routing that favors the default backend, then the
// most recently used one, then whatever else is enabled.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store"
)

// ErrNotFound is returned when a write-by-hash operation cannot find
// a backend holding the given info hash.
var ErrNotFound = errors.New("torrent not found on any backend")

// ErrBadRequest is returned by Add when backendID is unknown,
// disabled, or not owned by the caller.
type ErrBadRequest struct{ Reason string }

func (e ErrBadRequest) Error() string { return e.Reason }

const defaultCallDeadline = 10 * time.Second

// TaggedTorrentView is a backend.TorrentView annotated with the
// backend it came from, as returned by a fanned-out read.
type TaggedTorrentView struct {
	backend.TorrentView
	BackendID   string
	BackendName string
	BackendKind model.BackendKind
}

// BackendError reports one backend's failure during a fan-out read.
type BackendError struct {
	BackendID string
	Message   string
}

// ListResult is the outcome of a (possibly fanned-out) read. A
// backend failure never fails the whole call; it is recorded in
// Errors instead.
type ListResult struct {
	Torrents []TaggedTorrentView
	Errors   []BackendError
}

// Dispatcher is the per-user aggregation and routing layer. One
// Dispatcher is shared across every request the gateway serves.
type Dispatcher struct {
	store        store.Store
	cache        *clientcache.Cache
	callDeadline time.Duration
	clock        clock.Clock
	log          *slog.Logger

	mu            sync.Mutex
	recentBackend map[string]string // "userID|infoHash" -> backendID
}

// New builds a Dispatcher. callDeadline of zero uses the 10s default.
func New(s store.Store, cache *clientcache.Cache, callDeadline time.Duration, clk clock.Clock, log *slog.Logger) *Dispatcher {
	if callDeadline <= 0 {
		callDeadline = defaultCallDeadline
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:         s,
		cache:         cache,
		callDeadline:  callDeadline,
		clock:         clk,
		log:           log,
		recentBackend: make(map[string]string),
	}
}

// recordAction appends an audit-log entry for a write-by-hash
// operation. A failure to record is logged, never returned, since the
// operation it audits has already succeeded against the backend.
func (d *Dispatcher) recordAction(hash string, kind model.ActionKind) {
	d.recordActionDetail(hash, kind, "")
}

func (d *Dispatcher) recordActionDetail(hash string, kind model.ActionKind, detail string) {
	if err := d.store.InsertAction(&model.Action{
		TorrentHash: backend.NormalizeHash(hash),
		Kind:        kind,
		Timestamp:   d.clock.Now(),
		Detail:      detail,
	}); err != nil {
		d.log.Warn("dispatch: recording action", "kind", kind, "info_hash", hash, "error", err)
	}
}

// Cache exposes the Dispatcher's underlying connection cache, for
// adapter operations (like a connectivity test) that need a client
// without going through a read or write dispatch method.
func (d *Dispatcher) Cache() *clientcache.Cache { return d.cache }

func (d *Dispatcher) recentKey(userID, infoHash string) string {
	return userID + "|" + backend.NormalizeHash(infoHash)
}

func (d *Dispatcher) rememberUsed(userID, infoHash, backendID string) {
	d.mu.Lock()
	d.recentBackend[d.recentKey(userID, infoHash)] = backendID
	d.mu.Unlock()
}

func (d *Dispatcher) mostRecentlyUsed(userID, infoHash string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recentBackend[d.recentKey(userID, infoHash)]
}

func (d *Dispatcher) ownedBackend(user *model.User, backendID string) (*model.Backend, error) {
	b, err := d.store.GetBackend(backendID)
	if err != nil {
		return nil, fmt.Errorf("looking up backend: %w", err)
	}
	if b == nil || b.OwnerUserID != user.ID {
		return nil, ErrNotFound
	}
	return b, nil
}

func (d *Dispatcher) clientFor(b *model.Backend) (backend.Client, error) {
	return d.cache.Get(b)
}

func (d *Dispatcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.callDeadline)
}

// ListTorrents fans out list_torrents to every enabled backend the
// user owns, or to one backend when backendID is given. A failing
// backend's torrents are omitted and recorded in Errors.
func (d *Dispatcher) ListTorrents(ctx context.Context, user *model.User, backendID, infoHash string) (*ListResult, error) {
	var targets []*model.Backend

	if backendID != "" {
		b, err := d.ownedBackend(user, backendID)
		if err != nil {
			return nil, err
		}
		targets = []*model.Backend{b}
	} else {
		all, err := d.store.ListBackendsByUser(user.ID)
		if err != nil {
			return nil, fmt.Errorf("listing backends: %w", err)
		}
		for _, b := range all {
			if b.Enabled {
				targets = append(targets, b)
			}
		}
	}

	result := &ListResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, b := range targets {
		wg.Add(1)
		go func(b *model.Backend) {
			defer wg.Done()

			callCtx, cancel := d.withDeadline(ctx)
			defer cancel()

			client, err := d.clientFor(b)
			if err == nil {
				var views []backend.TorrentView
				views, err = client.ListTorrents(callCtx, infoHash, false)
				if err == nil {
					mu.Lock()
					for _, v := range views {
						result.Torrents = append(result.Torrents, TaggedTorrentView{
							TorrentView: v,
							BackendID:   b.ID,
							BackendName: b.Name,
							BackendKind: b.Kind,
						})
					}
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			result.Errors = append(result.Errors, BackendError{BackendID: b.ID, Message: err.Error()})
			mu.Unlock()
		}(b)
	}

	wg.Wait()
	return result, nil
}

// candidateOrder builds the backend search order for a write-by-hash
// operation: is_default, then most-recently-used, then the rest of
// the enabled backends.
func candidateOrder(backends []*model.Backend, recentID string) []*model.Backend {
	var def, recent *model.Backend
	var rest []*model.Backend

	for _, b := range backends {
		if !b.Enabled {
			continue
		}
		switch {
		case b.IsDefault:
			def = b
		case recentID != "" && b.ID == recentID:
			recent = b
		default:
			rest = append(rest, b)
		}
	}

	out := make([]*model.Backend, 0, len(backends))
	if def != nil {
		out = append(out, def)
	}
	if recent != nil {
		out = append(out, recent)
	}
	out = append(out, rest...)
	return out
}

// resolveByHash finds the first backend among the user's enabled
// backends whose list_torrents(infoHash) returns a match, searching
// in is_default > most-recently-used > remaining-enabled order.
func (d *Dispatcher) resolveByHash(ctx context.Context, user *model.User, infoHash string) (*model.Backend, error) {
	backends, err := d.store.ListBackendsByUser(user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing backends: %w", err)
	}

	for _, b := range candidateOrder(backends, d.mostRecentlyUsed(user.ID, infoHash)) {
		client, err := d.clientFor(b)
		if err != nil {
			continue
		}
		callCtx, cancel := d.withDeadline(ctx)
		views, err := client.ListTorrents(callCtx, infoHash, false)
		cancel()
		if err != nil || len(views) == 0 {
			continue
		}
		return b, nil
	}
	return nil, ErrNotFound
}

// resolveTarget returns the backend a write-by-hash operation should
// hit: backendID if given (after an ownership check), otherwise the
// result of resolveByHash.
func (d *Dispatcher) resolveTarget(ctx context.Context, user *model.User, backendID, infoHash string) (*model.Backend, error) {
	if backendID != "" {
		return d.ownedBackend(user, backendID)
	}
	return d.resolveByHash(ctx, user, infoHash)
}

func (d *Dispatcher) Start(ctx context.Context, user *model.User, backendID, infoHash string) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	if err := client.Start(callCtx, infoHash); err != nil {
		return err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	d.recordAction(infoHash, model.ActionStart)
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context, user *model.User, backendID, infoHash string) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	if err := client.Stop(callCtx, infoHash); err != nil {
		return err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	d.recordAction(infoHash, model.ActionStop)
	return nil
}

func (d *Dispatcher) Erase(ctx context.Context, user *model.User, backendID, infoHash string, deleteData bool) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	if err := client.Erase(callCtx, infoHash, deleteData); err != nil {
		return err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	d.recordAction(infoHash, model.ActionRemove)
	return nil
}

func (d *Dispatcher) Files(ctx context.Context, user *model.User, backendID, infoHash string) ([]backend.FileView, error) {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return nil, err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	files, err := client.Files(callCtx, infoHash)
	if err != nil {
		return nil, err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	return files, nil
}

func (d *Dispatcher) SetPriority(ctx context.Context, user *model.User, backendID, infoHash string, priority int) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	if err := client.SetPriority(callCtx, infoHash, priority); err != nil {
		return err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	return nil
}

func (d *Dispatcher) SetFilePriority(ctx context.Context, user *model.User, backendID, infoHash string, index, priority int) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()
	if err := client.SetFilePriority(callCtx, infoHash, index, priority); err != nil {
		return err
	}
	d.rememberUsed(user.ID, infoHash, b.ID)
	return nil
}

// SetLabels overwrites infoHash's label set. The owning backend is
// resolved the same way a write-by-hash operation is: backendID if
// given, otherwise a scan of the user's enabled backends.
func (d *Dispatcher) SetLabels(ctx context.Context, user *model.User, backendID, infoHash string, labels []string) error {
	b, err := d.resolveTarget(ctx, user, backendID, infoHash)
	if err != nil {
		return err
	}
	return d.store.SetTorrentLabels(user.ID, b.ID, infoHash, labels)
}

// SetSetting overwrites one per-user per-torrent key/value override.
func (d *Dispatcher) SetSetting(ctx context.Context, user *model.User, backendID, infoHash, key, value string) error {
	if _, err := d.resolveTarget(ctx, user, backendID, infoHash); err != nil {
		return err
	}
	return d.store.SetTorrentSetting(&model.TorrentSetting{
		TorrentHash: backend.NormalizeHash(infoHash),
		OwnerUserID: user.ID,
		Key:         key,
		Value:       value,
	})
}

// AddKind selects which of AddRequest's payload fields is populated.
type AddKind int

const (
	AddKindFile AddKind = iota
	AddKindMagnet
	AddKindURL
)

// AddRequest carries the payload for adding a new torrent to a
// backend. Exactly one of Data/URI is meaningful, per Kind.
type AddRequest struct {
	Kind     AddKind
	Data     []byte // AddKindFile
	URI      string // AddKindMagnet | AddKindURL
	Start    bool
	Priority int
}

// Add submits a new torrent to backendID, which is mandatory: an
// unknown or disabled backend is a bad request, never a fan-out
// target.
func (d *Dispatcher) Add(ctx context.Context, user *model.User, backendID string, req AddRequest) error {
	if backendID == "" {
		return ErrBadRequest{Reason: "backend_id is required"}
	}
	b, err := d.store.GetBackend(backendID)
	if err != nil {
		return fmt.Errorf("looking up backend: %w", err)
	}
	if b == nil || b.OwnerUserID != user.ID {
		return ErrBadRequest{Reason: "unknown backend"}
	}
	if !b.Enabled {
		return ErrBadRequest{Reason: "backend is disabled"}
	}

	client, err := d.clientFor(b)
	if err != nil {
		return err
	}
	callCtx, cancel := d.withDeadline(ctx)
	defer cancel()

	var addErr error
	switch req.Kind {
	case AddKindFile:
		addErr = client.AddTorrentFile(callCtx, req.Data, req.Start, req.Priority)
	case AddKindMagnet:
		addErr = client.AddMagnet(callCtx, req.URI, req.Start, req.Priority)
	case AddKindURL:
		addErr = client.AddTorrentURL(callCtx, req.URI, req.Start, req.Priority)
	default:
		return ErrBadRequest{Reason: "unknown add kind"}
	}
	if addErr != nil {
		return addErr
	}

	// The client interface has no way to report the new torrent's
	// info hash back from an add call, so the add action is recorded
	// against the backend rather than a specific torrent hash.
	d.recordActionDetail("", model.ActionAdd, "backend_id="+backendID)
	return nil
}
