// Package maintenance runs the gateway's periodic sweep: snapshot every
// enabled backend's torrents into Status history, and auto-pause any
// torrent that has seeded past its private/public threshold.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"torrent-gateway/internal/activity"
	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/events"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store"
	"torrent-gateway/internal/transfer"
)

const (
	defaultInterval           = 300 * time.Second
	defaultCallDeadline       = 10 * time.Second
	defaultShutdownGrace      = 15 * time.Second
	defaultPublicSeedDuration = 24 * time.Hour
	defaultPrivateSeedDuration = 7 * 24 * time.Hour
	defaultMaxGapSeconds      = 300
)

// Options configures a Scheduler. Zero values fall back to the spec's
// documented defaults.
type Options struct {
	Interval            time.Duration
	CallDeadline        time.Duration
	ShutdownGrace       time.Duration
	PublicSeedDuration  time.Duration
	PrivateSeedDuration time.Duration
	AutoPauseSeeding    bool
}

// Scheduler owns the one cooperative maintenance task per process.
type Scheduler struct {
	store    store.Store
	cache    *clientcache.Cache
	recorder *activity.Recorder
	transfer *transfer.Manager
	events   *events.Bus
	clock    clock.Clock
	log      *slog.Logger
	opts     Options

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. Call Start to begin ticking and Stop to
// shut it down gracefully. xfer and bus may be nil, in which case
// auto-download submission and event publishing are both skipped.
func New(s store.Store, cache *clientcache.Cache, recorder *activity.Recorder, xfer *transfer.Manager, bus *events.Bus, clk clock.Clock, log *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.CallDeadline <= 0 {
		opts.CallDeadline = defaultCallDeadline
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.PublicSeedDuration <= 0 {
		opts.PublicSeedDuration = defaultPublicSeedDuration
	}
	if opts.PrivateSeedDuration <= 0 {
		opts.PrivateSeedDuration = defaultPrivateSeedDuration
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:    s,
		cache:    cache,
		recorder: recorder,
		transfer: xfer,
		events:   bus,
		clock:    clk,
		log:      log,
		opts:     opts,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the ticker loop in a background goroutine. It returns
// immediately.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.wg.Add(1)
	go sch.loop(ctx)
}

func (sch *Scheduler) loop(ctx context.Context) {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sch.stopCh:
			return
		case <-ticker.C:
			sch.tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits up to ShutdownGrace for the
// in-flight tick's RPCs to finish.
func (sch *Scheduler) Stop() {
	close(sch.stopCh)

	done := make(chan struct{})
	go func() {
		sch.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(sch.opts.ShutdownGrace):
		sch.log.Warn("maintenance: shutdown grace period elapsed with a tick still in flight")
	}
}

// tick sweeps every enabled backend once. One backend's failure never
// aborts the sweep.
func (sch *Scheduler) tick(ctx context.Context) {
	// The whole sweep is bounded by the tick period minus a fixed safety
	// margin; backends not reached in time wait for the next tick.
	const safetyMargin = 5 * time.Second
	budget := sch.opts.Interval - safetyMargin
	if budget <= 0 {
		budget = sch.opts.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	backends, err := sch.store.ListEnabledBackends()
	if err != nil {
		sch.log.Error("maintenance: listing enabled backends", "error", err)
		return
	}

	for _, b := range backends {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sch.sweepBackend(ctx, b)
	}
}

func (sch *Scheduler) sweepBackend(ctx context.Context, b *model.Backend) {
	client, err := sch.cache.Get(b)
	if err != nil {
		sch.log.Warn("maintenance: building client", "backend_id", b.ID, "error", err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, sch.opts.CallDeadline)
	views, err := client.ListTorrents(callCtx, "", false)
	cancel()
	if err != nil {
		sch.log.Warn("maintenance: list_torrents failed", "backend_id", b.ID, "error", err)
		return
	}

	now := sch.clock.Now()
	for _, tv := range views {
		sch.recordAndMaybePause(ctx, b, tv, now)
	}
}

func (sch *Scheduler) recordAndMaybePause(ctx context.Context, b *model.Backend, tv backend.TorrentView, now time.Time) {
	isSeeding := tv.State == "seeding"

	if err := sch.recorder.Record(&model.Status{
		TorrentHash: tv.InfoHash,
		BackendID:   b.ID,
		IsSeeding:   isSeeding,
		IsPrivate:   tv.IsPrivate,
		Progress:    tv.Progress,
		DownRate:    tv.DownRate,
		UpRate:      tv.UpRate,
		Peers:       tv.Peers,
		Timestamp:   now,
	}); err != nil {
		sch.log.Warn("maintenance: recording status", "backend_id", b.ID, "info_hash", tv.InfoHash, "error", err)
		return
	}

	if tv.Complete {
		sch.maybeStartTransfer(ctx, b, tv)
	}

	if !isSeeding || !sch.opts.AutoPauseSeeding {
		return
	}

	threshold := sch.opts.PublicSeedDuration
	if tv.IsPrivate {
		threshold = sch.opts.PrivateSeedDuration
	}

	seeded, err := sch.recorder.SeedingDuration(tv.InfoHash, defaultMaxGapSeconds)
	if err != nil {
		sch.log.Warn("maintenance: computing seeding duration", "info_hash", tv.InfoHash, "error", err)
		return
	}
	if seeded < threshold {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, sch.opts.CallDeadline)
	defer cancel()

	client, err := sch.cache.Get(b)
	if err != nil {
		sch.log.Warn("maintenance: building client for auto-pause", "backend_id", b.ID, "error", err)
		return
	}
	if err := client.Stop(callCtx, tv.InfoHash); err != nil {
		sch.log.Warn("maintenance: auto-pause stop failed", "backend_id", b.ID, "info_hash", tv.InfoHash, "error", err)
		return
	}

	if err := sch.store.InsertAction(&model.Action{
		TorrentHash: tv.InfoHash,
		Kind:        model.ActionStop,
		Timestamp:   now,
		Detail:      "auto_pause",
	}); err != nil {
		sch.log.Warn("maintenance: recording auto-pause action", "info_hash", tv.InfoHash, "error", err)
	}
	sch.publish(b, tv.InfoHash, events.KindStopped, "auto_pause")
}

// maybeStartTransfer submits an auto-download transfer job the first
// time a torrent on an auto_download-enabled backend is observed
// complete. store.FindTransferJob (any state, not just active) keeps
// a later tick from resubmitting a job that already ran to completion
// or failure.
func (sch *Scheduler) maybeStartTransfer(ctx context.Context, b *model.Backend, tv backend.TorrentView) {
	if sch.transfer == nil || b.AutoDownload == nil || !b.AutoDownload.Enabled {
		return
	}

	existing, err := sch.store.FindTransferJob(tv.InfoHash, b.ID)
	if err != nil {
		sch.log.Warn("maintenance: checking for an existing transfer job", "info_hash", tv.InfoHash, "error", err)
		return
	}
	if existing != nil {
		return
	}

	if _, err := sch.transfer.Submit(ctx, b, tv, b.AutoDownload); err != nil {
		sch.log.Warn("maintenance: submitting auto-download transfer", "backend_id", b.ID, "info_hash", tv.InfoHash, "error", err)
	}
}

func (sch *Scheduler) publish(b *model.Backend, hash string, kind events.Kind, detail string) {
	if sch.events == nil {
		return
	}
	if err := sch.events.Publish(context.Background(), events.Event{
		Kind:        kind,
		UserID:      b.OwnerUserID,
		TorrentHash: hash,
		BackendID:   b.ID,
		Timestamp:   sch.clock.Now(),
		Detail:      detail,
	}); err != nil {
		sch.log.Warn("maintenance: publishing event failed", "kind", kind, "error", err)
	}
}
