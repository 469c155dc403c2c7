// Package transfer moves a completed remote torrent's payload to a
// user's local storage once auto_download is configured on the
// backend that hosts it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/clock"
	"torrent-gateway/internal/events"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store"
)

// ErrNoTransport is returned when a backend has auto_download enabled
// but none of mount_path, http_download, or ssh is configured.
var ErrNoTransport = errors.New("transfer: no transport configured for backend")

const defaultProgressInterval = 2 * time.Second

// Transporter moves one file from a backend's remote storage to a
// local destination, calling progress as bytes move.
type Transporter interface {
	Transfer(ctx context.Context, src, dest string, size int64, progress func(done int64)) error
}

// Manager owns the TransferJob lifecycle: idempotent submission,
// progress tracking, and post-completion cleanup.
type Manager struct {
	store  store.Store
	cache  *clientcache.Cache
	clock  clock.Clock
	events *events.Bus
	log    *slog.Logger

	wg sync.WaitGroup
}

// New builds a Manager. bus may be nil, in which case transfer events
// are never published.
func New(s store.Store, cache *clientcache.Cache, clk clock.Clock, bus *events.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: s, cache: cache, clock: clk, events: bus, log: log}
}

func (m *Manager) publish(b *model.Backend, hash string, kind events.Kind, detail string) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(context.Background(), events.Event{
		Kind:        kind,
		UserID:      b.OwnerUserID,
		TorrentHash: hash,
		BackendID:   b.ID,
		Timestamp:   m.clock.Now(),
		Detail:      detail,
	}); err != nil {
		m.log.Warn("transfer: publishing event failed", "kind", kind, "error", err)
	}
}

// transporterFor picks mount_path > http_download > ssh, per the
// backend's configuration, returning ErrNoTransport if none apply.
func (m *Manager) transporterFor(b *model.Backend) (Transporter, error) {
	switch {
	case b.MountPath != "":
		return &mountTransporter{}, nil
	case b.HTTPDownload != nil && b.HTTPDownload.Enabled:
		return &httpTransporter{cfg: b.HTTPDownload}, nil
	case b.SSH != nil:
		return &sshTransporter{cfg: b.SSH}, nil
	default:
		return nil, ErrNoTransport
	}
}

// Submit starts (or returns the existing) TransferJob for
// (tv.InfoHash, b.ID). The torrent's remote path is assumed to live
// at b.DownloadDir/tv.BasePath (or tv.Name, for single-file
// torrents); the local destination is auto.LocalPath/<same name>.
func (m *Manager) Submit(ctx context.Context, b *model.Backend, tv backend.TorrentView, auto *model.AutoDownload) (*model.TransferJob, error) {
	hash := backend.NormalizeHash(tv.InfoHash)

	existing, err := m.store.FindActiveTransferJob(hash, b.ID)
	if err != nil {
		return nil, fmt.Errorf("checking for an active transfer job: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	name := tv.BasePath
	if name == "" {
		name = tv.Name
	}

	job := &model.TransferJob{
		ID:          uuid.NewString(),
		TorrentHash: hash,
		BackendID:   b.ID,
		SourcePath:  filepath.Join(b.DownloadDir, name),
		DestPath:    filepath.Join(auto.LocalPath, name),
		State:       model.TransferPending,
		BytesTotal:  tv.Size,
		StartedAt:   m.clock.Now(),
	}
	if err := m.store.CreateTransferJob(job); err != nil {
		return nil, fmt.Errorf("creating transfer job: %w", err)
	}

	if err := m.store.InsertAction(&model.Action{
		TorrentHash: hash,
		Kind:        model.ActionTransferStart,
		Timestamp:   job.StartedAt,
		Detail:      job.ID,
	}); err != nil {
		m.log.Warn("transfer: recording transfer_start action", "job_id", job.ID, "error", err)
	}
	m.publish(b, hash, events.KindTransferStarted, job.ID)

	m.wg.Add(1)
	go m.run(job, b, auto)

	return job, nil
}

// Wait blocks until every in-flight transfer started by this Manager
// has finished, for use during graceful shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) run(job *model.TransferJob, b *model.Backend, auto *model.AutoDownload) {
	defer m.wg.Done()

	job.State = model.TransferRunning
	if err := m.store.UpdateTransferJob(job); err != nil {
		m.log.Error("transfer: marking job running", "job_id", job.ID, "error", err)
		return
	}

	transporter, err := m.transporterFor(b)
	if err != nil {
		m.fail(job, err)
		return
	}

	// The mount transport reads the payload through the local mount of
	// the backend's download directory: the part of the remote path
	// below download_dir, collapsed against "/", is joined onto mount_path.
	src := job.SourcePath
	if _, ok := transporter.(*mountTransporter); ok {
		if rel, relErr := filepath.Rel(b.DownloadDir, src); relErr == nil {
			src = filepath.Join(b.MountPath, filepath.Join(string(filepath.Separator), rel))
		}
	}

	ctx := context.Background()
	lastReport := m.clock.Now()

	err = transporter.Transfer(ctx, src, job.DestPath, job.BytesTotal, func(done int64) {
		job.BytesDone = done
		if m.clock.Now().Sub(lastReport) < defaultProgressInterval {
			return
		}
		lastReport = m.clock.Now()
		if err := m.store.UpdateTransferJob(job); err != nil {
			m.log.Warn("transfer: recording progress", "job_id", job.ID, "error", err)
		}
	})
	if err != nil {
		m.fail(job, err)
		return
	}

	m.finish(ctx, job, b, auto)
}

func (m *Manager) fail(job *model.TransferJob, err error) {
	now := m.clock.Now()
	job.State = model.TransferFailed
	job.Error = err.Error()
	job.FinishedAt = &now
	if uErr := m.store.UpdateTransferJob(job); uErr != nil {
		m.log.Error("transfer: recording failure", "job_id", job.ID, "error", uErr)
	}
	m.log.Warn("transfer: job failed", "job_id", job.ID, "torrent_hash", job.TorrentHash, "error", err)
}

func (m *Manager) finish(ctx context.Context, job *model.TransferJob, b *model.Backend, auto *model.AutoDownload) {
	now := m.clock.Now()
	job.State = model.TransferDone
	job.BytesDone = job.BytesTotal
	job.FinishedAt = &now
	if err := m.store.UpdateTransferJob(job); err != nil {
		m.log.Error("transfer: recording completion", "job_id", job.ID, "error", err)
		return
	}

	if err := m.store.InsertAction(&model.Action{
		TorrentHash: job.TorrentHash,
		Kind:        model.ActionTransferDone,
		Timestamp:   now,
	}); err != nil {
		m.log.Warn("transfer: recording transfer_done action", "job_id", job.ID, "error", err)
	}
	m.publish(b, job.TorrentHash, events.KindTransferCompleted, job.ID)
	m.publish(b, job.TorrentHash, events.KindCompleted, job.ID)

	if !auto.DeleteRemoteAfter {
		return
	}

	client, err := m.cache.Get(b)
	if err != nil {
		m.log.Warn("transfer: building client for post-transfer erase", "backend_id", b.ID, "error", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Erase(callCtx, job.TorrentHash, false); err != nil {
		m.log.Warn("transfer: post-transfer erase failed", "backend_id", b.ID, "torrent_hash", job.TorrentHash, "error", err)
	}
}
