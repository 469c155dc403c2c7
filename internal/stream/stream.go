// Package stream supervises on-demand HLS transcode jobs: one ffmpeg
// subprocess per (backend_id, file_path), writing a playlist and
// segments to a scratch directory that the HTTP adapter serves as
// static files.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Status is a transcode job's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

const (
	defaultIdleTimeout  = 600 * time.Second
	defaultGracePeriod  = 5 * time.Second
	defaultGCInterval   = 30 * time.Second
	playlistFileName    = "stream.m3u8"
)

// Job is one active or recently-finished transcode.
type Job struct {
	ID                string
	BackendID         string
	FilePath          string
	ScratchDir        string
	PlaylistPath      string
	MediaType         string
	DurationSeconds   float64
	TranscodedSeconds float64
	Status            Status
	Error             string
	StartedAt         time.Time

	mu         sync.Mutex
	lastAccess time.Time
	cancel     context.CancelFunc
}

func (j *Job) touch(now time.Time) {
	j.mu.Lock()
	j.lastAccess = now
	j.mu.Unlock()
}

func (j *Job) idleSince(now time.Time) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return now.Sub(j.lastAccess)
}

func (j *Job) setStatus(st Status, errMsg string) {
	j.mu.Lock()
	j.Status = st
	j.Error = errMsg
	j.mu.Unlock()
}

func (j *Job) snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Job{
		ID: j.ID, BackendID: j.BackendID, FilePath: j.FilePath, ScratchDir: j.ScratchDir,
		PlaylistPath: j.PlaylistPath, MediaType: j.MediaType, DurationSeconds: j.DurationSeconds,
		TranscodedSeconds: j.TranscodedSeconds, Status: j.Status, Error: j.Error, StartedAt: j.StartedAt,
	}
}

// Prober inspects a media file without transcoding it, to populate a
// job's duration and media type up front.
type Prober interface {
	Probe(ctx context.Context, path string) (duration time.Duration, mediaType string, err error)
}

// Options configures a Manager.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	ScratchRoot string
	IdleTimeout time.Duration
	GracePeriod time.Duration
}

// Manager owns every active transcode job for the process.
type Manager struct {
	opts   Options
	prober Prober
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	jobs  map[string]*Job // by job ID
	byKey map[string]*Job // by "backendID|filePath"
}

// New builds a Manager. Call Run to start its idle-GC loop and Stop
// to terminate every job and stop the loop.
func New(opts Options, prober Prober, log *slog.Logger) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		prober: prober,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:  make(map[string]*Job),
		byKey: make(map[string]*Job),
	}
}

func jobKey(backendID, filePath string) string { return backendID + "|" + filePath }

// StartStream starts a new transcode, or returns the existing job if
// one for (backendID, filePath) is already active.
func (m *Manager) StartStream(ctx context.Context, backendID, filePath string) (*Job, error) {
	key := jobKey(backendID, filePath)

	m.mu.Lock()
	if existing, ok := m.byKey[key]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	job := &Job{
		ID:         uuid.NewString(),
		BackendID:  backendID,
		FilePath:   filePath,
		Status:     StatusStarting,
		StartedAt:  time.Now(),
		lastAccess: time.Now(),
	}
	job.ScratchDir = filepath.Join(m.opts.ScratchRoot, job.ID)
	job.PlaylistPath = filepath.Join(job.ScratchDir, playlistFileName)

	m.jobs[job.ID] = job
	m.byKey[key] = job
	m.mu.Unlock()

	if err := os.MkdirAll(job.ScratchDir, 0o755); err != nil {
		m.removeJob(job)
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	if m.prober != nil {
		if d, mt, err := m.prober.Probe(ctx, filePath); err == nil {
			job.DurationSeconds = d.Seconds()
			job.MediaType = mt
		} else {
			m.log.Warn("stream: probing source failed", "job_id", job.ID, "file_path", filePath, "error", err)
		}
	}
	if job.MediaType == "" {
		job.MediaType = mime.TypeByExtension(filepath.Ext(filePath))
	}

	m.wg.Add(1)
	go m.run(job)

	return job, nil
}

func (m *Manager) run(job *Job) {
	defer m.wg.Done()

	jobCtx, cancel := context.WithCancel(m.ctx)
	job.mu.Lock()
	job.cancel = cancel
	job.mu.Unlock()
	defer cancel()

	args := []string{
		"-y",
		"-i", job.FilePath,
		"-c:v", "copy", "-c:a", "copy",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_playlist_type", "event",
		job.PlaylistPath,
	}
	cmd := exec.CommandContext(jobCtx, m.opts.FFmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = gracefulCancel(cmd, m.opts.GracePeriod)

	job.setStatus(StatusRunning, "")

	if err := cmd.Start(); err != nil {
		job.setStatus(StatusFailed, err.Error())
		return
	}

	err := cmd.Wait()
	if err != nil {
		job.setStatus(StatusFailed, err.Error())
		return
	}
	job.setStatus(StatusDone, "")
}

// gracefulCancel mirrors the pipeline executor's SIGTERM-then-SIGKILL
// process-group termination: ctx cancellation sends SIGTERM to the
// whole group, escalating to SIGKILL after gracePeriod.
func gracefulCancel(cmd *exec.Cmd, gracePeriod time.Duration) func() error {
	return func() error {
		pgid := -cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(gracePeriod)
			_ = syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return nil
	}
}

// JobInfo reports a job's current status and progress, refreshing its
// idle-GC clock.
func (m *Manager) JobInfo(jobID string) (*Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	job.touch(time.Now())
	if seconds, err := transcodedSeconds(job.PlaylistPath); err == nil {
		job.mu.Lock()
		job.TranscodedSeconds = seconds
		job.mu.Unlock()
	}

	snap := job.snapshot()
	return &snap, nil
}

// Touch records a playlist or segment hit against jobID's idle clock,
// for the HTTP adapter to call on every static-file request it serves.
func (m *Manager) Touch(jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if ok {
		job.touch(time.Now())
	}
}

func (m *Manager) removeJob(job *Job) {
	m.mu.Lock()
	delete(m.jobs, job.ID)
	delete(m.byKey, jobKey(job.BackendID, job.FilePath))
	m.mu.Unlock()
}

func (m *Manager) terminate(job *Job) {
	job.mu.Lock()
	cancel := job.cancel
	job.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.removeJob(job)
	if job.ScratchDir != "" {
		if err := os.RemoveAll(job.ScratchDir); err != nil {
			m.log.Warn("stream: removing scratch directory", "job_id", job.ID, "error", err)
		}
	}
}

// Run starts the idle-GC loop in the background. It returns
// immediately.
func (m *Manager) Run() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(defaultGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.gcIdleJobs()
			}
		}
	}()
}

func (m *Manager) gcIdleJobs() {
	now := time.Now()
	m.mu.Lock()
	var idle []*Job
	for _, job := range m.jobs {
		if job.idleSince(now) >= m.opts.IdleTimeout {
			idle = append(idle, job)
		}
	}
	m.mu.Unlock()

	for _, job := range idle {
		m.log.Info("stream: terminating idle job", "job_id", job.ID, "file_path", job.FilePath)
		m.terminate(job)
	}
}

// Stop terminates every job, removes its scratch directory, and stops
// the GC loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		all = append(all, job)
	}
	m.mu.Unlock()

	for _, job := range all {
		m.terminate(job)
	}

	m.cancel()
	m.wg.Wait()
}

// transcodedSeconds sums the #EXTINF durations the subprocess has
// written to the playlist so far.
func transcodedSeconds(playlistPath string) (float64, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		rest := strings.TrimPrefix(line, "#EXTINF:")
		rest, _, _ = strings.Cut(rest, ",")
		seconds, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			continue
		}
		total += seconds
	}
	return total, scanner.Err()
}

// FFProber invokes the system ffprobe binary to read a file's
// duration; the media type it reports comes from the file extension.
type FFProber struct {
	Path string
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (p *FFProber) Probe(ctx context.Context, path string) (time.Duration, string, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, "", fmt.Errorf("running ffprobe: %w", err)
	}

	var parsed ffprobeFormat
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, "", fmt.Errorf("parsing ffprobe output: %w", err)
	}
	seconds, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parsing duration %q: %w", parsed.Format.Duration, err)
	}
	return time.Duration(seconds * float64(time.Second)), mime.TypeByExtension(filepath.Ext(path)), nil
}
