package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeFFmpegScript returns a path to an executable that behaves
// like ffmpeg writing a two-segment HLS playlist. The playlist path is
// always ffmpeg's final argument.
func writeFakeFFmpegScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg")
	script := `#!/bin/sh
for arg in "$@"; do playlist="$arg"; done
cat > "$playlist" <<EOF
#EXTM3U
#EXTINF:6.0,
seg0.ts
#EXTINF:4.5,
seg1.ts
EOF
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

type stubProber struct {
	duration  time.Duration
	mediaType string
}

func (p *stubProber) Probe(ctx context.Context, path string) (time.Duration, string, error) {
	return p.duration, p.mediaType, nil
}

func TestStartStream_DedupsByBackendAndFilePath(t *testing.T) {
	ffmpeg := writeFakeFFmpegScript(t)
	m := New(Options{FFmpegPath: ffmpeg, ScratchRoot: t.TempDir()}, &stubProber{duration: 90 * time.Second, mediaType: "video/mp4"}, nil)
	defer m.Stop()

	job1, err := m.StartStream(context.Background(), "b1", "/movies/one.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	job2, err := m.StartStream(context.Background(), "b1", "/movies/one.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if job1.ID != job2.ID {
		t.Fatalf("got distinct job ids %s/%s for the same (backend, file), want one shared job", job1.ID, job2.ID)
	}
	if job1.DurationSeconds != 90 {
		t.Fatalf("got duration %v, want the probed 90s", job1.DurationSeconds)
	}
}

func TestStartStream_DistinctKeysGetDistinctJobs(t *testing.T) {
	ffmpeg := writeFakeFFmpegScript(t)
	m := New(Options{FFmpegPath: ffmpeg, ScratchRoot: t.TempDir()}, nil, nil)
	defer m.Stop()

	job1, err := m.StartStream(context.Background(), "b1", "/movies/one.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	job2, err := m.StartStream(context.Background(), "b1", "/movies/two.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if job1.ID == job2.ID {
		t.Fatal("expected distinct file paths to get distinct jobs")
	}
}

func TestJobInfo_ReportsTranscodedSecondsFromPlaylist(t *testing.T) {
	ffmpeg := writeFakeFFmpegScript(t)
	m := New(Options{FFmpegPath: ffmpeg, ScratchRoot: t.TempDir()}, nil, nil)
	defer m.Stop()

	job, err := m.StartStream(context.Background(), "b1", "/movies/one.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	// The fake ffmpeg exits immediately after writing the playlist;
	// poll briefly for the job to leave "starting".
	deadline := time.Now().Add(2 * time.Second)
	var info *Job
	for time.Now().Before(deadline) {
		info, err = m.JobInfo(job.ID)
		if err != nil {
			t.Fatalf("JobInfo: %v", err)
		}
		if info.Status == StatusDone || info.Status == StatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if info.Status != StatusDone {
		t.Fatalf("got status %q (error=%q), want done", info.Status, info.Error)
	}
	if info.TranscodedSeconds != 10.5 {
		t.Fatalf("got transcoded_seconds %v, want 10.5 (6.0+4.5 from the fake playlist)", info.TranscodedSeconds)
	}
}

func TestStop_TerminatesJobsAndRemovesScratchDirs(t *testing.T) {
	ffmpeg := writeFakeFFmpegScript(t)
	m := New(Options{FFmpegPath: ffmpeg, ScratchRoot: t.TempDir()}, nil, nil)

	job, err := m.StartStream(context.Background(), "b1", "/movies/one.mkv")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	scratch := job.ScratchDir

	m.Stop()

	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir %s to be removed after Stop, stat err=%v", scratch, err)
	}
}

func TestTranscodedSeconds_ParsesExtinfLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.m3u8")
	content := "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n#EXTINF:4.5,\nseg1.ts\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := transcodedSeconds(path)
	if err != nil {
		t.Fatalf("transcodedSeconds: %v", err)
	}
	if got != 10.5 {
		t.Fatalf("got %v, want 10.5", got)
	}
}
