package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/backend/memory"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/testutil"
)

func setup(t *testing.T) (*Manager, *testutil.StubClock, *memory.Client, *model.Backend) {
	t.Helper()
	s := testutil.NewStore(t)
	u, err := s.CreateUser("alice", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	mountDir := t.TempDir()
	b, err := s.CreateBackend(&model.Backend{
		OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true,
		MountPath:   mountDir,
		DownloadDir: mountDir,
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}

	client := memory.New()
	cache := clientcache.New(func(bk *model.Backend) (backend.Client, error) { return client, nil })
	clk := testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(s, cache, clk, nil, nil)
	return m, clk, client, b
}

func writeSourceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestSubmit_CompletesViaMountTransport(t *testing.T) {
	m, _, client, b := setup(t)
	writeSourceFile(t, b.MountPath, "movie.mkv", "payload-bytes")
	client.Seed(backend.TorrentView{InfoHash: "AAA", Name: "movie.mkv", BasePath: "movie.mkv", Size: 13})

	destDir := t.TempDir()
	job, err := m.Submit(context.Background(), b, backend.TorrentView{InfoHash: "AAA", Name: "movie.mkv", BasePath: "movie.mkv", Size: 13}, &model.AutoDownload{Enabled: true, LocalPath: destDir})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.Wait()

	done, err := m.store.GetTransferJob(job.ID)
	if err != nil {
		t.Fatalf("GetTransferJob: %v", err)
	}
	if done.State != model.TransferDone {
		t.Fatalf("got state %q, want done (error=%q)", done.State, done.Error)
	}
	if done.BytesDone != done.BytesTotal {
		t.Fatalf("got bytes_done %d, want %d", done.BytesDone, done.BytesTotal)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "movie.mkv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "payload-bytes" {
		t.Fatalf("got %q, want payload-bytes", got)
	}
}

func TestSubmit_ResubmissionWhileActiveReturnsExistingJob(t *testing.T) {
	m, clk, client, b := setup(t)
	writeSourceFile(t, b.MountPath, "movie.mkv", "payload-bytes")
	tv := backend.TorrentView{InfoHash: "AAA", Name: "movie.mkv", BasePath: "movie.mkv", Size: 13}
	client.Seed(tv)

	// Seed an in-flight job directly, instead of racing the manager's
	// own (fast, in-process) completion of a first Submit call.
	existing := &model.TransferJob{
		ID:          "already-running",
		TorrentHash: "AAA",
		BackendID:   b.ID,
		SourcePath:  filepath.Join(b.MountPath, "movie.mkv"),
		DestPath:    filepath.Join(t.TempDir(), "movie.mkv"),
		State:       model.TransferRunning,
		BytesTotal:  13,
		StartedAt:   clk.Now(),
	}
	if err := m.store.CreateTransferJob(existing); err != nil {
		t.Fatalf("CreateTransferJob: %v", err)
	}

	got, err := m.Submit(context.Background(), b, tv, &model.AutoDownload{Enabled: true, LocalPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("got job id %s, want the existing in-flight job %s", got.ID, existing.ID)
	}
	m.Wait()
}

func TestSubmit_ErasesRemoteOnDeleteRemoteAfter(t *testing.T) {
	m, _, client, b := setup(t)
	writeSourceFile(t, b.MountPath, "movie.mkv", "payload-bytes")
	tv := backend.TorrentView{InfoHash: "AAA", Name: "movie.mkv", BasePath: "movie.mkv", Size: 13}
	client.Seed(tv)

	_, err := m.Submit(context.Background(), b, tv, &model.AutoDownload{Enabled: true, LocalPath: t.TempDir(), DeleteRemoteAfter: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.Wait()

	views, err := client.ListTorrents(context.Background(), "AAA", false)
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(views) != 0 {
		t.Fatal("expected the torrent to have been erased on the backend after a successful transfer")
	}
}

func TestSubmit_NoTransportConfiguredFailsTheJob(t *testing.T) {
	s := testutil.NewStore(t)
	u, err := s.CreateUser("bob", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	b, err := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	client := memory.New()
	tv := backend.TorrentView{InfoHash: "AAA", Name: "movie.mkv", BasePath: "movie.mkv", Size: 13}
	client.Seed(tv)

	cache := clientcache.New(func(bk *model.Backend) (backend.Client, error) { return client, nil })
	clk := testutil.NewStubClock(time.Now())
	m := New(s, cache, clk, nil, nil)

	job, err := m.Submit(context.Background(), b, tv, &model.AutoDownload{Enabled: true, LocalPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	m.Wait()

	done, err := s.GetTransferJob(job.ID)
	if err != nil {
		t.Fatalf("GetTransferJob: %v", err)
	}
	if done.State != model.TransferFailed {
		t.Fatalf("got state %q, want failed", done.State)
	}
}
