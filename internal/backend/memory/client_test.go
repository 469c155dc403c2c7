package memory

import (
	"context"
	"errors"
	"testing"

	"torrent-gateway/internal/backend"
)

func TestSeedAndListAndFilter(t *testing.T) {
	c := New()
	c.Seed(backend.TorrentView{InfoHash: "abc123", Name: "debian.iso", State: "stopped"})

	all, err := c.ListTorrents(context.Background(), "", false)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListTorrents: %v, %d results", err, len(all))
	}

	one, err := c.ListTorrents(context.Background(), "ABC123", false)
	if err != nil || len(one) != 1 {
		t.Fatalf("ListTorrents by hash: %v, %d results", err, len(one))
	}

	none, err := c.ListTorrents(context.Background(), "DEADBEEF", false)
	if err != nil || len(none) != 0 {
		t.Fatalf("ListTorrents unknown hash: %v, %d results", err, len(none))
	}
}

func TestStartStopErase(t *testing.T) {
	c := New()
	c.Seed(backend.TorrentView{InfoHash: "abc123", State: "stopped"})

	if err := c.Start(context.Background(), "abc123"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	views, _ := c.ListTorrents(context.Background(), "abc123", false)
	if views[0].State != "downloading" || !views[0].IsActive {
		t.Fatalf("got %+v, want active/downloading", views[0])
	}

	if err := c.Stop(context.Background(), "abc123"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	views, _ = c.ListTorrents(context.Background(), "abc123", false)
	if views[0].IsActive {
		t.Fatal("expected inactive after Stop")
	}

	if err := c.Erase(context.Background(), "abc123", false); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	views, _ = c.ListTorrents(context.Background(), "abc123", false)
	if len(views) != 0 {
		t.Fatal("expected torrent to be gone after Erase")
	}
}

func TestFailPingWith(t *testing.T) {
	c := New()
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	boom := errors.New("boom")
	c.FailPingWith(boom)
	if err := c.Ping(context.Background()); err != boom {
		t.Fatalf("got %v, want boom", err)
	}

	c.FailPingWith(nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping after reset: %v", err)
	}
}
