package dispatch

import (
	"context"
	"errors"
	"testing"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/backend/memory"
	"torrent-gateway/internal/clientcache"
	"torrent-gateway/internal/model"
	"torrent-gateway/internal/testutil"
)

// fakeFactory hands out pre-seeded memory clients keyed by backend id,
// so tests can script each backend's behavior independently.
type fakeFactory struct {
	clients map[string]*memory.Client
}

func newFakeFactory() *fakeFactory { return &fakeFactory{clients: make(map[string]*memory.Client)} }

func (f *fakeFactory) clientFor(backendID string) *memory.Client {
	c, ok := f.clients[backendID]
	if !ok {
		c = memory.New()
		f.clients[backendID] = c
	}
	return c
}

func (f *fakeFactory) factoryFunc() clientcache.Factory {
	return func(b *model.Backend) (backend.Client, error) {
		return f.clientFor(b.ID), nil
	}
}

func setupDispatcher(t *testing.T) (*Dispatcher, *fakeFactory, *model.User) {
	t.Helper()
	s := testutil.NewStore(t)
	u, err := s.CreateUser("alice", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	factory := newFakeFactory()
	cache := clientcache.New(factory.factoryFunc())
	return New(s, cache, 0, nil, nil), factory, u
}

func TestListTorrents_FansOutAcrossEnabledBackends(t *testing.T) {
	d, factory, u := setupDispatcher(t)
	s := d.store

	b1, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h1", Port: 1, Enabled: true})
	b2, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s2", Kind: model.KindTransmission, Host: "h2", Port: 2, Enabled: true})
	disabled, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s3", Kind: model.KindRTorrent, Host: "h3", Port: 3, Enabled: false})

	factory.clientFor(b1.ID).Seed(backend.TorrentView{InfoHash: "AAA", Name: "one"})
	factory.clientFor(b2.ID).Seed(backend.TorrentView{InfoHash: "BBB", Name: "two"})
	factory.clientFor(disabled.ID).Seed(backend.TorrentView{InfoHash: "CCC", Name: "three"})

	result, err := d.ListTorrents(context.Background(), u, "", "")
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(result.Torrents) != 2 {
		t.Fatalf("got %d torrents, want 2 (disabled backend excluded)", len(result.Torrents))
	}
	if len(result.Errors) != 0 {
		t.Fatalf("got errors %+v, want none", result.Errors)
	}
}

func TestListTorrents_PartialFailureDegradesGracefully(t *testing.T) {
	d, factory, u := setupDispatcher(t)
	s := d.store

	s1, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h1", Port: 1, Enabled: true})
	s2, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s2", Kind: model.KindTransmission, Host: "h2", Port: 2, Enabled: true})

	factory.clientFor(s1.ID).Seed(backend.TorrentView{InfoHash: "AAA", Name: "healthy"})
	factory.clientFor(s2.ID).FailWith(errors.New("timeout"))

	result, err := d.ListTorrents(context.Background(), u, "", "")
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(result.Torrents) != 1 || result.Torrents[0].BackendID != s1.ID {
		t.Fatalf("got %+v, want one torrent from s1", result.Torrents)
	}
	if len(result.Errors) != 1 || result.Errors[0].BackendID != s2.ID {
		t.Fatalf("got errors %+v, want one entry for s2", result.Errors)
	}
}

func TestListTorrents_SingleBackendOwnershipCheck(t *testing.T) {
	d, _, u := setupDispatcher(t)
	s := d.store

	other, err := s.CreateUser("mallory", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	theirs, _ := s.CreateBackend(&model.Backend{OwnerUserID: other.ID, Name: "not-yours", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true})

	_, err = d.ListTorrents(context.Background(), u, theirs.ID, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for a backend owned by another user", err)
	}
}

func TestWriteByHash_RoutesToDefaultFirst(t *testing.T) {
	d, factory, u := setupDispatcher(t)
	s := d.store

	def, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "default", Kind: model.KindRTorrent, Host: "h1", Port: 1, Enabled: true, IsDefault: true})
	other, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "other", Kind: model.KindRTorrent, Host: "h2", Port: 2, Enabled: true})

	factory.clientFor(def.ID).Seed(backend.TorrentView{InfoHash: "AAA", State: "stopped"})
	factory.clientFor(other.ID).Seed(backend.TorrentView{InfoHash: "AAA", State: "stopped"})

	if err := d.Start(context.Background(), u, "", "AAA"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	defView, _ := factory.clientFor(def.ID).ListTorrents(context.Background(), "AAA", false)
	if !defView[0].IsActive {
		t.Fatal("expected default backend's torrent to be started")
	}
	otherView, _ := factory.clientFor(other.ID).ListTorrents(context.Background(), "AAA", false)
	if otherView[0].IsActive {
		t.Fatal("expected the non-default backend to be left untouched")
	}
}

func TestWriteByHash_NotFoundWhenNoBackendHasTheHash(t *testing.T) {
	d, _, u := setupDispatcher(t)
	s := d.store
	_, _ = s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true})

	err := d.Start(context.Background(), u, "", "DEADBEEF")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAdd_RequiresBackendID(t *testing.T) {
	d, _, u := setupDispatcher(t)

	err := d.Add(context.Background(), u, "", AddRequest{Kind: AddKindMagnet, URI: "magnet:?xt=urn:btih:AAA"})
	var badReq ErrBadRequest
	if !errors.As(err, &badReq) {
		t.Fatalf("got %v, want ErrBadRequest", err)
	}
}

func TestAdd_RejectsDisabledBackend(t *testing.T) {
	d, _, u := setupDispatcher(t)
	s := d.store
	disabled, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: false})

	err := d.Add(context.Background(), u, disabled.ID, AddRequest{Kind: AddKindMagnet, URI: "magnet:?xt=urn:btih:AAA"})
	var badReq ErrBadRequest
	if !errors.As(err, &badReq) {
		t.Fatalf("got %v, want ErrBadRequest", err)
	}
}

func TestAdd_DelegatesToClient(t *testing.T) {
	d, factory, u := setupDispatcher(t)
	s := d.store
	b, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true})

	err := d.Add(context.Background(), u, b.ID, AddRequest{Kind: AddKindMagnet, URI: "magnet:?xt=urn:btih:AAA", Start: true})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_ = factory.clientFor(b.ID) // memory fake accepts AddMagnet unconditionally

	actions, err := d.store.ListActions("")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	found := false
	for _, a := range actions {
		if a.Kind == model.ActionAdd && a.Detail == "backend_id="+b.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("got actions %+v, want an add action recorded against the backend", actions)
	}
}

func TestWriteByHash_RecordsAuditActions(t *testing.T) {
	d, factory, u := setupDispatcher(t)
	s := d.store
	b, _ := s.CreateBackend(&model.Backend{OwnerUserID: u.ID, Name: "s1", Kind: model.KindRTorrent, Host: "h", Port: 1, Enabled: true})
	factory.clientFor(b.ID).Seed(backend.TorrentView{InfoHash: "AAA", State: "stopped"})

	if err := d.Start(context.Background(), u, "", "AAA"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(context.Background(), u, "", "AAA"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := d.Erase(context.Background(), u, "", "AAA", false); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	actions, err := s.ListActions("AAA")
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	want := []model.ActionKind{model.ActionStart, model.ActionStop, model.ActionRemove}
	if len(actions) != len(want) {
		t.Fatalf("got %d actions, want %d: %+v", len(actions), len(want), actions)
	}
	for i, k := range want {
		if actions[i].Kind != k {
			t.Fatalf("action %d: got kind %q, want %q", i, actions[i].Kind, k)
		}
	}
}
