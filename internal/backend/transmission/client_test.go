package transmission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type fakeRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments"`
}

func newFakeServer(t *testing.T, handle func(req fakeRequest) any) *httptest.Server {
	t.Helper()
	var seenSession atomic.Bool

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeader) == "" && !seenSession.Load() {
			seenSession.Store(true)
			w.Header().Set(sessionHeader, "test-session-id")
			w.WriteHeader(http.StatusConflict)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var req fakeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		args := handle(req)
		resp := map[string]any{"result": "success", "arguments": args}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestSessionHandshake_RetriesWith409(t *testing.T) {
	calls := 0
	srv := newFakeServer(t, func(req fakeRequest) any {
		calls++
		return map[string]any{}
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d successful calls, want 1 after handshake retry", calls)
	}
}

func TestListTorrents_NormalizesFields(t *testing.T) {
	srv := newFakeServer(t, func(req fakeRequest) any {
		return map[string]any{
			"torrents": []map[string]any{{
				"hashString":              "abc123",
				"name":                    "debian.iso",
				"downloadDir":             "/data",
				"totalSize":               int64(1000),
				"status":                  6,
				"uploadRatio":             1.5,
				"rateUpload":              int64(0),
				"rateDownload":            int64(0),
				"peersConnected":          2,
				"bandwidthPriority":       0,
				"isPrivate":               true,
				"percentDone":             1.0,
				"metadataPercentComplete": 1.0,
				"files":                   []any{},
				"fileStats":               []any{},
			}},
		}
	})
	defer srv.Close()

	c := New(srv.URL, "")
	views, err := c.ListTorrents(context.Background(), "", false)
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	v := views[0]
	if v.InfoHash != "ABC123" {
		t.Errorf("got hash %q, want ABC123", v.InfoHash)
	}
	if v.State != "seeding" || !v.Complete {
		t.Errorf("got state %q complete %v, want seeding/true", v.State, v.Complete)
	}
	if !v.IsPrivate {
		t.Error("expected IsPrivate true")
	}
}

func TestSetPriority_ZeroStopsTorrent(t *testing.T) {
	var gotMethod string
	srv := newFakeServer(t, func(req fakeRequest) any {
		gotMethod = req.Method
		return map[string]any{}
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.SetPriority(context.Background(), "abc123", 0); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if gotMethod != "torrent-stop" {
		t.Errorf("got method %q, want torrent-stop for priority 0", gotMethod)
	}
}

func TestSetPriority_HighMapsToBandwidthPriority(t *testing.T) {
	var gotArgs map[string]any
	srv := newFakeServer(t, func(req fakeRequest) any {
		_ = json.Unmarshal(req.Arguments, &gotArgs)
		return map[string]any{}
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.SetPriority(context.Background(), "abc123", 2); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if bp, ok := gotArgs["bandwidthPriority"].(float64); !ok || bp != 1 {
		t.Errorf("got bandwidthPriority %v, want 1", gotArgs["bandwidthPriority"])
	}
}
