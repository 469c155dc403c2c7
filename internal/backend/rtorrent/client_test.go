package rtorrent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func multicallResponse(hash, name string, size, bytesDone int64, isActive, complete bool) string {
	b := func(v bool) string {
		if v {
			return "1"
		}
		return "0"
	}
	return fmt.Sprintf(`<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
<value><array><data>
<value><string>%s</string></value>
<value><string>%s</string></value>
<value><string>/data/%s</string></value>
<value><i4>%d</i4></value>
<value><i4>0</i4></value>
<value><i4>%d</i4></value>
<value><boolean>%s</boolean></value>
<value><boolean>%s</boolean></value>
<value><i4>1000</i4></value>
<value><i4>100</i4></value>
<value><i4>200</i4></value>
<value><i4>3</i4></value>
<value><i4>1</i4></value>
<value><boolean>0</boolean></value>
</data></array></value>
</data></array></value></param></params></methodResponse>`, hash, name, name, size, bytesDone, b(isActive), b(complete))
}

func newFakeServer(t *testing.T, handler func(method string, body string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s := string(body)
		var method string
		if i := strings.Index(s, "<methodName>"); i >= 0 {
			rest := s[i+len("<methodName>"):]
			if j := strings.Index(rest, "</methodName>"); j >= 0 {
				method = rest[:j]
			}
		}
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, handler(method, s))
	}))
}

func TestListTorrents_ParsesMulticall(t *testing.T) {
	srv := newFakeServer(t, func(method, body string) string {
		if method != "d.multicall2" {
			t.Fatalf("got method %q, want d.multicall2", method)
		}
		return multicallResponse("abc123", "debian.iso", 1000, 1000, true, true)
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
		t.Errorf("got hash %q, want ABC123 (uppercased)", v.InfoHash)
	}
	if v.State != "seeding" || !v.Complete {
		t.Errorf("got state %q complete %v, want seeding/true", v.State, v.Complete)
	}
	if v.Progress != 1.0 {
		t.Errorf("got progress %v, want 1.0", v.Progress)
	}
}

func TestListTorrents_FiltersByHash(t *testing.T) {
	srv := newFakeServer(t, func(method, body string) string {
		return multicallResponse("deadbeef", "other.iso", 500, 0, false, false)
	})
	defer srv.Close()

	c := New(srv.URL, "")
	views, err := c.ListTorrents(context.Background(), "ABC123", false)
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("got %d views, want 0 (hash mismatch filtered out)", len(views))
	}
}

func TestPing_Success(t *testing.T) {
	srv := newFakeServer(t, func(method, body string) string {
		return `<?xml version="1.0"?><methodResponse><params><param><value><string>1234</string></value></param></params></methodResponse>`
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestPing_Fault(t *testing.T) {
	srv := newFakeServer(t, func(method, body string) string {
		return `<?xml version="1.0"?><methodResponse><fault><value><struct>
<member><name>faultCode</name><value><i4>1</i4></value></member>
<member><name>faultString</name><value><string>unreachable</string></value></member>
</struct></value></fault></methodResponse>`
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}

func TestSetFilePriority_AddressesFileTarget(t *testing.T) {
	var gotTarget string
	srv := newFakeServer(t, func(method, body string) string {
		if method != "f.priority.set" {
			t.Fatalf("got method %q, want f.priority.set", method)
		}
		if i := strings.Index(body, "<string>"); i >= 0 {
			rest := body[i+len("<string>"):]
			if j := strings.Index(rest, "</string>"); j >= 0 {
				gotTarget = rest[:j]
			}
		}
		return `<?xml version="1.0"?><methodResponse><params><param><value><i4>0</i4></value></param></params></methodResponse>`
	})
	defer srv.Close()

	c := New(srv.URL, "")
	if err := c.SetFilePriority(context.Background(), "abc123", 2, 2); err != nil {
		t.Fatalf("SetFilePriority: %v", err)
	}
	if gotTarget != "ABC123:f2" {
		t.Errorf("got target %q, want ABC123:f2", gotTarget)
	}
}
