package auth

import (
	"testing"
	"time"

	"torrent-gateway/internal/testutil"
)

func TestRegisterAuthenticateRoundTrip(t *testing.T) {
	s := testutil.NewStore(t)
	svc := New(s, testutil.NewStubClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	u, err := svc.Register("alice", "correct-password")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := svc.Authenticate("alice", "correct-password")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("got user %s, want %s", got.ID, u.ID)
	}

	if _, err := svc.Authenticate("alice", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Authenticate("nobody", "whatever1"); err != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials for unknown username too", err)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	s := testutil.NewStore(t)
	svc := New(s, testutil.NewStubClock(time.Now()))

	if _, err := svc.Register("bob", "short"); err != ErrWeakPassword {
		t.Fatalf("got %v, want ErrWeakPassword", err)
	}
}

func TestSession_SlidesAfterThresholdNotBefore(t *testing.T) {
	s := testutil.NewStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewStubClock(start)
	svc := New(s, clk)

	u, _ := svc.Register("carol", "correct-password")
	sessID, _, err := svc.CreateSession(u, "1.2.3.4", "ua", false)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	clk.Advance(30 * time.Second)
	res, err := svc.ResolveSession(sessID, "", "1.2.3.4", "ua")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if res.Used != "session" {
		t.Fatalf("got %q, want session", res.Used)
	}

	sess, err := s.GetSession(sessID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.LastActivity.Equal(start) {
		t.Fatalf("got last_activity %v, want unchanged %v (under slide threshold)", sess.LastActivity, start)
	}

	clk.Advance(2 * time.Minute)
	if _, err := svc.ResolveSession(sessID, "", "1.2.3.4", "ua"); err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	sess, err = s.GetSession(sessID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.LastActivity.Equal(clk.Now()) {
		t.Fatalf("got last_activity %v, want slid to %v", sess.LastActivity, clk.Now())
	}
}

func TestSession_NeverSlidesBeyondMaxAge(t *testing.T) {
	s := testutil.NewStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewStubClock(start)
	svc := New(s, clk)

	u, _ := svc.Register("dana", "correct-password")
	sessID, _, _ := svc.CreateSession(u, "", "", false)

	// Stay active in six-day steps (inside the 7-day window) up to day
	// 24, then once more on day 29, so the session keeps sliding and
	// only the 30-day cap bounds it.
	for i := 0; i < 4; i++ {
		clk.Advance(6 * 24 * time.Hour)
		if _, err := svc.ResolveSession(sessID, "", "", ""); err != nil {
			t.Fatalf("ResolveSession on day %d: %v", 6*(i+1), err)
		}
	}
	clk.Advance(5 * 24 * time.Hour)
	if _, err := svc.ResolveSession(sessID, "", "", ""); err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}

	sess, err := s.GetSession(sessID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	wantCap := start.Add(30 * 24 * time.Hour)
	if sess.ExpiresAt.After(wantCap) {
		t.Fatalf("got expiry %v, must not exceed created_at+30d (%v)", sess.ExpiresAt, wantCap)
	}
}

func TestRememberToken_RenewsExpiredSession(t *testing.T) {
	s := testutil.NewStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewStubClock(start)
	svc := New(s, clk)

	u, _ := svc.Register("erin", "correct-password")
	sessID, rememberID, err := svc.CreateSession(u, "", "", true)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if rememberID == "" {
		t.Fatal("expected remember token")
	}

	clk.Advance(8 * 24 * time.Hour) // past the 7-day sliding window
	res, err := svc.ResolveSession(sessID, rememberID, "", "")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if res.Used != "renewed" {
		t.Fatalf("got %q, want renewed", res.Used)
	}
	if res.NewSessionID == "" || res.NewSessionID == sessID {
		t.Fatalf("got new session id %q, want a fresh one", res.NewSessionID)
	}

	rt, err := s.GetRememberToken(rememberID)
	if err != nil {
		t.Fatalf("GetRememberToken: %v", err)
	}
	if rt.Revoked {
		t.Fatal("remember token should remain valid until its own expiry")
	}
}

func TestResolveSession_NoCredentials(t *testing.T) {
	s := testutil.NewStore(t)
	svc := New(s, testutil.NewStubClock(time.Now()))

	if _, err := svc.ResolveSession("", "", "", ""); err != ErrNotAuthenticated {
		t.Fatalf("got %v, want ErrNotAuthenticated", err)
	}
}

func TestLogout_DeletesSessionAndRevokesRememberToken(t *testing.T) {
	s := testutil.NewStore(t)
	svc := New(s, testutil.NewStubClock(time.Now()))

	u, _ := svc.Register("frank", "correct-password")
	sessID, rememberID, _ := svc.CreateSession(u, "", "", true)

	if err := svc.Logout(sessID, rememberID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	sess, err := s.GetSession(sessID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Fatal("expected session to be deleted")
	}

	rt, err := s.GetRememberToken(rememberID)
	if err != nil {
		t.Fatalf("GetRememberToken: %v", err)
	}
	if !rt.Revoked {
		t.Fatal("expected remember token to be revoked")
	}
}

func TestApiKeyLifecycle(t *testing.T) {
	s := testutil.NewStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewStubClock(start)
	svc := New(s, clk)

	u, _ := svc.Register("grace", "correct-password")

	fullKey, key, err := svc.CreateApiKey(u, "ci", nil)
	if err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}
	if len(fullKey) == 0 || key.Prefix != fullKey[:8] {
		t.Fatalf("got prefix %q, want first 8 chars of %q", key.Prefix, fullKey)
	}

	gotUser, gotKey, err := svc.AuthenticateApiKey(fullKey)
	if err != nil {
		t.Fatalf("AuthenticateApiKey: %v", err)
	}
	if gotUser.ID != u.ID || gotKey.ID != key.ID {
		t.Fatalf("got user %s key %s, want %s/%s", gotUser.ID, gotKey.ID, u.ID, key.ID)
	}

	if err := svc.RevokeApiKey(u.ID, key.Prefix); err != nil {
		t.Fatalf("RevokeApiKey: %v", err)
	}
	if _, _, err := svc.AuthenticateApiKey(fullKey); err != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials after revoke", err)
	}
}

func TestApiKey_ExpiresAfterExpiresDays(t *testing.T) {
	s := testutil.NewStore(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testutil.NewStubClock(start)
	svc := New(s, clk)

	u, _ := svc.Register("hank", "correct-password")
	expiresDays := 1
	fullKey, _, err := svc.CreateApiKey(u, "short-lived", &expiresDays)
	if err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}

	clk.Advance(2 * 24 * time.Hour)
	if _, _, err := svc.AuthenticateApiKey(fullKey); err != ErrInvalidCredentials {
		t.Fatalf("got %v, want ErrInvalidCredentials once expired", err)
	}
}
