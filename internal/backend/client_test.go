package backend

import "testing"

func TestNormalizeHash(t *testing.T) {
	got := NormalizeHash("abc123def456")
	want := "ABC123DEF456"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsActiveState(t *testing.T) {
	cases := map[string]bool{
		"downloading": true,
		"seeding":     true,
		"stopped":     false,
		"queued":      false,
	}
	for state, want := range cases {
		if got := IsActiveState(state); got != want {
			t.Errorf("IsActiveState(%q) = %v, want %v", state, got, want)
		}
	}
}
