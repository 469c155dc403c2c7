package activity

import (
	"testing"
	"time"

	"torrent-gateway/internal/model"
	"torrent-gateway/internal/testutil"
)

// TestSeedingDuration_ResetsOnNonSeedingObservation is the spec's own
// worked example: t=0,60,120,180 all seeding sums to 180s, but
// inserting a stopped row at t=90 must return only the 60s segment
// after the interruption, not the sum of both segments.
func TestSeedingDuration_ResetsOnNonSeedingObservation(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	contiguous := []*model.Status{
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(60 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(120 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(180 * time.Second)},
	}
	for _, row := range contiguous {
		if err := r.Record(row); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if got, err := r.SeedingDuration("AAA", 0); err != nil || got != 180*time.Second {
		t.Fatalf("got %v, %v, want 180s for uninterrupted seeding", got, err)
	}

	interrupted := []*model.Status{
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start},
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(60 * time.Second)},
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: false, Timestamp: start.Add(90 * time.Second)},
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(120 * time.Second)},
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(180 * time.Second)},
	}
	for _, row := range interrupted {
		if err := r.Record(row); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := r.SeedingDuration("BBB", 0)
	if err != nil {
		t.Fatalf("SeedingDuration: %v", err)
	}
	if want := 60 * time.Second; got != want {
		t.Fatalf("got seeding duration %v, want %v (only the post-interruption segment)", got, want)
	}
}

func TestSeedingDuration_AccruesOnlyContiguousSeedingGapsUnderThreshold(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []*model.Status{
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(60 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: false, Timestamp: start.Add(120 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(180 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(240 * time.Second)},
		// a gap of 400s (>= 300s default max_gap) between seeding rows: not
		// accrued, but (unlike a non-seeding row) does not reset the
		// accumulator either — accrual resumes from where it left off.
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(640 * time.Second)},
		{TorrentHash: "AAA", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(700 * time.Second)},
	}
	for _, row := range rows {
		if err := r.Record(row); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := r.SeedingDuration("AAA", 0)
	if err != nil {
		t.Fatalf("SeedingDuration: %v", err)
	}
	// 60s (rows 0-1) reset to 0 at row 2 (not seeding) and again at row
	// 2->3 (prev not seeding), then 60s (rows 3-4), +0 (row4->row5 gap
	// is 400s >= 300s default, not accrued but no reset), +60s (rows 5-6).
	want := 120 * time.Second
	if got != want {
		t.Fatalf("got seeding duration %v, want %v", got, want)
	}
}

func TestSeedingDuration_CustomMaxGapAllowsLargerGaps(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []*model.Status{
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start},
		{TorrentHash: "BBB", BackendID: "b1", IsSeeding: true, Timestamp: start.Add(400 * time.Second)},
	}
	for _, row := range rows {
		if err := r.Record(row); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if got, _ := r.SeedingDuration("BBB", 300); got != 0 {
		t.Fatalf("got %v with default 300s max gap, want 0 (gap too large)", got)
	}
	if got, _ := r.SeedingDuration("BBB", 500); got != 400*time.Second {
		t.Fatalf("got %v with 500s max gap, want 400s accrued", got)
	}
}

func TestSeedingDuration_NoRowsOrSingleRowIsZero(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)

	if got, err := r.SeedingDuration("NOPE", 0); err != nil || got != 0 {
		t.Fatalf("got %v, %v, want 0, nil for an unknown hash", got, err)
	}

	if err := r.Record(&model.Status{TorrentHash: "CCC", BackendID: "b1", IsSeeding: true, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got, err := r.SeedingDuration("CCC", 0); err != nil || got != 0 {
		t.Fatalf("got %v, %v, want 0, nil for a single observation", got, err)
	}
}

func TestNeverSeeded(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)
	now := time.Now()

	mustRecord := func(hash string, seeding bool) {
		if err := r.Record(&model.Status{TorrentHash: hash, BackendID: "b1", IsSeeding: seeding, Timestamp: now}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	mustRecord("SEEDED", true)
	mustRecord("NEVER", false)
	mustRecord("NEVER", false)
	// "UNOBSERVED" has no rows at all and must not be reported.

	got, err := r.NeverSeeded([]string{"SEEDED", "NEVER", "UNOBSERVED"})
	if err != nil {
		t.Fatalf("NeverSeeded: %v", err)
	}
	if len(got) != 1 || got[0] != "NEVER" {
		t.Fatalf("got %v, want [NEVER]", got)
	}
}

func TestPrune_RemovesRowsOlderThanRetention(t *testing.T) {
	s := testutil.NewStore(t)
	r := New(s)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	old := &model.Status{TorrentHash: "DDD", BackendID: "b1", IsSeeding: true, Timestamp: now.Add(-31 * 24 * time.Hour)}
	recent := &model.Status{TorrentHash: "DDD", BackendID: "b1", IsSeeding: true, Timestamp: now.Add(-1 * time.Hour)}
	if err := r.Record(old); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(recent); err != nil {
		t.Fatalf("Record: %v", err)
	}

	n, err := r.Prune(now, 30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d pruned, want 1", n)
	}

	rows, err := s.ListStatuses("DDD", "")
	if err != nil {
		t.Fatalf("ListStatuses: %v", err)
	}
	if len(rows) != 1 || !rows[0].Timestamp.Equal(recent.Timestamp) {
		t.Fatalf("got %+v, want only the recent row to survive", rows)
	}
}
