// Package activity records per-torrent Status observations and
// computes seeding duration from them. Every computation is pure over
// the Status rows already in the store: same rows in, same number
// out.
package activity

import (
	"fmt"
	"time"

	"torrent-gateway/internal/model"
	"torrent-gateway/internal/store"
)

const defaultMaxGapSeconds = 300

const defaultRetentionDays = 30

// Recorder records Status history and derives seeding duration and
// never-seeded sets from it.
type Recorder struct {
	store store.Store
}

// New builds a Recorder backed by s.
func New(s store.Store) *Recorder {
	return &Recorder{store: s}
}

// Record appends one Status observation.
func (r *Recorder) Record(st *model.Status) error {
	if err := r.store.InsertStatus(st); err != nil {
		return fmt.Errorf("recording status: %w", err)
	}
	return nil
}

// SeedingDuration sums the gaps between consecutive seeding
// observations for torrentHash, resetting on any non-seeding row and
// discarding gaps of maxGapSeconds or more as "offline". A
// maxGapSeconds of 0 uses the 300s default.
func (r *Recorder) SeedingDuration(torrentHash string, maxGapSeconds int) (time.Duration, error) {
	if maxGapSeconds <= 0 {
		maxGapSeconds = defaultMaxGapSeconds
	}
	maxGap := time.Duration(maxGapSeconds) * time.Second

	rows, err := r.store.ListStatuses(torrentHash, "")
	if err != nil {
		return 0, fmt.Errorf("listing statuses: %w", err)
	}

	var total time.Duration
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if !prev.IsSeeding || !cur.IsSeeding {
			total = 0
			continue
		}
		gap := cur.Timestamp.Sub(prev.Timestamp)
		if gap < maxGap {
			total += gap
		}
	}
	return total, nil
}

// NeverSeeded returns the torrent hashes, among those passed in, that
// have at least one Status row but none with IsSeeding true.
func (r *Recorder) NeverSeeded(torrentHashes []string) ([]string, error) {
	var out []string
	for _, hash := range torrentHashes {
		rows, err := r.store.ListStatuses(hash, "")
		if err != nil {
			return nil, fmt.Errorf("listing statuses for %s: %w", hash, err)
		}
		if len(rows) == 0 {
			continue
		}
		seeded := false
		for _, row := range rows {
			if row.IsSeeding {
				seeded = true
				break
			}
		}
		if !seeded {
			out = append(out, hash)
		}
	}
	return out, nil
}

// Prune deletes Status rows older than retentionDays (default 30)
// relative to now.
func (r *Recorder) Prune(now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := r.store.PruneStatusesBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning statuses: %w", err)
	}
	return n, nil
}
