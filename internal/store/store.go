// Package store persists acquired snapshots. The acquisition engine only
// depends on this narrow contract; the schema behind it is not part of the
// engine's surface.
package store

import (
	"context"
	"time"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

// Store is the tracking-store collaborator contract. Implementations must be
// safe for concurrent use.
type Store interface {
	// UpsertBatch writes snapshots under a group key, replacing any prior
	// row per icao24.
	UpsertBatch(ctx context.Context, groupKey string, snaps []opensky.Snapshot) error

	// QueryByIds returns the stored snapshot per id; missing ids are absent.
	QueryByIds(ctx context.Context, ids []string) (map[string]opensky.Snapshot, error)

	// QueryByGroup returns the group's snapshots received within the
	// freshness window.
	QueryByGroup(ctx context.Context, groupKey string, freshnessWindow time.Duration) ([]opensky.Snapshot, error)

	Close() error
}
