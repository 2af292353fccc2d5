package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

const schema = `
PRAGMA foreign_keys = ON;
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA temp_store = MEMORY;

CREATE TABLE IF NOT EXISTS positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	icao24 TEXT UNIQUE NOT NULL,
	group_key TEXT NOT NULL,
	callsign TEXT,
	origin_country TEXT,
	time_position INTEGER,
	last_contact INTEGER,
	longitude REAL NOT NULL,
	latitude REAL NOT NULL,
	baro_altitude REAL,
	on_ground INTEGER NOT NULL,
	velocity REAL,
	true_track REAL,
	vertical_rate REAL,
	geo_altitude REAL,
	squawk TEXT,
	spi INTEGER NOT NULL,
	position_source INTEGER NOT NULL,
	received_at INTEGER NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_positions_icao24 ON positions(icao24);
CREATE INDEX IF NOT EXISTS idx_positions_group ON positions(group_key, received_at);
`

// SQLiteStore persists snapshots in a single consolidated positions table,
// one row per aircraft, newest snapshot wins.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) UpsertBatch(ctx context.Context, groupKey string, snaps []opensky.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (
			icao24, group_key, callsign, origin_country, time_position,
			last_contact, longitude, latitude, baro_altitude, on_ground,
			velocity, true_track, vertical_rate, geo_altitude, squawk, spi,
			position_source, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(icao24) DO UPDATE SET
			group_key = excluded.group_key,
			callsign = excluded.callsign,
			origin_country = excluded.origin_country,
			time_position = excluded.time_position,
			last_contact = excluded.last_contact,
			longitude = excluded.longitude,
			latitude = excluded.latitude,
			baro_altitude = excluded.baro_altitude,
			on_ground = excluded.on_ground,
			velocity = excluded.velocity,
			true_track = excluded.true_track,
			vertical_rate = excluded.vertical_rate,
			geo_altitude = excluded.geo_altitude,
			squawk = excluded.squawk,
			spi = excluded.spi,
			position_source = excluded.position_source,
			received_at = excluded.received_at,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snaps {
		_, err := stmt.ExecContext(ctx,
			snap.Icao24, groupKey, snap.Callsign, snap.OriginCountry,
			snap.TimePosition, snap.LastContact, snap.Longitude, snap.Latitude,
			snap.BaroAltitude, boolToInt(snap.OnGround), snap.Velocity,
			snap.TrueTrack, snap.VerticalRate, snap.GeoAltitude, snap.Squawk,
			boolToInt(snap.Spi), int(snap.Source), snap.ReceivedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upserting %s: %w", snap.Icao24, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) QueryByIds(ctx context.Context, ids []string) (map[string]opensky.Snapshot, error) {
	if len(ids) == 0 {
		return map[string]opensky.Snapshot{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM positions WHERE icao24 IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]opensky.Snapshot, len(ids))
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out[snap.Icao24] = snap
	}
	return out, rows.Err()
}

func (s *SQLiteStore) QueryByGroup(ctx context.Context, groupKey string, freshnessWindow time.Duration) ([]opensky.Snapshot, error) {
	cutoff := time.Now().Add(-freshnessWindow).UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM positions WHERE group_key = ? AND received_at >= ?`,
		groupKey, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying by group: %w", err)
	}
	defer rows.Close()

	var out []opensky.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT icao24, callsign, origin_country, time_position,
	last_contact, longitude, latitude, baro_altitude, on_ground, velocity,
	true_track, vertical_rate, geo_altitude, squawk, spi, position_source,
	received_at`

func scanSnapshot(rows *sql.Rows) (opensky.Snapshot, error) {
	var snap opensky.Snapshot
	var onGround, spi, source int
	var receivedAt int64

	err := rows.Scan(
		&snap.Icao24, &snap.Callsign, &snap.OriginCountry, &snap.TimePosition,
		&snap.LastContact, &snap.Longitude, &snap.Latitude, &snap.BaroAltitude,
		&onGround, &snap.Velocity, &snap.TrueTrack, &snap.VerticalRate,
		&snap.GeoAltitude, &snap.Squawk, &spi, &source, &receivedAt,
	)
	if err != nil {
		return snap, fmt.Errorf("scanning row: %w", err)
	}

	snap.OnGround = onGround != 0
	snap.Spi = spi != 0
	snap.Source = opensky.PositionSource(source)
	snap.ReceivedAt = time.UnixMilli(receivedAt)
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
