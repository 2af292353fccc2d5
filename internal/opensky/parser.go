package opensky

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// statesEnvelope is the wire shape of both pull responses and push frames:
// an optional epoch timestamp plus an array of state records. Each record is
// either a positional 17-tuple or an object keyed by field name; parseRecord
// normalizes both into a Snapshot so nothing downstream branches on shape.
type statesEnvelope struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}

// ParseResult carries the usable snapshots from one response plus drop
// counters. Drops are never fatal to the batch.
type ParseResult struct {
	Snapshots  []Snapshot
	Malformed  int // records that could not be decoded
	NoPosition int // records with neither coordinate set
}

// ParseStates decodes a pull response or push frame body. It returns an error
// only when the envelope itself is unreadable; individual bad records are
// counted and skipped.
func ParseStates(data []byte, receivedAt time.Time) (*ParseResult, error) {
	var env statesEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	res := &ParseResult{}
	for _, raw := range env.States {
		snap, err := parseRecord(raw, receivedAt)
		if err != nil {
			res.Malformed++
			continue
		}
		if snap == nil {
			res.NoPosition++
			continue
		}
		res.Snapshots = append(res.Snapshots, *snap)
	}
	return res, nil
}

// parseRecord decodes one record of either shape. A nil snapshot with nil
// error means the record was valid but carried no position.
func parseRecord(raw json.RawMessage, receivedAt time.Time) (*Snapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ErrMalformed
	}

	var fields []any
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
	case '{':
		obj := struct {
			Icao24        *string  `json:"icao24"`
			Callsign      *string  `json:"callsign"`
			OriginCountry *string  `json:"origin_country"`
			TimePosition  *int64   `json:"time_position"`
			LastContact   *int64   `json:"last_contact"`
			Longitude     *float64 `json:"longitude"`
			Latitude      *float64 `json:"latitude"`
			BaroAltitude  *float64 `json:"baro_altitude"`
			OnGround      *bool    `json:"on_ground"`
			Velocity      *float64 `json:"velocity"`
			TrueTrack     *float64 `json:"true_track"`
			VerticalRate  *float64 `json:"vertical_rate"`
			Sensors       any      `json:"sensors"`
			GeoAltitude   *float64 `json:"geo_altitude"`
			Squawk        *string  `json:"squawk"`
			Spi           *bool    `json:"spi"`
			Source        *int64   `json:"position_source"`
		}{}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		fields = []any{
			deref(obj.Icao24), deref(obj.Callsign), deref(obj.OriginCountry),
			deref(obj.TimePosition), deref(obj.LastContact),
			deref(obj.Longitude), deref(obj.Latitude), deref(obj.BaroAltitude),
			deref(obj.OnGround), deref(obj.Velocity), deref(obj.TrueTrack),
			deref(obj.VerticalRate), obj.Sensors, deref(obj.GeoAltitude),
			deref(obj.Squawk), deref(obj.Spi), deref(obj.Source),
		}
	default:
		return nil, ErrMalformed
	}

	if len(fields) < 17 {
		return nil, ErrMalformed
	}

	id, ok := fields[0].(string)
	if !ok || !ValidIcao24(strings.ToLower(strings.TrimSpace(id))) {
		return nil, ErrMalformed
	}

	lon, lonOK := asFloat(fields[5])
	lat, latOK := asFloat(fields[6])
	if !lonOK && !latOK {
		return nil, nil
	}
	if !lonOK || !latOK {
		return nil, ErrMalformed
	}

	snap := &Snapshot{
		Icao24:        strings.ToLower(strings.TrimSpace(id)),
		Callsign:      strings.TrimSpace(asString(fields[1])),
		OriginCountry: asString(fields[2]),
		TimePosition:  asInt64(fields[3]),
		LastContact:   asInt64(fields[4]),
		Longitude:     lon,
		Latitude:      lat,
		BaroAltitude:  asFloat64(fields[7]),
		OnGround:      asBool(fields[8]),
		Velocity:      asFloat64(fields[9]),
		TrueTrack:     asFloat64(fields[10]),
		VerticalRate:  asFloat64(fields[11]),
		GeoAltitude:   asFloat64(fields[13]),
		Squawk:        asString(fields[14]),
		Spi:           asBool(fields[15]),
		Source:        PositionSource(asInt64(fields[16])),
		ReceivedAt:    receivedAt,
	}
	return snap, nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) float64 {
	f, _ := asFloat(v)
	return f
}

func asInt64(v any) int64 {
	f, ok := asFloat(v)
	if !ok {
		return 0
	}
	return int64(f)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
