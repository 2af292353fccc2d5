package opensky

import "time"

// PositionSource identifies how the provider derived a position.
type PositionSource int

const (
	SourceADSB PositionSource = iota
	SourceASTERIX
	SourceMLAT
	SourceFLARM
)

// Snapshot is one parsed position report for a single aircraft.
// Immutable once constructed; Stale is set only by cache reads that
// serve an expired entry during upstream outages.
type Snapshot struct {
	Icao24        string         `json:"icao24"`
	Callsign      string         `json:"callsign"`
	OriginCountry string         `json:"origin_country"`
	TimePosition  int64          `json:"time_position"`
	LastContact   int64          `json:"last_contact"`
	Longitude     float64        `json:"longitude"`
	Latitude      float64        `json:"latitude"`
	BaroAltitude  float64        `json:"baro_altitude"`
	OnGround      bool           `json:"on_ground"`
	Velocity      float64        `json:"velocity"`
	TrueTrack     float64        `json:"true_track"`
	VerticalRate  float64        `json:"vertical_rate"`
	GeoAltitude   float64        `json:"geo_altitude"`
	Squawk        string         `json:"squawk"`
	Spi           bool           `json:"spi"`
	Source        PositionSource `json:"position_source"`
	ReceivedAt    time.Time      `json:"received_at"`
	Stale         bool           `json:"stale,omitempty"`
}

// ValidIcao24 reports whether id is a well-formed transponder address:
// exactly six lowercase hexadecimal characters.
func ValidIcao24(id string) bool {
	if len(id) != 6 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
