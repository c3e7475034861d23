package race

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aaron-iles/ultra-tracker/internal/geo"
)

// gpsFixNames maps the inReach gpsFix code to a label.
// See https://developer.garmin.com/inReach/IPC_Outbound.pdf
var gpsFixNames = map[int]string{
	0: "No Fix",
	1: "2D Fix",
	2: "3D Fix",
	3: "3D Fix+",
}

// Ping is a single parsed tracker report. Immutable once parsed.
type Ping struct {
	IMEI           int64
	MessageCode    int
	Latitude       float64
	Longitude      float64
	Altitude       float64 // feet
	Heading        float64 // degrees
	Speed          float64 // km/h
	GPSFixCode     int
	GPSFix         string
	LowBattery     bool
	IntervalChange int
	Timestamp      time.Time
	TimestampRaw   int64
}

// LatLon returns the ping coordinates.
func (p Ping) LatLon() geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}

// HasFix reports whether the tracker had a GPS lock for this report.
func (p Ping) HasFix() bool {
	return p.GPSFixCode != 0 && !p.LatLon().IsZero()
}

func (p Ping) String() string {
	return fmt.Sprintf("PING %s | %v° | [%v, %v]", p.Timestamp, p.Heading, p.Latitude, p.Longitude)
}

type pingPayload struct {
	Version string      `json:"Version"`
	Events  []pingEvent `json:"Events"`
}

type pingEvent struct {
	IMEI        int64 `json:"imei"`
	MessageCode int   `json:"messageCode"`
	TimeStamp   int64 `json:"timeStamp"`
	Point       struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"` // meters
		GPSFix    int     `json:"gpsFix"`
		Course    float64 `json:"course"`
		Speed     float64 `json:"speed"`
	} `json:"point"`
	Status struct {
		LowBattery     int `json:"lowBattery"`
		IntervalChange int `json:"intervalChange"`
	} `json:"status"`
}

// ParsePing decodes an inReach outbound payload. Timestamps arrive in either
// seconds or milliseconds since epoch and are localized to the course
// timezone. A payload without events parses to a zero Ping, mirroring how a
// fresh (never-pinged) state is represented.
func ParsePing(raw []byte, tz *time.Location) (Ping, error) {
	var payload pingPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return Ping{}, fmt.Errorf("parse ping payload: %w", err)
		}
	}
	if len(payload.Events) == 0 {
		return Ping{}, nil
	}
	ev := payload.Events[0]
	if tz == nil {
		tz = time.UTC
	}
	return Ping{
		IMEI:           ev.IMEI,
		MessageCode:    ev.MessageCode,
		Latitude:       ev.Point.Latitude,
		Longitude:      ev.Point.Longitude,
		Altitude:       geo.MetersToFeet(ev.Point.Altitude),
		Heading:        ev.Point.Course,
		Speed:          ev.Point.Speed,
		GPSFixCode:     ev.Point.GPSFix,
		GPSFix:         gpsFixName(ev.Point.GPSFix),
		LowBattery:     ev.Status.LowBattery == 1,
		IntervalChange: ev.Status.IntervalChange,
		Timestamp:      extractTimestamp(ev.TimeStamp, tz),
		TimestampRaw:   ev.TimeStamp,
	}, nil
}

func gpsFixName(code int) string {
	if name, ok := gpsFixNames[code]; ok {
		return name
	}
	return "unknown"
}

// extractTimestamp interprets the raw value as epoch seconds unless it is
// too large to be one, in which case it is epoch milliseconds.
func extractTimestamp(raw int64, tz *time.Location) time.Time {
	const msThreshold = 1 << 40 // ~36,000 CE as seconds; clearly milliseconds
	if raw > msThreshold {
		return time.Unix(raw/1000, 0).In(tz)
	}
	return time.Unix(raw, 0).In(tz)
}
