package stream

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"backend-pawwalk/internal/tracking"
)

const (
	TypePosition     = "position"
	TypeOrigin       = "origin"
	TypeHistory      = "history"
	TypeEvent        = "event"
	TypeError        = "error"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
)

// Compact is the positional form of a sample on the wire:
// [lat, lng, precision, speed, altitude, battery]. Missing metadata is null.
type Compact [6]*float64

type positionMessage struct {
	Type   string  `json:"type"`
	WalkID string  `json:"walk_id"`
	TS     int64   `json:"ts"`
	C      Compact `json:"c"`
}

type historyPoint struct {
	ID int64   `json:"id"`
	TS int64   `json:"ts"`
	C  Compact `json:"c"`
}

type historyMessage struct {
	Type    string         `json:"type"`
	WalkID  string         `json:"walk_id"`
	Samples []historyPoint `json:"samples"`
}

type originMessage struct {
	Type   string     `json:"type"`
	WalkID string     `json:"walk_id"`
	C      [2]float64 `json:"c"`
}

type eventMessage struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	TS    int64  `json:"ts"`
	Data  any    `json:"data,omitempty"`
}

type errorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
	WalkID string `json:"walk_id,omitempty"`
}

type ackMessage struct {
	Type   string `json:"type"`
	WalkID string `json:"walk_id,omitempty"`
}

// clientMessage is what a connection may send to the server.
type clientMessage struct {
	Action string `json:"action"`
	WalkID string `json:"walk_id"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, places)
	return &r
}

// CompactSample reduces a sample to the wire tuple. Coordinates keep six
// decimals (about 11 cm), speed one, the rest are whole numbers.
func CompactSample(s tracking.Sample) Compact {
	lat := round(s.Lat, 6)
	lng := round(s.Lng, 6)
	return Compact{
		&lat,
		&lng,
		roundPtr(s.Accuracy, 0),
		roundPtr(s.Speed, 1),
		roundPtr(s.Altitude, 0),
		roundPtr(s.BatteryLevel, 0),
	}
}

func serverTime(s tracking.Sample) int64 {
	if !s.CreatedAt.IsZero() {
		return s.CreatedAt.UnixMilli()
	}
	return time.Now().UnixMilli()
}

func encodePosition(walkID string, s tracking.Sample) ([]byte, error) {
	return json.Marshal(positionMessage{
		Type:   TypePosition,
		WalkID: walkID,
		TS:     serverTime(s),
		C:      CompactSample(s),
	})
}

func encodeHistory(walkID string, samples []tracking.Sample) ([]byte, error) {
	points := make([]historyPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, historyPoint{ID: s.ID, TS: s.CapturedAt.UnixMilli(), C: CompactSample(s)})
	}
	return json.Marshal(historyMessage{Type: TypeHistory, WalkID: walkID, Samples: points})
}

func encodeOrigin(walkID string, lat, lng float64) ([]byte, error) {
	return json.Marshal(originMessage{Type: TypeOrigin, WalkID: walkID, C: [2]float64{round(lat, 6), round(lng, 6)}})
}

func encodeEvent(eventType string, data any) ([]byte, error) {
	return json.Marshal(eventMessage{Type: TypeEvent, Event: eventType, TS: time.Now().UnixMilli(), Data: data})
}

func encodeError(walkID string, reason tracking.Reason, msg string) []byte {
	b, err := json.Marshal(errorMessage{Type: TypeError, Reason: string(reason), Error: msg, WalkID: walkID})
	if err != nil {
		return []byte(`{"type":"error","reason":"internal","error":"encode failed"}`)
	}
	return b
}

func encodeAck(kind, walkID string) []byte {
	b, _ := json.Marshal(ackMessage{Type: kind, WalkID: walkID})
	return b
}
