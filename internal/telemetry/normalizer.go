// Package telemetry validates and canonicalizes participant location and
// stats payloads before they reach the session store.
package telemetry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"backend-trailmates/internal/apperr"
	"backend-trailmates/internal/session"
	"backend-trailmates/internal/shared/geo"

	"github.com/kaptinlin/jsonschema"
)

//go:embed location.schema.json
var locationSchema []byte

// Stats is the client stats bundle. Every field is optional.
type Stats struct {
	Distance      *float64 `json:"distance"`
	Duration      *float64 `json:"duration"`
	Pace          *float64 `json:"pace"`
	Speed         *float64 `json:"speed"`
	ElevationGain *float64 `json:"elevationGain"`
	HeartRate     *int     `json:"heartRate"`
	Calories      *float64 `json:"calories"`
	Steps         *int64   `json:"steps"`
	BatteryLevel  *int     `json:"batteryLevel"`
}

// Health carries device readings; they take precedence over the stats bundle.
type Health struct {
	HeartRate    *int `json:"heartRate"`
	BatteryLevel *int `json:"batteryLevel"`
}

type Update struct {
	UserID string
	Point  geo.Point
	Patch  session.StatsPatch
}

type Normalizer struct {
	schema *jsonschema.Schema
}

func NewNormalizer() (*Normalizer, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(locationSchema)
	if err != nil {
		return nil, fmt.Errorf("compile location schema: %w", err)
	}
	return &Normalizer{schema: schema}, nil
}

// Location accepts a raw [lng, lat] pair or a point object with a
// coordinates pair and returns the canonical point.
func (n *Normalizer) Location(raw json.RawMessage) (geo.Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return geo.Point{}, invalidLocation("location is required")
	}
	if result := n.schema.ValidateJSON(raw); !result.IsValid() {
		return geo.Point{}, invalidLocation("location must be a [lng, lat] pair or a point with coordinates")
	}

	var pair []float64
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &pair); err != nil {
			return geo.Point{}, invalidLocation(err.Error())
		}
	} else {
		var obj struct {
			Coordinates []float64 `json:"coordinates"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return geo.Point{}, invalidLocation(err.Error())
		}
		pair = obj.Coordinates
	}
	if len(pair) != 2 {
		return geo.Point{}, invalidLocation("location must have exactly two coordinates")
	}

	p := geo.Point{Lng: pair[0], Lat: pair[1]}
	if !p.Valid() {
		return geo.Point{}, invalidLocation("coordinates out of range")
	}
	return p, nil
}

// Normalize turns one location-update payload into a session update.
// stats and health may be empty.
func (n *Normalizer) Normalize(userID string, location, stats, health json.RawMessage) (Update, error) {
	point, err := n.Location(location)
	if err != nil {
		return Update{}, err
	}

	var s Stats
	if err := decodeOptional(stats, &s); err != nil {
		return Update{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "invalid stats: "+err.Error())
	}
	var h Health
	if err := decodeOptional(health, &h); err != nil {
		return Update{}, apperr.New(apperr.KindValidation, apperr.CodeInvalidPayload, "invalid health: "+err.Error())
	}

	return Update{UserID: userID, Point: point, Patch: patchFrom(s, h)}, nil
}

func patchFrom(s Stats, h Health) session.StatsPatch {
	p := session.StatsPatch{
		DistanceM:      s.Distance,
		DurationSec:    s.Duration,
		Pace:           s.Pace,
		Speed:          s.Speed,
		ElevationGainM: s.ElevationGain,
		HeartRate:      s.HeartRate,
		Calories:       s.Calories,
		Steps:          s.Steps,
		BatteryLevel:   s.BatteryLevel,
	}
	if h.HeartRate != nil {
		p.HeartRate = h.HeartRate
	}
	if h.BatteryLevel != nil {
		p.BatteryLevel = h.BatteryLevel
	}
	return p
}

func decodeOptional(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func invalidLocation(msg string) error {
	return apperr.New(apperr.KindValidation, apperr.CodeInvalidLocation, msg)
}
