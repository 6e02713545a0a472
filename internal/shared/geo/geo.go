package geo

import (
	"encoding/json"
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Point is a WGS84 position. It serializes as a GeoJSON point, coordinates in [lng, lat] order.
type Point struct {
	Lng float64
	Lat float64
}

func (p Point) Coordinates() [2]float64 { return [2]float64{p.Lng, p.Lat} }

// Valid reports whether the point lies inside WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceM returns the haversine distance to q in meters.
func (p Point) DistanceM(q Point) float64 {
	return HaversineKm(p.Lat, p.Lng, q.Lat, q.Lng) * 1000
}

type geoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: []float64{p.Lng, p.Lat}})
}

var errCoordinates = errors.New("point requires exactly two coordinates")

func (p *Point) UnmarshalJSON(data []byte) error {
	var raw geoJSONPoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Coordinates) != 2 {
		return errCoordinates
	}
	p.Lng, p.Lat = raw.Coordinates[0], raw.Coordinates[1]
	return nil
}
