// Package geo provides small geographic helpers shared by the aggregation,
// station matching and exposure code.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinates is returned for out-of-range latitude/longitude.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate checks that the point lies within valid coordinate ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: %.6f,%.6f", ErrInvalidCoordinates, p.Lat, p.Lon)
	}
	return nil
}

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// BoundingBox is a south/west/north/east rectangle.
type BoundingBox struct {
	South float64 `json:"south" yaml:"south"`
	West  float64 `json:"west" yaml:"west"`
	North float64 `json:"north" yaml:"north"`
	East  float64 `json:"east" yaml:"east"`
}

// Validate checks ordering and coordinate ranges.
func (b BoundingBox) Validate() error {
	if err := (Point{Lat: b.South, Lon: b.West}).Validate(); err != nil {
		return err
	}
	if err := (Point{Lat: b.North, Lon: b.East}).Validate(); err != nil {
		return err
	}
	if b.South > b.North || b.West > b.East {
		return fmt.Errorf("%w: bounding box corners out of order", ErrInvalidCoordinates)
	}
	return nil
}

// Contains reports whether p lies inside the box (edges inclusive).
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.South && p.Lat <= b.North &&
		p.Lon >= b.West && p.Lon <= b.East
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Point {
	return Point{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// Pad grows the box by deg degrees on every side.
func (b BoundingBox) Pad(deg float64) BoundingBox {
	return BoundingBox{
		South: b.South - deg,
		West:  b.West - deg,
		North: b.North + deg,
		East:  b.East + deg,
	}
}

// String renders the box in the provider's "south,west,north,east" order.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.South, b.West, b.North, b.East)
}

// Enclose returns the smallest box containing all points. ok is false when
// points is empty.
func Enclose(points []Point) (box BoundingBox, ok bool) {
	if len(points) == 0 {
		return BoundingBox{}, false
	}
	box = BoundingBox{South: points[0].Lat, North: points[0].Lat, West: points[0].Lon, East: points[0].Lon}
	for _, p := range points[1:] {
		box.South = math.Min(box.South, p.Lat)
		box.North = math.Max(box.North, p.Lat)
		box.West = math.Min(box.West, p.Lon)
		box.East = math.Max(box.East, p.Lon)
	}
	return box, true
}
