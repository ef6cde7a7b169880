// Package polyline decodes and encodes route geometries in Google's polyline
// format (precision 5) and resamples them for per-point exposure scoring.
package polyline

import (
	"errors"
	"math"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// ErrMalformed is returned when an encoded polyline ends mid-value.
var ErrMalformed = errors.New("malformed polyline")

const precision = 1e5

// Decode decodes an encoded polyline into points.
func Decode(encoded string) ([]geo.Point, error) {
	if encoded == "" {
		return nil, nil
	}

	var (
		points   []geo.Point
		lat, lon int
		index    int
	)
	for index < len(encoded) {
		dLat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		dLon, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next
		lat += dLat
		lon += dLon
		points = append(points, geo.Point{Lat: float64(lat) / precision, Lon: float64(lon) / precision})
	}

	return points, nil
}

func decodeValue(encoded string, index int) (value, next int, err error) {
	shift, result := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, ErrMalformed
		}
		b := int(encoded[index]) - 63
		index++
		if b < 0 || b > 63 {
			return 0, index, ErrMalformed
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Encode encodes points into a polyline string.
func Encode(points []geo.Point) string {
	if len(points) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(points)*6)
	prevLat, prevLon := 0, 0
	for _, p := range points {
		lat := int(math.Round(p.Lat * precision))
		lon := int(math.Round(p.Lon * precision))
		buf = encodeValue(buf, lat-prevLat)
		buf = encodeValue(buf, lon-prevLon)
		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

func encodeValue(buf []byte, value int) []byte {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}
	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}

// LengthKm returns the length of the path in kilometres.
func LengthKm(points []geo.Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += geo.HaversineKm(points[i-1], points[i])
	}
	return total
}

// Sample returns points spaced roughly intervalKm apart along the path. The
// first and last points are always included.
func Sample(points []geo.Point, intervalKm float64) []geo.Point {
	if len(points) == 0 {
		return nil
	}
	if intervalKm <= 0 || len(points) == 1 {
		return append([]geo.Point(nil), points...)
	}

	sampled := []geo.Point{points[0]}
	carried := 0.0
	for i := 1; i < len(points); i++ {
		from, to := points[i-1], points[i]
		segment := geo.HaversineKm(from, to)
		offset := intervalKm - carried
		for segment > 0 && offset <= segment {
			f := offset / segment
			sampled = append(sampled, geo.Point{
				Lat: from.Lat + f*(to.Lat-from.Lat),
				Lon: from.Lon + f*(to.Lon-from.Lon),
			})
			offset += intervalKm
		}
		carried = segment - (offset - intervalKm)
	}

	if last := points[len(points)-1]; sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	return sampled
}
