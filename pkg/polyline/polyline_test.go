package polyline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/polyline"
)

// Reference example from the polyline algorithm documentation.
const googleExample = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

var googlePoints = []geo.Point{
	{Lat: 38.5, Lon: -120.2},
	{Lat: 40.7, Lon: -120.95},
	{Lat: 43.252, Lon: -126.453},
}

func TestDecode(t *testing.T) {
	points, err := polyline.Decode(googleExample)
	require.NoError(t, err)
	require.Len(t, points, len(googlePoints))
	for i, p := range points {
		assert.InDelta(t, googlePoints[i].Lat, p.Lat, 1e-5)
		assert.InDelta(t, googlePoints[i].Lon, p.Lon, 1e-5)
	}
}

func TestDecode_Empty(t *testing.T) {
	points, err := polyline.Decode("")
	require.NoError(t, err)
	assert.Nil(t, points)
}

func TestDecode_Truncated(t *testing.T) {
	_, err := polyline.Decode("_p~iF~ps|U_")
	assert.ErrorIs(t, err, polyline.ErrMalformed)
}

func TestEncode(t *testing.T) {
	assert.Equal(t, googleExample, polyline.Encode(googlePoints))
	assert.Empty(t, polyline.Encode(nil))
}

func TestRoundTrip_Delhi(t *testing.T) {
	path := []geo.Point{{Lat: 28.56321, Lon: 77.18694}, {Lat: 28.61394, Lon: 77.20902}}
	points, err := polyline.Decode(polyline.Encode(path))
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, path[1].Lat, points[1].Lat, 1e-5)
	assert.InDelta(t, path[1].Lon, points[1].Lon, 1e-5)
}

func TestSample(t *testing.T) {
	// Roughly 11.1 km due north.
	path := []geo.Point{{Lat: 28.5, Lon: 77.2}, {Lat: 28.6, Lon: 77.2}}
	total := polyline.LengthKm(path)
	assert.InDelta(t, 11.12, total, 0.05)

	sampled := polyline.Sample(path, 2)
	// Start, samples at 2/4/6/8/10 km, end.
	require.Len(t, sampled, 7)
	assert.Equal(t, path[0], sampled[0])
	assert.Equal(t, path[1], sampled[len(sampled)-1])
	for i := 1; i < len(sampled)-1; i++ {
		assert.InDelta(t, 2*float64(i), geo.HaversineKm(path[0], sampled[i]), 0.01)
	}
}

func TestSample_Degenerate(t *testing.T) {
	assert.Nil(t, polyline.Sample(nil, 1))

	single := []geo.Point{{Lat: 1, Lon: 1}}
	assert.Equal(t, single, polyline.Sample(single, 1))

	path := []geo.Point{{Lat: 1, Lon: 1}, {Lat: 1.001, Lon: 1}}
	assert.Equal(t, path, polyline.Sample(path, 0))
}
