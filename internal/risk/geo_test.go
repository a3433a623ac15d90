package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"
)

func TestHaversineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     GeoPoint
		expected float64
		delta    float64
	}{
		{"same point", GeoPoint{39.9042, 116.4074}, GeoPoint{39.9042, 116.4074}, 0, 0.0001},
		{"one degree of longitude at the equator", GeoPoint{0, 0}, GeoPoint{0, 1}, 111.195, 0.01},
		{"New York to London", GeoPoint{40.7128, -74.0060}, GeoPoint{51.5074, -0.1278}, 5570, 10},
		{"Sao Paulo to Tokyo", GeoPoint{-23.5505, -46.6333}, GeoPoint{35.6762, 139.6503}, 18500, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, haversineDistance(tt.a, tt.b), tt.delta)
			assert.InDelta(t, haversineDistance(tt.a, tt.b), haversineDistance(tt.b, tt.a), 1e-9)
		})
	}
}

func TestGeofenceBoundaryIsInclusive(t *testing.T) {
	center := GeoPoint{Latitude: 0, Longitude: 0}
	point := GeoPoint{Latitude: 0, Longitude: 1}
	radius := DistanceKm(point, center)

	zoneAt := func(r float64) *ThreatIntel {
		intel, err := NewThreatIntel(ThreatIntelConfig{
			BlockedZones: []ZoneConfig{{City: "Edge", Country: "Testland", Latitude: 0, Longitude: 0, RadiusKm: r, Reason: "boundary"}},
		})
		require.NoError(t, err)
		return intel
	}

	req := cleanRequest()
	req.Latitude, req.Longitude = pointy.Float64(point.Latitude), pointy.Float64(point.Longitude)
	e := newTestEvaluator(t, Options{})

	t.Run("exactly on the radius", func(t *testing.T) {
		checks := e.Evaluate(req, zoneAt(radius))
		assert.Equal(t, []CheckName{CheckBlockedLocation}, checkNames(checks))
	})

	t.Run("just outside the radius", func(t *testing.T) {
		checks := e.Evaluate(req, zoneAt(math.Nextafter(radius, 0)))
		assert.Empty(t, checks)
	})
}

func TestNearestZone_TieKeepsFirst(t *testing.T) {
	zones := []GeoZone{
		{Center: GeoPoint{0, 1}, RadiusKm: 500, City: "A", Country: "X"},
		{Center: GeoPoint{0, -1}, RadiusKm: 500, City: "B", Country: "X"},
	}

	zone, _, ok := nearestZone(zones, GeoPoint{0, 0}, nil)
	require.True(t, ok)
	assert.Equal(t, "A", zone.City)

	zone, _, ok = nearestZone(zones, GeoPoint{0, 0}, func(z GeoZone) bool { return z.City == "A" })
	require.True(t, ok)
	assert.Equal(t, "B", zone.City)
}
