package risk

import "math"

const earthRadiusKm = 6371.0

// haversineDistance calculates the great-circle distance between two points in km
func haversineDistance(a, b GeoPoint) float64 {
	lat1Rad := a.Latitude * math.Pi / 180
	lat2Rad := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceKm returns the haversine distance between two points
func DistanceKm(a, b GeoPoint) float64 {
	return haversineDistance(a, b)
}

// nearestZone returns the closest zone whose radius contains p.
// The boundary is inclusive. Ties keep the earlier zone.
func nearestZone(zones []GeoZone, p GeoPoint, skip func(GeoZone) bool) (GeoZone, float64, bool) {
	var (
		best     GeoZone
		bestDist float64
		found    bool
	)
	for _, z := range zones {
		if skip != nil && skip(z) {
			continue
		}
		d := haversineDistance(p, z.Center)
		if d > z.RadiusKm {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = z, d, true
		}
	}
	return best, bestDist, found
}
