package geo

import "math"

const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return false
	}
	// (0,0) is what an unset client location looks like.
	return p.Lat != 0 || p.Lng != 0
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box is a lat/lng rectangle.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns a rectangle that contains every point within radiusKm
// of center. It is a coarse pre-filter; callers still check DistanceKm.
func BoundingBox(center Point, radiusKm float64) Box {
	dLat := degrees(radiusKm / earthRadiusKm)
	b := Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}
	cos := math.Cos(radians(center.Lat))
	if cos > 1e-9 && b.MinLat > -90 && b.MaxLat < 90 {
		dLng := degrees(radiusKm / (earthRadiusKm * cos))
		if dLng < 180 {
			b.MinLng = center.Lng - dLng
			b.MaxLng = center.Lng + dLng
		}
	}
	return b
}

// Contains reports whether p falls inside the box. Boxes crossing the
// antimeridian wrap.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	lng := p.Lng
	switch {
	case b.MinLng < -180:
		return lng >= b.MinLng+360 || lng <= b.MaxLng
	case b.MaxLng > 180:
		return lng >= b.MinLng || lng <= b.MaxLng-360
	default:
		return lng >= b.MinLng && lng <= b.MaxLng
	}
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
