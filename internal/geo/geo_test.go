package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	jhb := Point{Lat: -26.2041, Lng: 28.0473}
	pta := Point{Lat: -25.7479, Lng: 28.2293}

	d := DistanceKm(jhb, pta)
	assert.InDelta(t, 53.9, d, 0.5)
	assert.InDelta(t, d, DistanceKm(pta, jhb), 1e-9)
	assert.Zero(t, DistanceKm(jhb, jhb))
}

func TestDistanceKmOneDegreeLatitude(t *testing.T) {
	d := DistanceKm(Point{Lat: 10, Lng: 20}, Point{Lat: 11, Lng: 20})
	assert.InDelta(t, 111.19, d, 0.01)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: -26.2, Lng: 28.0}.Valid())
	assert.False(t, Point{}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 10, Lng: -181}.Valid())
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := Point{Lat: -26.2, Lng: 28.0}
	box := BoundingBox(center, 20)

	assert.True(t, box.Contains(center))
	// 19 km due east and due north stay inside.
	assert.True(t, box.Contains(Point{Lat: -26.2, Lng: 28.0 + 19/(111.195*0.8973)}))
	assert.True(t, box.Contains(Point{Lat: -26.2 + 19/111.195, Lng: 28.0}))
	assert.False(t, box.Contains(Point{Lat: -26.2 + 0.5, Lng: 28.0}))
}

func TestBoundingBoxAntimeridian(t *testing.T) {
	box := BoundingBox(Point{Lat: 0, Lng: 179.95}, 20)

	assert.True(t, box.Contains(Point{Lat: 0, Lng: -179.95}))
	assert.False(t, box.Contains(Point{Lat: 0, Lng: 0}))
}
