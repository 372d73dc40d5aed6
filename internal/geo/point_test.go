package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoint3DValid(t *testing.T) {
	cases := []struct {
		name string
		p    Point3D
		want bool
	}{
		{"valid equator", Point3D{X: 0, Y: 0, Z: 0}, true},
		{"valid with negative altitude", Point3D{X: -179.9, Y: 89.9, Z: -50}, true},
		{"longitude out of range", Point3D{X: 200, Y: 0, Z: 0}, false},
		{"latitude out of range", Point3D{X: 0, Y: -95, Z: 0}, false},
		{"NaN longitude", Point3D{X: math.NaN(), Y: 0, Z: 0}, false},
		{"infinite altitude", Point3D{X: 0, Y: 0, Z: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.Valid())
		})
	}
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	d := Haversine(40.7, -74.0, 40.7, -74.0)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Equator, 1 degree of longitude apart is roughly 111.19 km.
	d := Haversine(0, 0, 0, 1)
	assert.InDelta(t, 111_195, d, 500)
}

func TestDistance3DCombinesHorizontalAndVertical(t *testing.T) {
	a := Point3D{X: 0, Y: 0, Z: 0}
	b := Point3D{X: 0, Y: 0, Z: 100}
	d := Distance3D(a, b)
	assert.InDelta(t, 100, d, 1e-6)
}

func TestLatLonDegreesForRadiusClampsNearPole(t *testing.T) {
	latDeg, lonDeg := LatLonDegreesForRadius(5000, 89.999)
	require.False(t, math.IsNaN(lonDeg))
	require.False(t, math.IsInf(lonDeg, 0))
	assert.Greater(t, latDeg, 0.0)
	assert.Greater(t, lonDeg, 0.0)
}

func TestLatLonDegreesForRadiusAtExactPole(t *testing.T) {
	_, lonDeg := LatLonDegreesForRadius(1000, 90.0)
	assert.False(t, math.IsInf(lonDeg, 0))
	assert.False(t, math.IsNaN(lonDeg))
}

func TestSphereEnvelopeIsCenteredAndFinite(t *testing.T) {
	center := Point3D{X: 10, Y: 45, Z: 200}
	env := SphereEnvelope(center, 1000)
	assert.Less(t, env.Min.X, center.X)
	assert.Greater(t, env.Max.X, center.X)
	assert.Less(t, env.Min.Z, center.Z)
	assert.Greater(t, env.Max.Z, center.Z)
}
