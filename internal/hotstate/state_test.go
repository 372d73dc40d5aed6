package hotstate

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatiodb/spatio/internal/geo"
	"github.com/spatiodb/spatio/internal/spatialindex"
)

func newTestState() *State {
	return New(spatialindex.New(nil, nil), nil)
}

// S1 — single-object replace.
func TestUpdateLocationReplace(t *testing.T) {
	s := newTestState()

	old, applied := s.UpdateLocation("veh", "c1", geo.Point3D{X: -74.00, Y: 40.70, Z: 0}, []byte(`"A"`), 1000)
	assert.True(t, applied)
	assert.Nil(t, old)

	results := s.QueryWithinSphere("veh", geo.Point3D{X: -74, Y: 40.7, Z: 0}, 1.0, 1)
	require.Len(t, results, 1)

	old, applied = s.UpdateLocation("veh", "c1", geo.Point3D{X: -74.10, Y: 40.80, Z: 0}, []byte(`"B"`), 2000)
	assert.True(t, applied)
	require.NotNil(t, old)
	assert.Equal(t, []byte(`"A"`), old.Metadata)

	empty := s.QueryWithinSphere("veh", geo.Point3D{X: -74, Y: 40.7, Z: 0}, 1.0, 1)
	assert.Empty(t, empty)

	moved := s.QueryWithinSphere("veh", geo.Point3D{X: -74.10, Y: 40.80, Z: 0}, 1.0, 1)
	require.Len(t, moved, 1)

	loc, ok := s.GetCurrent("veh", "c1")
	require.True(t, ok)
	assert.Equal(t, []byte(`"B"`), loc.Metadata)
}

// S4 — stale write is ignored in Hot.
func TestUpdateLocationStaleWriteIgnored(t *testing.T) {
	s := newTestState()

	_, applied := s.UpdateLocation("veh", "c1", geo.Point3D{X: 1, Y: 1, Z: 0}, []byte(`"m1"`), 2000)
	assert.True(t, applied)

	_, applied = s.UpdateLocation("veh", "c1", geo.Point3D{X: 2, Y: 2, Z: 0}, []byte(`"m2"`), 1000)
	assert.False(t, applied)

	loc, ok := s.GetCurrent("veh", "c1")
	require.True(t, ok)
	assert.Equal(t, int64(2000), loc.TimestampMicros)
	assert.Equal(t, []byte(`"m1"`), loc.Metadata)
}

func TestUpdateLocationEqualTimestampReplaces(t *testing.T) {
	s := newTestState()
	s.UpdateLocation("veh", "c1", geo.Point3D{X: 1, Y: 1, Z: 0}, nil, 1000)
	_, applied := s.UpdateLocation("veh", "c1", geo.Point3D{X: 2, Y: 2, Z: 0}, nil, 1000)
	assert.True(t, applied)
	loc, _ := s.GetCurrent("veh", "c1")
	assert.Equal(t, 2.0, loc.Position.X)
}

func TestRemoveObjectClearsIndex(t *testing.T) {
	s := newTestState()
	s.UpdateLocation("veh", "c1", geo.Point3D{X: 1, Y: 1, Z: 0}, nil, 1000)

	removed, ok := s.RemoveObject("veh", "c1")
	require.True(t, ok)
	assert.Equal(t, "c1", removed.ObjectID)

	_, ok = s.GetCurrent("veh", "c1")
	assert.False(t, ok)
	assert.Empty(t, s.QueryWithinSphere("veh", geo.Point3D{X: 1, Y: 1, Z: 0}, 1000, 10))
}

// Invariant 2: under concurrent updates to the same object, the surviving
// timestamp is the maximum among all writers.
func TestConcurrentUpdatesSameObjectLastWriterWinsByTimestamp(t *testing.T) {
	s := newTestState()
	const writers = 20

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 1; i <= writers; i++ {
		ts := int64(i * 1000)
		go func(ts int64) {
			defer wg.Done()
			s.UpdateLocation("veh", "c1", geo.Point3D{X: float64(ts), Y: 0, Z: 0}, nil, ts)
		}(ts)
	}
	wg.Wait()

	loc, ok := s.GetCurrent("veh", "c1")
	require.True(t, ok)
	assert.Equal(t, int64(writers*1000), loc.TimestampMicros)
}

// Different objects under concurrent update never block each other's
// correctness: each settles at its own max timestamp.
func TestConcurrentUpdatesDifferentObjects(t *testing.T) {
	s := newTestState()
	const objects = 10
	const writesPerObject = 50

	var wg sync.WaitGroup
	for o := 0; o < objects; o++ {
		wg.Add(1)
		go func(o int) {
			defer wg.Done()
			id := string(rune('a' + o))
			for w := 1; w <= writesPerObject; w++ {
				s.UpdateLocation("veh", id, geo.Point3D{X: float64(w), Y: 0, Z: 0}, nil, int64(w*1000))
			}
		}(o)
	}
	wg.Wait()

	for o := 0; o < objects; o++ {
		id := string(rune('a' + o))
		loc, ok := s.GetCurrent("veh", id)
		require.True(t, ok)
		assert.Equal(t, int64(writesPerObject*1000), loc.TimestampMicros)
	}
	assert.Equal(t, objects, s.ObjectCount())
}

func TestConvexHullRequiresThreeDistinctLivePoints(t *testing.T) {
	s := newTestState()
	s.UpdateLocation("veh", "c1", geo.Point3D{X: 0, Y: 0, Z: 0}, nil, 1)
	s.UpdateLocation("veh", "c2", geo.Point3D{X: 1, Y: 0, Z: 0}, nil, 1)

	_, ok := s.ConvexHull("veh")
	assert.False(t, ok)

	s.UpdateLocation("veh", "c3", geo.Point3D{X: 0, Y: 1, Z: 0}, nil, 1)
	_, ok = s.ConvexHull("veh")
	assert.True(t, ok)
}

func TestQueryWithinPolygonFiltersExactly(t *testing.T) {
	s := newTestState()
	s.UpdateLocation("veh", "inside", geo.Point3D{X: 5, Y: 5, Z: 0}, nil, 1)
	s.UpdateLocation("veh", "outside", geo.Point3D{X: 50, Y: 50, Z: 0}, nil, 1)

	poly := geo.Polygon{Vertices: []geo.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}}
	keys := s.QueryWithinPolygon("veh", poly, 10)
	assert.Contains(t, keys, "veh::inside")
	assert.NotContains(t, keys, "veh::outside")
}
