// Package hotstate implements the concurrent current-location table plus
// its owning 3D spatial index, and the derived spatial analytics over a
// namespace's live points.
package hotstate

import (
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spatiodb/spatio/internal/geo"
	"github.com/spatiodb/spatio/internal/objectkey"
	"github.com/spatiodb/spatio/internal/spatialindex"
)

// unboundedLimit is used internally for the polygon query's bbox prefilter,
// where the caller's own limit is applied only after an exact
// secondary filter, so truncating at the index layer would be incorrect.
const unboundedLimit = 1 << 30

// entry is one composite key's slot in the location map. It carries its own
// mutex so unrelated keys never block each other.
type entry struct {
	mu      sync.Mutex
	current CurrentLocation
	live    bool
}

// State is Hot State: the concurrent current-location map plus the spatial
// index it exclusively owns.
type State struct {
	locations sync.Map // composite key (string) -> *entry
	index     *spatialindex.Manager
	logger    *zap.Logger
}

// New constructs an empty Hot State backed by index, which State owns
// exclusively from this point on.
func New(index *spatialindex.Manager, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{index: index, logger: logger}
}

func (s *State) entryFor(key string) *entry {
	actual, _ := s.locations.LoadOrStore(key, &entry{})
	return actual.(*entry)
}

// UpdateLocation applies last-writer-wins-by-timestamp ordering: a write
// only takes effect if no live entry exists yet, or the incoming timestamp
// is at or after the live entry's. applied is true whenever the entry was
// stored (either a fresh insert or a replace); old is non-nil only on
// replace. The three outcomes map to (old, applied) as:
//  1. no existing entry -> insert, return (nil, true)
//  2. existing.ts <= new.ts -> replace, return (&oldEntry, true)
//  3. otherwise -> stale write, unchanged, return (nil, false)
func (s *State) UpdateLocation(ns, objectID string, pos geo.Point3D, metadata []byte, tsMicros int64) (old *CurrentLocation, applied bool) {
	key := objectkey.Make(ns, objectID)
	e := s.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := CurrentLocation{
		Namespace:       ns,
		ObjectID:        objectID,
		Position:        pos,
		Metadata:        metadata,
		TimestampMicros: tsMicros,
	}

	if !e.live {
		e.current = next
		e.live = true
		s.index.Insert(ns, pos.X, pos.Y, pos.Z, key)
		return nil, true
	}

	if e.current.TimestampMicros <= tsMicros {
		prev := e.current
		e.current = next
		s.index.Remove(ns, key)
		s.index.Insert(ns, pos.X, pos.Y, pos.Z, key)
		return &prev, true
	}

	return nil, false
}

// GetCurrent returns the live record for (ns, objectID), if any.
func (s *State) GetCurrent(ns, objectID string) (CurrentLocation, bool) {
	key := objectkey.Make(ns, objectID)
	v, ok := s.locations.Load(key)
	if !ok {
		return CurrentLocation{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return CurrentLocation{}, false
	}
	return e.current, true
}

// RemoveObject deletes the live record for (ns, objectID) and its
// IndexedPoint, returning the record that was removed.
func (s *State) RemoveObject(ns, objectID string) (CurrentLocation, bool) {
	key := objectkey.Make(ns, objectID)
	v, ok := s.locations.Load(key)
	if !ok {
		return CurrentLocation{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.live {
		return CurrentLocation{}, false
	}
	old := e.current
	e.live = false
	e.current = CurrentLocation{}
	s.index.Remove(ns, key)
	return old, true
}

// NamespaceCount returns the number of live objects in ns.
func (s *State) NamespaceCount(ns string) int {
	count := 0
	prefix := ns + objectkey.Separator
	s.locations.Range(func(k, v interface{}) bool {
		if !strings.HasPrefix(k.(string), prefix) {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		if e.live {
			count++
		}
		e.mu.Unlock()
		return true
	})
	return count
}

// ObjectCount returns the number of live objects across every namespace.
func (s *State) ObjectCount() int {
	count := 0
	s.locations.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.live {
			count++
		}
		e.mu.Unlock()
		return true
	})
	return count
}

// QueryWithinSphere, QueryWithinBBox3D, QueryWithinCylinder and KNN3D
// delegate directly to the spatial index.

func (s *State) QueryWithinSphere(ns string, center geo.Point3D, radiusMeters float64, limit int) []spatialindex.Candidate {
	return s.index.QuerySphere(ns, center, radiusMeters, limit)
}

func (s *State) QueryWithinBBox3D(ns string, min, max geo.Point3D, limit int) []string {
	return s.index.QueryBBox(ns, min, max, limit)
}

func (s *State) QueryWithinCylinder(ns string, centerX, centerY, minZ, maxZ, radiusMeters float64, limit int) []spatialindex.Candidate {
	return s.index.QueryCylinder(ns, centerX, centerY, minZ, maxZ, radiusMeters, limit)
}

func (s *State) KNN3D(ns string, anchor geo.Point3D, k int) []spatialindex.Candidate {
	return s.index.KNN(ns, anchor, k)
}

// QueryWithinPolygon computes the polygon's 2D bounding rect, bbox-queries
// the index without truncation, filters candidates by exact point-in-polygon,
// then truncates to limit.
func (s *State) QueryWithinPolygon(ns string, polygon geo.Polygon, limit int) []string {
	if limit <= 0 || !polygon.Valid() {
		return nil
	}
	minXY, maxXY := polygon.BoundingRect()
	min := geo.Point3D{X: minXY.X, Y: minXY.Y, Z: -math.MaxFloat64}
	max := geo.Point3D{X: maxXY.X, Y: maxXY.Y, Z: math.MaxFloat64}

	candidates := s.index.QueryBBox(ns, min, max, unboundedLimit)
	out := make([]string, 0, limit)
	for _, key := range candidates {
		pos, ok := s.positionOf(ns, key)
		if !ok {
			continue
		}
		if polygon.Contains(geo.Point2D{X: pos.X, Y: pos.Y}) {
			out = append(out, key)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func (s *State) positionOf(ns, compositeKey string) (geo.Point3D, bool) {
	_, objectID, ok := objectkey.Split(compositeKey)
	if !ok {
		return geo.Point3D{}, false
	}
	loc, ok := s.GetCurrent(ns, objectID)
	if !ok {
		return geo.Point3D{}, false
	}
	return loc.Position, true
}

// liveNamespacePoints collects every live 2D point in ns.
func (s *State) liveNamespacePoints(ns string) []geo.Point2D {
	prefix := ns + objectkey.Separator
	var pts []geo.Point2D
	s.locations.Range(func(k, v interface{}) bool {
		if !strings.HasPrefix(k.(string), prefix) {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		if e.live {
			pts = append(pts, geo.Point2D{X: e.current.Position.X, Y: e.current.Position.Y})
		}
		e.mu.Unlock()
		return true
	})
	return pts
}

// ConvexHull computes the 2D convex hull of ns's live points. Returns false
// if fewer than three distinct points are live.
func (s *State) ConvexHull(ns string) (geo.Polygon, bool) {
	return geo.ConvexHull(s.liveNamespacePoints(ns))
}

// BoundingBox returns the min/max 2D bounds over ns's live points.
func (s *State) BoundingBox(ns string) (min, max geo.Point2D, ok bool) {
	pts := s.liveNamespacePoints(ns)
	if len(pts) == 0 {
		return geo.Point2D{}, geo.Point2D{}, false
	}
	min, max = pts[0], pts[0]
	for _, p := range pts[1:] {
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
	}
	return min, max, true
}

// DistanceToPoint returns the geographic-3D distance from (ns, objectID)'s
// current position to target.
func (s *State) DistanceToPoint(ns, objectID string, target geo.Point3D) (float64, bool) {
	loc, ok := s.GetCurrent(ns, objectID)
	if !ok {
		return 0, false
	}
	return geo.Distance3D(loc.Position, target), true
}

// DistanceBetweenObjects returns the geographic-3D distance between two
// live objects in the same namespace.
func (s *State) DistanceBetweenObjects(ns, objectIDA, objectIDB string) (float64, bool) {
	a, ok := s.GetCurrent(ns, objectIDA)
	if !ok {
		return 0, false
	}
	b, ok := s.GetCurrent(ns, objectIDB)
	if !ok {
		return 0, false
	}
	return geo.Distance3D(a.Position, b.Position), true
}

// Clear discards every live object in ns.
func (s *State) Clear(ns string) {
	prefix := ns + objectkey.Separator
	s.locations.Range(func(k, v interface{}) bool {
		if !strings.HasPrefix(k.(string), prefix) {
			return true
		}
		e := v.(*entry)
		e.mu.Lock()
		e.live = false
		e.current = CurrentLocation{}
		e.mu.Unlock()
		return true
	})
	s.index.Clear(ns)
}
