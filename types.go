package spatio

import (
	"time"

	"github.com/spatiodb/spatio/internal/geo"
)

// Point3D is a geographic point: longitude, latitude, and altitude meters.
type Point3D = geo.Point3D

// Point2D is a bare (longitude, latitude) pair.
type Point2D = geo.Point2D

// Polygon is a closed ring of 2D vertices, used by QueryWithinPolygon.
type Polygon = geo.Polygon

// CurrentLocation is the public view of Hot State's one live record per
// (namespace, object_id).
type CurrentLocation struct {
	Namespace string
	ObjectID  string
	Position  Point3D
	Metadata  []byte
	Timestamp time.Time
}

// TrajectorySample is one recorded position update returned by
// QueryTrajectory.
type TrajectorySample struct {
	Timestamp time.Time
	Position  Point3D
	Metadata  []byte
}

// RadiusResult is one match from a radius/cylinder/kNN query: the live
// object's current record plus its distance from the query anchor.
// DistanceMeters is geographic-3D for sphere and kNN queries, horizontal
// only for cylinder queries.
type RadiusResult struct {
	Location       CurrentLocation
	DistanceMeters float64
}

// NamespaceStat is one namespace's derived spatial analytics, computed by
// NamespaceStats.
type NamespaceStat struct {
	ObjectCount  int
	BoundingMin  Point2D
	BoundingMax  Point2D
	HasBounds    bool
	ConvexHull   Polygon
	HasHull      bool
}
