package hotstate

import "github.com/spatiodb/spatio/internal/geo"

// CurrentLocation is the one live record Hot State keeps per
// (namespace, object_id) pair.
type CurrentLocation struct {
	Namespace string
	ObjectID  string
	Position  geo.Point3D
	Metadata  []byte
	// TimestampMicros is microsecond-truncated, consistent with the cold
	// log's on-disk resolution so trajectory de-duplication compares equal
	// timestamps across both tiers.
	TimestampMicros int64
}
