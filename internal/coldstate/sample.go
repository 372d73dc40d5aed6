// Package coldstate implements the append-only trajectory log, the bounded
// per-object in-memory ring buffer, and the recovery scanner that folds the
// log to one latest sample per composite key.
package coldstate

import "github.com/spatiodb/spatio/internal/geo"

// Sample is one recorded position update: append-only, never mutated.
type Sample struct {
	TimestampMicros int64
	Position        geo.Point3D
	Metadata        []byte
}
