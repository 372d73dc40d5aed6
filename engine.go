// Package spatio is an embedded spatio-temporal database for tracking
// moving objects. It exposes a dual-tier storage engine - a Hot State of
// current positions backed by a per-namespace 3D R*-tree, and a Cold State
// append-only trajectory log - behind the single Engine facade in this
// file.
package spatio

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spatiodb/spatio/internal/coldstate"
	"github.com/spatiodb/spatio/internal/hotstate"
	"github.com/spatiodb/spatio/internal/metrics"
	"github.com/spatiodb/spatio/internal/objectkey"
	"github.com/spatiodb/spatio/internal/spatialindex"
	"github.com/spatiodb/spatio/internal/tsutil"
)

// InMemoryPath is the literal path value that opens a disposable,
// non-recovering database: a synthetic temp directory whose log is never
// read again once the process exits.
const InMemoryPath = ":memory:"

const trajectoryLogFileName = "trajectory.log"

// Engine is the single entry point for Spatio. It sequences Hot and Cold
// updates, enforces the closed-state contract, and stamps writes with
// timestamps.
type Engine struct {
	id     uuid.UUID
	closed atomic.Bool

	hot   *hotstate.State
	cold  *coldstate.State
	index *spatialindex.Manager

	logger  *zap.Logger
	metrics *metrics.Collector
	pool    *pond.WorkerPool

	tempDir string
}

// Open opens the database at path: a file, a directory (the trajectory log
// lives inside it), or InMemoryPath for a disposable store. Existing
// content is replayed via Recover before Open returns.
func Open(path string, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	logPath, tempDir, err := resolveLogPath(path)
	if err != nil {
		return nil, newErr("Open", KindStorageIO, err)
	}

	warnLimiter := rate.NewLimiter(rate.Limit(20), 20)
	index := spatialindex.New(cfg.logger, warnLimiter)
	hot := hotstate.New(index, cfg.logger)
	cold, err := coldstate.Open(logPath, coldstate.Options{
		FlushThreshold: cfg.flushThreshold,
		RingCapacity:   cfg.ringCapacity,
		Logger:         cfg.logger,
	})
	if err != nil {
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
		return nil, newErr("Open", KindStorageIO, err)
	}

	e := &Engine{
		id:      uuid.New(),
		hot:     hot,
		cold:    cold,
		index:   index,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		pool:    pond.New(4, 64),
		tempDir: tempDir,
	}

	if err := e.recover(); err != nil {
		_ = cold.Close()
		if tempDir != "" {
			_ = os.RemoveAll(tempDir)
		}
		return nil, err
	}

	e.logger.Info("spatio: engine opened", zap.String("engine_id", e.id.String()), zap.String("path", path))
	return e, nil
}

// OpenInMemory is shorthand for Open(InMemoryPath, opts...).
func OpenInMemory(opts ...Option) (*Engine, error) {
	return Open(InMemoryPath, opts...)
}

func resolveLogPath(path string) (logPath string, tempDir string, err error) {
	if path == InMemoryPath {
		td, err := os.MkdirTemp("", "spatio-memdb-*")
		if err != nil {
			return "", "", err
		}
		return filepath.Join(td, trajectoryLogFileName), td, nil
	}

	fi, statErr := os.Stat(path)
	if statErr == nil && fi.IsDir() {
		return filepath.Join(path, trajectoryLogFileName), "", nil
	}
	// Either a plain file path, or a path that does not exist yet: treated
	// as the log file itself, a single file otherwise.
	return path, "", nil
}

// recover replays the cold log into Hot State, bypassing the future-
// timestamp-rejection check that guards ordinary writes.
func (e *Engine) recover() error {
	start := time.Now()
	recovered, err := e.cold.Recover()
	if err != nil {
		return newErr("recover", KindStorageIO, err)
	}
	for _, obj := range recovered {
		e.hot.UpdateLocation(obj.Namespace, obj.ObjectID, obj.Sample.Position, obj.Sample.Metadata, obj.Sample.TimestampMicros)
	}
	if e.metrics != nil {
		e.metrics.RecoveryDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("spatio: recovery complete",
		zap.String("engine_id", e.id.String()),
		zap.Int("objects", len(recovered)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Close marks the engine closed; every subsequent call returns
// ErrDatabaseClosed. Safe to call once; a second call returns that same
// error rather than double-closing the log.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return newErr("Close", KindDatabaseClosed, nil)
	}
	e.pool.StopAndWait()
	err := e.cold.Close()
	if e.tempDir != "" {
		_ = os.RemoveAll(e.tempDir)
	}
	if err != nil {
		return newErr("Close", KindStorageIO, err)
	}
	return nil
}

func (e *Engine) checkOpen(op string) error {
	if e.closed.Load() {
		return newErr(op, KindDatabaseClosed, nil)
	}
	return nil
}

// UpdateLocation stamps the write with the current time and applies it to
// Hot then Cold.
func (e *Engine) UpdateLocation(ns, objectID string, pos Point3D, metadata []byte) error {
	return e.updateAt("UpdateLocation", ns, objectID, pos, metadata, tsutil.NowMicros())
}

// UpdateLocationAt is UpdateLocation with a caller-supplied timestamp, for
// backfill. The last-writer-wins ordering rule in Hot still applies; a
// stale ts is silently ignored in Hot but is always appended to Cold.
func (e *Engine) UpdateLocationAt(ns, objectID string, pos Point3D, metadata []byte, ts time.Time) error {
	return e.updateAt("UpdateLocationAt", ns, objectID, pos, metadata, tsutil.TruncateMicros(ts))
}

func (e *Engine) updateAt(op, ns, objectID string, pos Point3D, metadata []byte, tsMicros int64) error {
	if err := e.checkOpen(op); err != nil {
		return err
	}
	if err := objectkey.Validate(ns, objectID); err != nil {
		return newErr(op, KindInvalidInput, err)
	}
	if !pos.Valid() {
		return newErr(op, KindInvalidCoordinates, nil)
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return newErr(op, KindSerializationError, nil)
	}
	nowMicros := tsutil.NowMicros()
	if tsMicros > nowMicros+tsutil.MaxClockSkew.Microseconds() {
		return newErr(op, KindInvalidTimestamp, nil)
	}

	old, applied := e.hot.UpdateLocation(ns, objectID, pos, metadata, tsMicros)
	outcome := "stale"
	if applied {
		if old == nil {
			outcome = "inserted"
		} else {
			outcome = "replaced"
		}
	}

	if err := e.cold.Append(ns, objectID, pos, metadata, tsMicros); err != nil {
		if e.metrics != nil {
			e.metrics.ColdWriteFailures.Inc()
		}
		// Hot has already advanced; the caller sees the error but the
		// object is queryable in memory.
		return newErr(op, KindStorageIO, err)
	}

	if e.metrics != nil {
		e.metrics.Updates.WithLabelValues(outcome).Inc()
		e.metrics.ObjectsTracked.WithLabelValues(ns).Set(float64(e.hot.NamespaceCount(ns)))
	}
	return nil
}

// observeQuery records a query operation's wall-clock duration against the
// metrics collector's query-latency histogram, labeled by kind. A nil
// collector (the default) makes this a no-op.
func (e *Engine) observeQuery(kind string, start time.Time) {
	if e.metrics != nil {
		e.metrics.QueryLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// GetCurrentLocation returns the live record for (ns, objectID), if any.
func (e *Engine) GetCurrentLocation(ns, objectID string) (CurrentLocation, bool, error) {
	if err := e.checkOpen("GetCurrentLocation"); err != nil {
		return CurrentLocation{}, false, err
	}
	loc, ok := e.hot.GetCurrent(ns, objectID)
	if !ok {
		return CurrentLocation{}, false, nil
	}
	return toPublicLocation(loc), true, nil
}

// RemoveObject deletes the live record for (ns, objectID) and its spatial
// index entry, returning the record that was removed.
func (e *Engine) RemoveObject(ns, objectID string) (CurrentLocation, bool, error) {
	if err := e.checkOpen("RemoveObject"); err != nil {
		return CurrentLocation{}, false, err
	}
	loc, ok := e.hot.RemoveObject(ns, objectID)
	if !ok {
		return CurrentLocation{}, false, nil
	}
	if e.metrics != nil {
		e.metrics.ObjectsTracked.WithLabelValues(ns).Set(float64(e.hot.NamespaceCount(ns)))
	}
	return toPublicLocation(loc), true, nil
}

// QueryCurrentWithinRadius returns up to limit live objects within
// radiusMeters of center, ascending by geographic-3D distance.
func (e *Engine) QueryCurrentWithinRadius(ns string, center Point3D, radiusMeters float64, limit int) ([]RadiusResult, error) {
	if err := e.checkOpen("QueryCurrentWithinRadius"); err != nil {
		return nil, err
	}
	defer e.observeQuery("radius", time.Now())
	candidates := e.hot.QueryWithinSphere(ns, center, radiusMeters, limit)
	return e.resolveCandidates(ns, candidates), nil
}

// QueryCurrentWithinBBox returns composite-key-resolved live objects within
// the axis-aligned 3D range [min, max], truncated to limit.
func (e *Engine) QueryCurrentWithinBBox(ns string, min, max Point3D, limit int) ([]CurrentLocation, error) {
	if err := e.checkOpen("QueryCurrentWithinBBox"); err != nil {
		return nil, err
	}
	defer e.observeQuery("bbox", time.Now())
	keys := e.hot.QueryWithinBBox3D(ns, min, max, limit)
	return e.resolveKeys(ns, keys), nil
}

// QueryCurrentWithinBBox2D is the 2D variant of QueryCurrentWithinBBox: it
// ignores altitude entirely by spanning the full vertical range. The span
// uses a large finite bound rather than +/-Inf, matching
// hotstate.QueryWithinPolygon's bbox-prefilter bound - the spatial index
// treats any non-finite query corner as invalid and returns empty
// (spec.md §4.1 edge case: "Non-finite query coordinates -> return empty
// result"), so +/-Inf here would make this operation always return nothing.
func (e *Engine) QueryCurrentWithinBBox2D(ns string, min, max Point2D, limit int) ([]CurrentLocation, error) {
	defer e.observeQuery("bbox_2d", time.Now())
	min3 := Point3D{X: min.X, Y: min.Y, Z: -math.MaxFloat64}
	max3 := Point3D{X: max.X, Y: max.Y, Z: math.MaxFloat64}
	return e.QueryCurrentWithinBBox(ns, min3, max3, limit)
}

// QueryWithinCylinder returns up to limit live objects within radiusMeters
// horizontally of centerXY and within [minZ, maxZ] vertically, ascending by
// horizontal distance.
func (e *Engine) QueryWithinCylinder(ns string, centerXY Point2D, minZ, maxZ, radiusMeters float64, limit int) ([]RadiusResult, error) {
	if err := e.checkOpen("QueryWithinCylinder"); err != nil {
		return nil, err
	}
	defer e.observeQuery("cylinder", time.Now())
	candidates := e.hot.QueryWithinCylinder(ns, centerXY.X, centerXY.Y, minZ, maxZ, radiusMeters, limit)
	return e.resolveCandidates(ns, candidates), nil
}

// KNN3D returns up to k live objects nearest center, ascending by
// geographic-3D distance.
func (e *Engine) KNN3D(ns string, center Point3D, k int) ([]RadiusResult, error) {
	if err := e.checkOpen("KNN3D"); err != nil {
		return nil, err
	}
	defer e.observeQuery("knn", time.Now())
	candidates := e.hot.KNN3D(ns, center, k)
	return e.resolveCandidates(ns, candidates), nil
}

// QueryNearObject reads the object's current position, then radius-queries
// around it. Returns ErrObjectNotFound if the anchor object does not exist.
func (e *Engine) QueryNearObject(ns, objectID string, radiusMeters float64, limit int) ([]RadiusResult, error) {
	if err := e.checkOpen("QueryNearObject"); err != nil {
		return nil, err
	}
	defer e.observeQuery("near_object", time.Now())
	anchor, ok := e.hot.GetCurrent(ns, objectID)
	if !ok {
		return nil, newErr("QueryNearObject", KindObjectNotFound, nil)
	}
	candidates := e.hot.QueryWithinSphere(ns, anchor.Position, radiusMeters, limit)
	return e.resolveCandidates(ns, candidates), nil
}

// QueryWithinPolygon returns up to limit live objects inside polygon.
func (e *Engine) QueryWithinPolygon(ns string, polygon Polygon, limit int) ([]CurrentLocation, error) {
	if err := e.checkOpen("QueryWithinPolygon"); err != nil {
		return nil, err
	}
	if !polygon.Valid() {
		return nil, newErr("QueryWithinPolygon", KindInvalidInput, nil)
	}
	defer e.observeQuery("polygon", time.Now())
	keys := e.hot.QueryWithinPolygon(ns, polygon, limit)
	return e.resolveKeys(ns, keys), nil
}

// QueryTrajectory returns every sample for (ns, objectID) in [start, end],
// descending by timestamp, with no duplicates between the ring buffer and
// the disk scan. limit <= 0 means unlimited.
func (e *Engine) QueryTrajectory(ns, objectID string, start, end time.Time, limit int) ([]TrajectorySample, error) {
	if err := e.checkOpen("QueryTrajectory"); err != nil {
		return nil, err
	}
	defer e.observeQuery("trajectory", time.Now())
	samples := e.cold.QueryTrajectory(ns, objectID, tsutil.TruncateMicros(start), tsutil.TruncateMicros(end), limit)
	out := make([]TrajectorySample, len(samples))
	for i, s := range samples {
		out[i] = TrajectorySample{
			Timestamp: time.UnixMicro(s.TimestampMicros).UTC(),
			Position:  s.Position,
			Metadata:  s.Metadata,
		}
	}
	return out, nil
}

// Flush forces the cold log's buffer to the OS. Not a durability guarantee.
func (e *Engine) Flush() error {
	if err := e.checkOpen("Flush"); err != nil {
		return err
	}
	if err := e.cold.Flush(); err != nil {
		return newErr("Flush", KindStorageIO, err)
	}
	return nil
}

// ObjectCount returns the number of live objects across every namespace.
func (e *Engine) ObjectCount() (int, error) {
	if err := e.checkOpen("ObjectCount"); err != nil {
		return 0, err
	}
	return e.hot.ObjectCount(), nil
}

// NamespaceCount returns the number of live objects in ns.
func (e *Engine) NamespaceCount(ns string) (int, error) {
	if err := e.checkOpen("NamespaceCount"); err != nil {
		return 0, err
	}
	return e.hot.NamespaceCount(ns), nil
}

// DistanceToPoint returns the geographic-3D distance, in meters, from
// (ns, objectID)'s current position to target. ok is false if the object
// is not currently live.
func (e *Engine) DistanceToPoint(ns, objectID string, target Point3D) (distanceMeters float64, ok bool, err error) {
	if err := e.checkOpen("DistanceToPoint"); err != nil {
		return 0, false, err
	}
	d, ok := e.hot.DistanceToPoint(ns, objectID, target)
	return d, ok, nil
}

// DistanceBetweenObjects returns the geographic-3D distance, in meters,
// between two live objects in the same namespace. ok is false if either
// object is not currently live.
func (e *Engine) DistanceBetweenObjects(ns, objectIDA, objectIDB string) (distanceMeters float64, ok bool, err error) {
	if err := e.checkOpen("DistanceBetweenObjects"); err != nil {
		return 0, false, err
	}
	d, ok := e.hot.DistanceBetweenObjects(ns, objectIDA, objectIDB)
	return d, ok, nil
}

// ConvexHull computes the 2D convex hull of ns's live points. ok is false
// if fewer than three distinct points are currently live.
func (e *Engine) ConvexHull(ns string) (hull Polygon, ok bool, err error) {
	if err := e.checkOpen("ConvexHull"); err != nil {
		return Polygon{}, false, err
	}
	hull, ok = e.hot.ConvexHull(ns)
	return hull, ok, nil
}

// BoundingBox returns the min/max 2D bounds over ns's live points. ok is
// false if ns currently holds no live points.
func (e *Engine) BoundingBox(ns string) (min, max Point2D, ok bool, err error) {
	if err := e.checkOpen("BoundingBox"); err != nil {
		return Point2D{}, Point2D{}, false, err
	}
	min, max, ok = e.hot.BoundingBox(ns)
	return min, max, ok, nil
}

// ClearNamespace destroys every live object in ns: its Hot State record and
// its spatial index entry. The namespace's trajectory history in Cold State
// is untouched - clearing current state is not a retroactive rewrite of the
// append-only log.
func (e *Engine) ClearNamespace(ns string) error {
	if err := e.checkOpen("ClearNamespace"); err != nil {
		return err
	}
	e.hot.Clear(ns)
	if e.metrics != nil {
		e.metrics.ObjectsTracked.WithLabelValues(ns).Set(0)
	}
	return nil
}

// NamespaceStats computes, per namespace currently holding at least one
// live point, the object count, bounding box, and convex hull, fanning the
// per-namespace work out across a small worker pool since namespaces are
// independent of one another.
func (e *Engine) NamespaceStats() (map[string]NamespaceStat, error) {
	if err := e.checkOpen("NamespaceStats"); err != nil {
		return nil, err
	}

	counts := e.index.Stats()
	result := make(map[string]NamespaceStat, len(counts))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for ns, n := range counts {
		if n == 0 {
			continue
		}
		ns := ns
		wg.Add(1)
		e.pool.Submit(func() {
			defer wg.Done()
			stat := NamespaceStat{ObjectCount: e.hot.NamespaceCount(ns)}
			if min, max, ok := e.hot.BoundingBox(ns); ok {
				stat.BoundingMin, stat.BoundingMax, stat.HasBounds = min, max, true
			}
			if hull, ok := e.hot.ConvexHull(ns); ok {
				stat.ConvexHull, stat.HasHull = hull, true
			}
			mu.Lock()
			result[ns] = stat
			mu.Unlock()
		})
	}
	wg.Wait()
	return result, nil
}

func (e *Engine) resolveCandidates(ns string, candidates []spatialindex.Candidate) []RadiusResult {
	out := make([]RadiusResult, 0, len(candidates))
	for _, c := range candidates {
		_, objectID, ok := objectkey.Split(c.Key)
		if !ok {
			continue
		}
		loc, ok := e.hot.GetCurrent(ns, objectID)
		if !ok {
			continue
		}
		out = append(out, RadiusResult{Location: toPublicLocation(loc), DistanceMeters: c.Distance})
	}
	return out
}

func (e *Engine) resolveKeys(ns string, keys []string) []CurrentLocation {
	out := make([]CurrentLocation, 0, len(keys))
	for _, key := range keys {
		_, objectID, ok := objectkey.Split(key)
		if !ok {
			continue
		}
		loc, ok := e.hot.GetCurrent(ns, objectID)
		if !ok {
			continue
		}
		out = append(out, toPublicLocation(loc))
	}
	return out
}

func toPublicLocation(loc hotstate.CurrentLocation) CurrentLocation {
	return CurrentLocation{
		Namespace: loc.Namespace,
		ObjectID:  loc.ObjectID,
		Position:  loc.Position,
		Metadata:  loc.Metadata,
		Timestamp: time.UnixMicro(loc.TimestampMicros).UTC(),
	}
}
