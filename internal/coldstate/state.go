package coldstate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spatiodb/spatio/internal/geo"
	"github.com/spatiodb/spatio/internal/objectkey"
)

// Options configures a State at construction.
type Options struct {
	// FlushThreshold is the number of pending appended lines before the
	// writer forces a flush to the OS.
	FlushThreshold int
	// RingCapacity is the number of most recent samples retained in memory
	// per composite key.
	RingCapacity int
	Logger       *zap.Logger
}

// State is Cold State: the append-only trajectory log writer, the bounded
// per-object ring buffer, and the recovery scanner.
type State struct {
	writer *writer
	ring   *ringBuffers

	logger      *zap.Logger
	warnLimiter *rate.Limiter
}

// Open opens (creating if absent) the trajectory log at path.
func Open(path string, opts Options) (*State, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := newWriter(path, opts.FlushThreshold, logger)
	if err != nil {
		return nil, err
	}
	return &State{
		writer:      w,
		ring:        newRingBuffers(opts.RingCapacity),
		logger:      logger,
		warnLimiter: rate.NewLimiter(rate.Limit(20), 20),
	}, nil
}

func (s *State) warn(msg string, fields ...zap.Field) {
	if s.warnLimiter.Allow() {
		s.logger.Warn(msg, fields...)
	}
}

// Append encodes the sample into a log line under the writer mutex, then
// pushes it onto the composite key's ring buffer. tsMicros is stored as
// given: the engine boundary has already microsecond-truncated it, and
// State does no truncation of its own.
func (s *State) Append(namespace, objectID string, pos geo.Point3D, metadata []byte, tsMicros int64) error {
	sample := Sample{TimestampMicros: tsMicros, Position: pos, Metadata: metadata}
	line, err := EncodeLine(namespace, objectID, sample)
	if err != nil {
		return fmt.Errorf("coldstate: encode: %w", err)
	}
	if err := s.writer.appendLine(line); err != nil {
		return err
	}
	s.ring.push(objectkey.Make(namespace, objectID), sample)
	return nil
}

// QueryTrajectory returns every sample for (namespace, objectID) whose
// timestamp lies in [startMicros, endMicros], descending by timestamp, with
// no duplicates between the ring buffer and the disk scan. limit <= 0 means
// unlimited; this differs deliberately from the spatial index's
// "limit == 0 means empty" rule, which applies only to that component.
func (s *State) QueryTrajectory(namespace, objectID string, startMicros, endMicros int64, limit int) []Sample {
	key := objectkey.Make(namespace, objectID)
	buffered := s.ring.queryDescending(key, startMicros, endMicros)

	if limit > 0 && len(buffered) >= limit {
		return buffered[:limit]
	}

	seen := make(map[int64]struct{}, len(buffered))
	for _, smp := range buffered {
		seen[smp.TimestampMicros] = struct{}{}
	}

	disk := s.scanDisk(namespace, objectID, startMicros, endMicros, seen)

	merged := make([]Sample, 0, len(buffered)+len(disk))
	merged = append(merged, buffered...)
	merged = append(merged, disk...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].TimestampMicros > merged[j].TimestampMicros
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// scanDisk reads the log line by line, collecting samples for
// (namespace, objectID) within [startMicros, endMicros] whose timestamp is
// not already present in seen. An absent log file is treated as empty.
//
// The writer mutex is held for the entire scan - coarser than the brief
// per-append hold, but required: lines sitting in the writer's buffer
// below flushThreshold are invisible to a plain os.Open, so the buffer is
// flushed to the OS first, under the same lock, before the file is read.
func (s *State) scanDisk(namespace, objectID string, startMicros, endMicros int64, seen map[int64]struct{}) []Sample {
	s.writer.mu.Lock()
	defer s.writer.mu.Unlock()

	if err := s.writer.flushLocked(); err != nil {
		s.warn("coldstate: flush before trajectory scan failed", zap.Error(err))
	}

	f, err := os.Open(s.writer.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.warn("coldstate: trajectory scan open failed", zap.Error(err))
		return nil
	}
	defer f.Close()

	var out []Sample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		decoded, err := DecodeLine(scanner.Text())
		if err != nil {
			s.warn("coldstate: skipping malformed trajectory line", zap.Error(err))
			continue
		}
		if decoded.Namespace != namespace || decoded.ObjectID != objectID {
			continue
		}
		ts := decoded.Sample.TimestampMicros
		if ts < startMicros || ts > endMicros {
			continue
		}
		if _, dup := seen[ts]; dup {
			continue
		}
		out = append(out, decoded.Sample)
	}
	return out
}

// Flush forces the writer's buffer to the OS. Not a durability guarantee.
func (s *State) Flush() error {
	return s.writer.flush()
}

// Close flushes and closes the log file.
func (s *State) Close() error {
	return s.writer.close()
}

// Recover scans the entire log once, reducing to the sample with the
// maximum timestamp per composite key.
func (s *State) Recover() (map[string]RecoveredObject, error) {
	f, err := os.Open(s.writer.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]RecoveredObject{}, nil
		}
		return nil, fmt.Errorf("coldstate: recovery open: %w", err)
	}
	defer f.Close()

	latest := make(map[string]RecoveredObject)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		decoded, err := DecodeLine(scanner.Text())
		if err != nil {
			s.warn("coldstate: skipping malformed line during recovery", zap.Error(err))
			continue
		}
		key := objectkey.Make(decoded.Namespace, decoded.ObjectID)
		if existing, ok := latest[key]; !ok || decoded.Sample.TimestampMicros > existing.Sample.TimestampMicros {
			latest[key] = RecoveredObject{
				Namespace: decoded.Namespace,
				ObjectID:  decoded.ObjectID,
				Sample:    decoded.Sample,
			}
		}
	}
	return latest, nil
}

// RecoveredObject is one row of Recover's fold-to-latest-per-key result.
type RecoveredObject struct {
	Namespace string
	ObjectID  string
	Sample    Sample
}
