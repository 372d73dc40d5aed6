package coldstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatiodb/spatio/internal/geo"
)

func openTestState(t *testing.T, ringCapacity int) *State {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trajectory.log")
	s, err := Open(path, Options{FlushThreshold: 1, RingCapacity: ringCapacity})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// S3 — trajectory order and limit, ring capacity smaller than the result
// set so the disk scan must contribute.
func TestQueryTrajectoryOrderAndLimit(t *testing.T) {
	s := openTestState(t, 2)

	for _, ts := range []int64{1000, 2000, 3000, 4000, 5000} {
		require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: float64(ts), Y: 0, Z: 0}, nil, ts))
	}

	all := s.QueryTrajectory("veh", "c1", 1000, 5000, 10)
	require.Len(t, all, 5)
	for i := 0; i < len(all)-1; i++ {
		assert.Greater(t, all[i].TimestampMicros, all[i+1].TimestampMicros)
	}
	assert.Equal(t, []int64{5000, 4000, 3000, 2000, 1000}, timestampsOf(all))

	limited := s.QueryTrajectory("veh", "c1", 1000, 5000, 3)
	require.Len(t, limited, 3)
	assert.Equal(t, []int64{5000, 4000, 3000}, timestampsOf(limited))
}

// S4 — stale writes are still appended to Cold; both samples are durable.
func TestQueryTrajectoryRetainsBothSamplesAfterStaleWrite(t *testing.T) {
	s := openTestState(t, 100)

	require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: 1}, nil, 2000))
	require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: 2}, nil, 1000))

	samples := s.QueryTrajectory("veh", "c1", 0, 3000, 10)
	assert.Len(t, samples, 2)
}

func TestQueryTrajectoryDeduplicatesBufferAndDisk(t *testing.T) {
	s := openTestState(t, 1) // ring capacity 1 forces most samples off the buffer

	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: float64(ts)}, nil, ts))
	}

	samples := s.QueryTrajectory("veh", "c1", 0, 10000, 0)
	seen := map[int64]int{}
	for _, smp := range samples {
		seen[smp.TimestampMicros]++
	}
	for ts, n := range seen {
		assert.Equalf(t, 1, n, "timestamp %d appeared %d times", ts, n)
	}
}

// Invariant 6: append then recover yields the latest sample for its key.
func TestRecoverReturnsLatestSamplePerKey(t *testing.T) {
	s := openTestState(t, 10)

	require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: 1}, nil, 1000))
	require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: 2}, nil, 2000))
	require.NoError(t, s.Append("veh", "c2", geo.Point3D{X: 9}, nil, 500))

	recovered, err := s.Recover()
	require.NoError(t, err)

	require.Contains(t, recovered, "veh::c1")
	assert.Equal(t, int64(2000), recovered["veh::c1"].Sample.TimestampMicros)
	require.Contains(t, recovered, "veh::c2")
	assert.Equal(t, int64(500), recovered["veh::c2"].Sample.TimestampMicros)
}

func TestScanSkipsMalformedLinesWithoutFailing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.log")
	s, err := Open(path, Options{FlushThreshold: 1, RingCapacity: 10})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("veh", "c1", geo.Point3D{X: 1}, nil, 1000))
	require.NoError(t, s.writer.flush())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("this-line-is-garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	samples := s.QueryTrajectory("veh", "c1", 0, 10000, 10)
	require.Len(t, samples, 1)

	_, err = s.Recover()
	assert.NoError(t, err)
}

func TestQueryTrajectoryAbsentLogFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "trajectory.log")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// scanDisk treats an absent file as empty rather than an error; exercise
	// it through a State whose backing file has been removed post-open.
	s := openTestState(t, 5)
	require.NoError(t, os.Remove(s.writer.path))
	samples := s.QueryTrajectory("veh", "nobody", 0, 1000, 10)
	assert.Empty(t, samples)
}

func timestampsOf(samples []Sample) []int64 {
	out := make([]int64, len(samples))
	for i, s := range samples {
		out[i] = s.TimestampMicros
	}
	return out
}
