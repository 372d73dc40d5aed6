package coldstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatiodb/spatio/internal/geo"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sample := Sample{
		TimestampMicros: 1_700_000_000_000_000,
		Position:        geo.Point3D{X: -74.006, Y: 40.7128, Z: 12.5},
		Metadata:        []byte(`{"speed":42}`),
	}
	line, err := EncodeLine("veh", "c1", sample)
	require.NoError(t, err)

	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Equal(t, "veh", decoded.Namespace)
	assert.Equal(t, "c1", decoded.ObjectID)
	assert.Equal(t, sample.TimestampMicros, decoded.Sample.TimestampMicros)
	assert.InDelta(t, sample.Position.X, decoded.Sample.Position.X, 1e-6)
	assert.InDelta(t, sample.Position.Y, decoded.Sample.Position.Y, 1e-6)
	assert.InDelta(t, sample.Position.Z, decoded.Sample.Position.Z, 1e-6)
	assert.Equal(t, sample.Metadata, decoded.Sample.Metadata)
}

func TestEncodeDecodeNullMetadata(t *testing.T) {
	line, err := EncodeLine("veh", "c1", Sample{TimestampMicros: 1, Position: geo.Point3D{}})
	require.NoError(t, err)
	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Nil(t, decoded.Sample.Metadata)
}

func TestEncodeFieldOrderIsLatLonAlt(t *testing.T) {
	// Point3D is (x=lon, y=lat, z=alt); on disk the field order is lat,
	// lon, alt. Use distinct values so a field-order swap would be caught.
	sample := Sample{TimestampMicros: 5, Position: geo.Point3D{X: 10, Y: 20, Z: 30}}
	line, err := EncodeLine("ns", "id", sample)
	require.NoError(t, err)

	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	assert.InDelta(t, 20, decoded.Sample.Position.Y, 1e-6) // lat
	assert.InDelta(t, 10, decoded.Sample.Position.X, 1e-6) // lon
	assert.InDelta(t, 30, decoded.Sample.Position.Z, 1e-6) // alt
}

func TestDecodeLineRejectsWrongFieldCount(t *testing.T) {
	_, err := DecodeLine("1|ns|id|0|0|0|0")
	assert.Error(t, err)
}

func TestDecodeLineRejectsUnparseableFloat(t *testing.T) {
	_, err := DecodeLine("1|ns|id|not-a-float|0|0|4|null")
	assert.Error(t, err)
}

func TestDecodeLineToleratesPipeInsideMetadata(t *testing.T) {
	line := `1|ns|id|0.000000|0.000000|0.000000|14|{"note":"a|b"}`
	decoded, err := DecodeLine(line)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"note":"a|b"}`), decoded.Sample.Metadata)
}
