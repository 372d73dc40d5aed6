package coldstate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spatiodb/spatio/internal/geo"
)

// fieldCount is the number of pipe-delimited fields a well-formed line
// carries: micros|namespace|object_id|lat|lon|alt|json_len|json_metadata.
const fieldCount = 8

// EncodeLine renders one trajectory sample as the on-disk line format.
// Field order is deliberately lat, lon, alt - not the in-memory Point3D
// order (x=lon, y=lat, z=alt). This on-disk order must be preserved
// verbatim, not "fixed". The returned string has no trailing newline;
// callers append one.
func EncodeLine(namespace, objectID string, s Sample) (string, error) {
	metaText := "null"
	if len(s.Metadata) > 0 {
		metaText = string(s.Metadata)
	}
	if strings.Contains(metaText, "\n") {
		return "", fmt.Errorf("coldstate: metadata must not contain a newline")
	}

	lat := strconv.FormatFloat(s.Position.Y, 'f', 6, 64)
	lon := strconv.FormatFloat(s.Position.X, 'f', 6, 64)
	alt := strconv.FormatFloat(s.Position.Z, 'f', 6, 64)

	return fmt.Sprintf("%d|%s|%s|%s|%s|%s|%d|%s",
		s.TimestampMicros, namespace, objectID, lat, lon, alt, len(metaText), metaText), nil
}

// DecodedLine is one successfully parsed cold-log line.
type DecodedLine struct {
	Namespace string
	ObjectID  string
	Sample    Sample
}

// DecodeLine parses one cold-log line. It returns an error for any field
// count mismatch or unparseable numeric field; callers treat that as "log
// and skip", never as fatal.
func DecodeLine(line string) (DecodedLine, error) {
	fields := strings.SplitN(line, "|", fieldCount)
	if len(fields) != fieldCount {
		return DecodedLine{}, fmt.Errorf("coldstate: expected %d fields, got %d", fieldCount, len(fields))
	}

	micros, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return DecodedLine{}, fmt.Errorf("coldstate: bad micros field: %w", err)
	}
	namespace := fields[1]
	objectID := fields[2]
	lat, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return DecodedLine{}, fmt.Errorf("coldstate: bad lat field: %w", err)
	}
	lon, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return DecodedLine{}, fmt.Errorf("coldstate: bad lon field: %w", err)
	}
	alt, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return DecodedLine{}, fmt.Errorf("coldstate: bad alt field: %w", err)
	}
	if _, err := strconv.Atoi(fields[6]); err != nil {
		return DecodedLine{}, fmt.Errorf("coldstate: bad json_len field: %w", err)
	}
	metaText := fields[7]

	var metadata []byte
	if metaText != "null" {
		metadata = []byte(metaText)
	}

	return DecodedLine{
		Namespace: namespace,
		ObjectID:  objectID,
		Sample: Sample{
			TimestampMicros: micros,
			Position:        geo.Point3D{X: lon, Y: lat, Z: alt},
			Metadata:        metadata,
		},
	}, nil
}
