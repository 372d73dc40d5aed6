// Package objectkey builds and parses the composite key that identifies a
// tracked object across the hot state, the spatial index, and the cold log.
package objectkey

import (
	"fmt"
	"strings"
)

// Separator is the two-byte delimiter joining namespace and object id.
// Neither component may contain it.
const Separator = "::"

// Make builds the composite key "namespace::object_id".
func Make(namespace, objectID string) string {
	return namespace + Separator + objectID
}

// ValidComponent reports whether a namespace or object id is safe to embed
// in a composite key and a cold-log line: it must not contain the
// separator or the log's field delimiter.
func ValidComponent(s string) bool {
	return !strings.Contains(s, Separator) && !strings.Contains(s, "|")
}

// Validate returns an error if namespace or objectID cannot be safely
// combined into a composite key.
func Validate(namespace, objectID string) error {
	if !ValidComponent(namespace) {
		return fmt.Errorf("namespace %q contains a reserved separator", namespace)
	}
	if !ValidComponent(objectID) {
		return fmt.Errorf("object id %q contains a reserved separator", objectID)
	}
	return nil
}

// Split reverses Make, returning the namespace and object id. Ok is false
// if key does not contain the separator.
func Split(key string) (namespace, objectID string, ok bool) {
	idx := strings.Index(key, Separator)
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+len(Separator):], true
}

// Namespace returns the namespace prefix of a composite key, or "" if the
// key is malformed.
func Namespace(key string) string {
	ns, _, ok := Split(key)
	if !ok {
		return ""
	}
	return ns
}
