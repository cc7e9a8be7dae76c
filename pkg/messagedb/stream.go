package messagedb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StreamName is the parsed form of a "category:version-entityId" stream name.
type StreamName struct {
	Category string
	Version  string
	EntityID string
}

// String renders the canonical stream name.
func (s StreamName) String() string {
	return s.Category + ":" + s.Version + "-" + s.EntityID
}

// BuildStreamName assembles a stream name from its components. The category
// must not contain ':' or '-' and the version must not contain '-', otherwise
// the name could not be parsed back.
func BuildStreamName(category, version, entityID string) (string, error) {
	if category == "" || version == "" || entityID == "" {
		return "", fmt.Errorf("stream name components must be non-empty (category=%q version=%q entity=%q)", category, version, entityID)
	}
	if strings.ContainsAny(category, ":-") {
		return "", fmt.Errorf("category %q must not contain ':' or '-'", category)
	}
	if strings.Contains(version, "-") {
		return "", fmt.Errorf("version %q must not contain '-'", version)
	}
	return StreamName{Category: category, Version: version, EntityID: entityID}.String(), nil
}

// ParseStreamName splits a stream name on the first ':' and the first '-'.
// It is the inverse of BuildStreamName for all valid components.
func ParseStreamName(stream string) (StreamName, error) {
	catVer, entity, ok := strings.Cut(stream, "-")
	if !ok || entity == "" {
		return StreamName{}, fmt.Errorf("stream name %q has no entity id", stream)
	}
	category, version, ok := strings.Cut(catVer, ":")
	if !ok || category == "" || version == "" {
		return StreamName{}, fmt.Errorf("stream name %q has no category:version prefix", stream)
	}
	return StreamName{Category: category, Version: version, EntityID: entity}, nil
}

// CategoryOf returns the category portion of a stream name: everything before
// the first '-', including any ':version' suffix. Category reads match on
// this prefix.
func CategoryOf(stream string) string {
	category, _, _ := strings.Cut(stream, "-")
	return category
}

// GenerateThreadID returns a fresh RFC 4122 v4 UUID for a new session thread.
func GenerateThreadID() string {
	return uuid.NewString()
}
