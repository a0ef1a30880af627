package dcb

import (
	"strings"

	"go.jetify.com/typeid"
)

// NewCommandID generates a prefixed TypeID for a command invocation,
// e.g. "cmd_01h2xcejqtf2nbrexx3vqjhp41".
func NewCommandID() string {
	return newPrefixedID("cmd")
}

// NewProcessorRunID generates a prefixed TypeID for identifying a single
// processor tick in logs. The processor package does not call it.
func NewProcessorRunID() string {
	return newPrefixedID("run")
}

// NewIdempotencyToken generates a prefixed TypeID for callers that need
// an opaque client-supplied idempotency marker distinct from the
// tag-derived idempotency key used internally by AppendIf.
func NewIdempotencyToken() string {
	return newPrefixedID("idem")
}

func newPrefixedID(prefix string) string {
	tid, err := typeid.WithPrefix(prefix)
	if err != nil {
		tid, _ = typeid.WithPrefix("id")
	}
	return tid.String()
}

// sanitizePrefix normalizes a caller-supplied string into a valid
// TypeID prefix (lowercase ASCII, underscores, no leading/trailing or
// doubled underscores).
func sanitizePrefix(s string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	return strings.Trim(sanitized, "_")
}
