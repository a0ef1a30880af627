package dcb

import (
	"fmt"
	"sort"
	"strings"
)

// EncodeTag renders a Tag in the stored "key=value" wire form (spec §6).
func EncodeTag(t Tag) string {
	return t.Key + "=" + t.Value
}

// EncodeTags renders a tag slice into sorted "key=value" strings
// suitable for a Postgres TEXT[] column, sorted for deterministic
// containment comparisons.
func EncodeTags(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = EncodeTag(t)
	}
	sort.Strings(out)
	return out
}

// DecodeTag parses a single "key=value" string using the stable
// indexOf('=')-then-split rule from spec §6, so values may themselves
// contain '='.
func DecodeTag(s string) (Tag, error) {
	idx := strings.IndexByte(s, '=')
	if idx <= 0 {
		return Tag{}, fmt.Errorf("malformed tag %q: missing '='", s)
	}
	return Tag{Key: s[:idx], Value: s[idx+1:]}, nil
}

// DecodeTags parses a stored TEXT[] tag array back into Tags.
func DecodeTags(arr []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(arr))
	for _, s := range arr {
		t, err := DecodeTag(s)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// validateTagKV checks the non-empty-ASCII invariant from spec §3.
func validateTagKV(k, v string) error {
	if k == "" {
		return fmt.Errorf("empty tag key")
	}
	if v == "" {
		return fmt.Errorf("empty value for tag key %q", k)
	}
	if !isASCII(k) || !isASCII(v) {
		return fmt.Errorf("tag %q=%q contains non-ASCII characters", k, v)
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// validateEvent validates a single staged event against spec §3's
// invariants (non-empty type ≤64 bytes, non-empty ASCII tag keys/values).
func validateEvent(e InputEvent, index int) error {
	if e.Type == "" {
		return NewInvalidInputError("validateEvent", fmt.Errorf("event %d: empty type", index))
	}
	if len(e.Type) > 64 {
		return NewInvalidInputError("validateEvent", fmt.Errorf("event %d: type %q exceeds 64 bytes", index, e.Type))
	}
	for j, t := range e.Tags {
		if err := validateTagKV(t.Key, t.Value); err != nil {
			return NewInvalidInputError("validateEvent", fmt.Errorf("event %d tag %d: %w", index, j, err))
		}
	}
	return nil
}

// validateQuery validates every tag predicate embedded in a query.
func validateQuery(q Query) error {
	for i, item := range q.Items {
		for j, p := range item.Tags {
			switch p.Kind {
			case TagKeyPresent:
				if p.Key == "" {
					return NewInvalidInputError("validateQuery", fmt.Errorf("item %d predicate %d: empty key_present key", i, j))
				}
			case TagAnyOfKey:
				if len(p.Keys) == 0 {
					return NewInvalidInputError("validateQuery", fmt.Errorf("item %d predicate %d: empty any_of_key set", i, j))
				}
			case TagExact:
				if err := validateTagKV(p.Key, p.Value); err != nil {
					return NewInvalidInputError("validateQuery", fmt.Errorf("item %d predicate %d: %w", i, j, err))
				}
			default:
				return NewInvalidInputError("validateQuery", fmt.Errorf("item %d predicate %d: unknown predicate kind", i, j))
			}
		}
		for _, et := range item.EventTypes {
			if et == "" {
				return NewInvalidInputError("validateQuery", fmt.Errorf("item %d: empty event type", i))
			}
		}
	}
	return nil
}

// matchesPredicate reports whether a predicate accepts a decoded tag set.
// Used by in-process projector filtering and by tests; the SQL path in
// sqlbuild.go implements the same semantics as a WHERE clause.
func matchesPredicate(p TagPredicate, tags []Tag) bool {
	switch p.Kind {
	case TagKeyPresent:
		for _, t := range tags {
			if t.Key == p.Key {
				return true
			}
		}
		return false
	case TagAnyOfKey:
		keys := make(map[string]struct{}, len(p.Keys))
		for _, k := range p.Keys {
			keys[k] = struct{}{}
		}
		for _, t := range tags {
			if _, ok := keys[t.Key]; ok {
				return true
			}
		}
		return false
	case TagExact:
		for _, t := range tags {
			if t.Key == p.Key && t.Value == p.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MatchesQueryItem reports whether an event matches a single QueryItem:
// its type is in EventTypes (or EventTypes is empty) AND it satisfies
// every tag predicate.
func MatchesQueryItem(item QueryItem, eventType string, tags []Tag) bool {
	if len(item.EventTypes) > 0 {
		found := false
		for _, t := range item.EventTypes {
			if t == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, p := range item.Tags {
		if !matchesPredicate(p, tags) {
			return false
		}
	}
	return true
}

// Matches reports whether an event matches the Query: at least one
// QueryItem accepts it.
func (q Query) Matches(eventType string, tags []Tag) bool {
	for _, item := range q.Items {
		if MatchesQueryItem(item, eventType, tags) {
			return true
		}
	}
	return false
}
