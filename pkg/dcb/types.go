// Package dcb implements the event log store, the DCB (Dynamic
// Consistency Boundary) append engine, and the streaming projection
// engine described by the system's data model.
package dcb

import "time"

type (
	// Tag is a key-value pair attached to an event for querying.
	// Both Key and Value must be non-empty ASCII; the same key may
	// appear more than once on a single event.
	Tag struct {
		Key   string
		Value string
	}

	// TagPredicateKind distinguishes the three ways a tag predicate
	// can match an event's tag set.
	TagPredicateKind int

	// TagPredicate is one conjunctive clause of a QueryItem's tag
	// condition. Exactly one of its fields is meaningful, selected by
	// Kind.
	TagPredicate struct {
		Kind TagPredicateKind

		// Key is used by KeyPresent and Exact.
		Key string
		// Value is used by Exact.
		Value string
		// Keys is used by AnyOfKey.
		Keys []string
	}

	// QueryItem is one disjunct of a Query: an event matches it when
	// its type is in EventTypes (or EventTypes is empty, matching any
	// type) AND it satisfies every predicate in Tags.
	QueryItem struct {
		EventTypes []string
		Tags       []TagPredicate
	}

	// Query is the disjunction of its Items: an event matches the
	// Query iff it matches at least one Item.
	Query struct {
		Items []QueryItem
	}

	// Cursor names a point in the event log "after which" behavior is
	// evaluated. A zero Cursor (Position == 0) means "empty log".
	Cursor struct {
		Position      int64
		TransactionID int64
		OccurredAt    time.Time
	}

	// AppendCondition guards a conditional append. See AppendIf and
	// AppendWithinTx in append.go for the exact semantics of each field.
	AppendCondition struct {
		FailIfEventsMatch Query
		AfterCursor       Cursor
		Idempotency       *Query
	}

	// InputEvent is an event staged for insertion. Position,
	// TransactionID and OccurredAt are assigned atomically at commit.
	InputEvent struct {
		Type string
		Tags []Tag
		Data []byte
	}

	// Event is a persisted, immutable event.
	Event struct {
		Type          string
		Tags          []Tag
		Data          []byte
		TransactionID int64
		Position      int64
		OccurredAt    time.Time
	}
)

const (
	// TagKeyPresent matches when any event tag has the given key,
	// regardless of value.
	TagKeyPresent TagPredicateKind = iota
	// TagAnyOfKey matches when any event tag has a key in the given set.
	TagAnyOfKey
	// TagExact matches when an event tag equals the given key/value pair.
	TagExact
)

// KeyPresent builds a "some tag has key k" predicate.
func KeyPresent(k string) TagPredicate {
	return TagPredicate{Kind: TagKeyPresent, Key: k}
}

// AnyOfKey builds a "some tag has a key in K" predicate.
func AnyOfKey(keys ...string) TagPredicate {
	return TagPredicate{Kind: TagAnyOfKey, Keys: keys}
}

// Exact builds a "some tag equals (k,v)" predicate.
func Exact(k, v string) TagPredicate {
	return TagPredicate{Kind: TagExact, Key: k, Value: v}
}

// NewQueryItem builds a QueryItem matching eventTypes (empty = any
// type) conjoined with tags (empty = any tags).
func NewQueryItem(eventTypes []string, tags ...TagPredicate) QueryItem {
	return QueryItem{EventTypes: eventTypes, Tags: tags}
}

// NewQuery builds a Query from one or more QueryItems, combined by OR.
func NewQuery(items ...QueryItem) Query {
	return Query{Items: items}
}

// QueryAll returns a Query matching every event in the log.
func QueryAll() Query {
	return Query{Items: []QueryItem{{}}}
}

// IsEmpty reports whether q has no items, i.e. matches nothing.
func (q Query) IsEmpty() bool {
	return len(q.Items) == 0
}

// IsZero reports whether the cursor names the start of an empty log.
func (c Cursor) IsZero() bool {
	return c.Position == 0
}

// After reports whether c names a point strictly after other, ordered
// by (TransactionID, Position) as required by the commit-consistent
// stream ordering rule.
func (c Cursor) After(other Cursor) bool {
	if c.TransactionID != other.TransactionID {
		return c.TransactionID > other.TransactionID
	}
	return c.Position > other.Position
}

// cursorOf returns the Cursor naming the position of e.
func cursorOf(e Event) Cursor {
	return Cursor{Position: e.Position, TransactionID: e.TransactionID, OccurredAt: e.OccurredAt}
}
