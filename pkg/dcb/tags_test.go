package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTagRoundtrip(t *testing.T) {
	tags := []Tag{{Key: "order_id", Value: "o-42"}, {Key: "customer_id", Value: "c-7"}}
	encoded := EncodeTags(tags)
	assert.Equal(t, []string{"customer_id=c-7", "order_id=o-42"}, encoded)

	decoded, err := DecodeTags(encoded)
	require.NoError(t, err)
	assert.ElementsMatch(t, tags, decoded)
}

func TestDecodeTagValueContainingEquals(t *testing.T) {
	tag, err := DecodeTag("filter=a=b")
	require.NoError(t, err)
	assert.Equal(t, Tag{Key: "filter", Value: "a=b"}, tag)
}

func TestDecodeTagMalformed(t *testing.T) {
	_, err := DecodeTag("no-equals-sign")
	assert.Error(t, err)

	_, err = DecodeTag("=missing-key")
	assert.Error(t, err)
}

func TestMatchesPredicateKeyPresent(t *testing.T) {
	tags := []Tag{{Key: "order_id", Value: "o-1"}}
	assert.True(t, matchesPredicate(KeyPresent("order_id"), tags))
	assert.False(t, matchesPredicate(KeyPresent("customer_id"), tags))
}

func TestMatchesPredicateAnyOfKey(t *testing.T) {
	tags := []Tag{{Key: "customer_id", Value: "c-1"}}
	assert.True(t, matchesPredicate(AnyOfKey("order_id", "customer_id"), tags))
	assert.False(t, matchesPredicate(AnyOfKey("order_id", "product_id"), tags))
}

func TestMatchesPredicateExact(t *testing.T) {
	tags := []Tag{{Key: "status", Value: "open"}}
	assert.True(t, matchesPredicate(Exact("status", "open"), tags))
	assert.False(t, matchesPredicate(Exact("status", "closed"), tags))
}

func TestQueryMatchesIsDisjunctionOfConjunctions(t *testing.T) {
	q := NewQuery(
		NewQueryItem([]string{"OrderPlaced"}, Exact("order_id", "o-1")),
		NewQueryItem([]string{"OrderCancelled"}, Exact("order_id", "o-1")),
	)
	assert.True(t, q.Matches("OrderPlaced", []Tag{{Key: "order_id", Value: "o-1"}}))
	assert.True(t, q.Matches("OrderCancelled", []Tag{{Key: "order_id", Value: "o-1"}}))
	assert.False(t, q.Matches("OrderPlaced", []Tag{{Key: "order_id", Value: "o-2"}}))
	assert.False(t, q.Matches("OrderShipped", []Tag{{Key: "order_id", Value: "o-1"}}))
}

func TestValidateEventRejectsEmptyType(t *testing.T) {
	err := validateEvent(InputEvent{Type: "", Tags: nil}, 0)
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}

func TestValidateQueryRejectsEmptyAnyOfKey(t *testing.T) {
	q := NewQuery(NewQueryItem(nil, TagPredicate{Kind: TagAnyOfKey}))
	err := validateQuery(q)
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
}
