package dcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWhereEmptyQuery(t *testing.T) {
	where, args, err := buildWhere(Query{}, 1)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildWhereExactTag(t *testing.T) {
	q := NewQuery(NewQueryItem(nil, Exact("order_id", "o-1")))
	where, args, err := buildWhere(q, 1)
	require.NoError(t, err)
	assert.Contains(t, where, "tags @> ARRAY[$1]")
	require.Len(t, args, 1)
	assert.Equal(t, "order_id=o-1", args[0])
}

func TestBuildWhereKeyPresentAndEventTypes(t *testing.T) {
	q := NewQuery(NewQueryItem([]string{"OrderPlaced"}, KeyPresent("order_id")))
	where, args, err := buildWhere(q, 1)
	require.NoError(t, err)
	assert.Contains(t, where, "type = ANY($1::text[])")
	assert.Contains(t, where, "split_part(t,'=',1) = $2")
	require.Len(t, args, 2)
}

func TestBuildWhereDisjunction(t *testing.T) {
	q := NewQuery(
		NewQueryItem([]string{"A"}),
		NewQueryItem([]string{"B"}),
	)
	where, _, err := buildWhere(q, 1)
	require.NoError(t, err)
	assert.Contains(t, where, " OR ")
}

func TestBuildEventSelectAppliesCursorAndLimit(t *testing.T) {
	after := Cursor{Position: 5, TransactionID: 2}
	sql, args, err := buildEventSelect(QueryAll(), after, 10)
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY transaction_id, position")
	assert.Contains(t, sql, "LIMIT")
	assert.Contains(t, args, int64(2))
	assert.Contains(t, args, int64(5))
}
