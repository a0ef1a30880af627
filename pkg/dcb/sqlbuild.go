package dcb

import (
	"fmt"
	"strings"
)

// buildWhere translates q into a SQL WHERE fragment (without the
// leading "WHERE") and its positional args, starting numbering at
// argStart. Each QueryItem becomes a parenthesized AND-clause; items
// are OR-ed together, mirroring the disjunction-of-conjunctions shape
// of Query.
//
// Tag predicates compile against the `tags TEXT[]` column, whose
// entries are "key=value" strings (see tags.go):
//
//	key_present(k)    -> EXISTS (SELECT 1 FROM unnest(tags) t WHERE split_part(t,'=',1) = k)
//	any_of_key(K...)  -> EXISTS (SELECT 1 FROM unnest(tags) t WHERE split_part(t,'=',1) = ANY(K))
//	exact(k,v)        -> tags @> ARRAY['k=v']
func buildWhere(q Query, argStart int) (string, []any, error) {
	if q.IsEmpty() {
		return "", nil, nil
	}
	argIdx := argStart
	var orClauses []string
	var args []any

	for _, item := range q.Items {
		var andClauses []string

		if len(item.EventTypes) > 0 {
			andClauses = append(andClauses, fmt.Sprintf("type = ANY($%d::text[])", argIdx))
			args = append(args, item.EventTypes)
			argIdx++
		}

		for _, p := range item.Tags {
			switch p.Kind {
			case TagKeyPresent:
				andClauses = append(andClauses,
					fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(tags) t WHERE split_part(t,'=',1) = $%d)", argIdx))
				args = append(args, p.Key)
				argIdx++
			case TagAnyOfKey:
				andClauses = append(andClauses,
					fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(tags) t WHERE split_part(t,'=',1) = ANY($%d::text[]))", argIdx))
				args = append(args, p.Keys)
				argIdx++
			case TagExact:
				andClauses = append(andClauses, fmt.Sprintf("tags @> ARRAY[$%d]::text[]", argIdx))
				args = append(args, EncodeTag(Tag{Key: p.Key, Value: p.Value}))
				argIdx++
			default:
				return "", nil, fmt.Errorf("unknown tag predicate kind %d", p.Kind)
			}
		}

		if len(andClauses) == 0 {
			// An item with no constraints matches everything; short-circuit
			// the whole disjunction to "true" rather than emit "()".
			return "TRUE", nil, nil
		}
		orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
	}

	return "(" + strings.Join(orClauses, " OR ") + ")", args, nil
}

// buildEventSelect builds a full SELECT against the events table
// honoring q and the (transaction_id, position) > after ordering rule.
// limit <= 0 means unbounded.
func buildEventSelect(q Query, after Cursor, limit int) (string, []any, error) {
	var clauses []string
	var args []any
	argIdx := 1

	where, qargs, err := buildWhere(q, argIdx)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		clauses = append(clauses, where)
		args = append(args, qargs...)
		argIdx += len(qargs)
	}

	if !after.IsZero() {
		clauses = append(clauses, fmt.Sprintf("(transaction_id, position) > ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, after.TransactionID, after.Position)
		argIdx += 2
	}

	sb := strings.Builder{}
	sb.WriteString("SELECT type, tags, data, transaction_id, position, occurred_at FROM events")
	if len(clauses) > 0 {
		sb.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	sb.WriteString(" ORDER BY transaction_id, position")
	if limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", argIdx))
		args = append(args, limit)
	}
	return sb.String(), args, nil
}

// buildExistsQuery builds a "SELECT EXISTS(...)" check used by
// AppendWithinTx to test whether any event matches q at all
// (regardless of cursor), since CONCURRENCY_VIOLATION is evaluated
// against the full committed log, never filtered to a snapshot.
func buildExistsQuery(q Query) (string, []any, error) {
	where, args, err := buildWhere(q, 1)
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "SELECT EXISTS(SELECT 1 FROM events)", nil, nil
	}
	return "SELECT EXISTS(SELECT 1 FROM events WHERE " + where + ")", args, nil
}
