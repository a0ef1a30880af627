package dcb

import "context"

// StateProjector folds the events matching Query into a state value,
// starting from InitialState. TransitionFn must be a pure function of
// (state, event) -> state; Project calls it once per matching event in
// (transaction_id, position) order.
type StateProjector struct {
	ID           string
	Query        Query
	InitialState any
	TransitionFn func(state any, event Event) any
}

// Project implements the read side of component C: it streams the
// union of every projector's query once, routes each event to every
// projector whose query matches it, and returns the final state per
// projector ID alongside the highest cursor observed — which callers
// use as the AfterCursor of a subsequent AppendCondition so the write
// is conditioned on "nothing relevant happened since I read".
func (es *eventStore) Project(ctx context.Context, projectors []StateProjector, after Cursor) (map[string]any, Cursor, error) {
	if len(projectors) == 0 {
		return nil, Cursor{}, NewInvalidInputError("Project", errNoProjectors)
	}
	for _, p := range projectors {
		if p.ID == "" {
			return nil, Cursor{}, NewInvalidInputError("Project", errEmptyProjectorID)
		}
		if p.TransitionFn == nil {
			return nil, Cursor{}, NewInvalidInputError("Project", errNilTransitionFn)
		}
		if err := validateQuery(p.Query); err != nil {
			return nil, Cursor{}, err
		}
	}

	union := unionQuery(projectors)
	events, err := es.Query(ctx, union, after)
	if err != nil {
		return nil, Cursor{}, err
	}

	states := make(map[string]any, len(projectors))
	for _, p := range projectors {
		states[p.ID] = p.InitialState
	}

	var maxCursor Cursor
	for _, e := range events {
		cur := cursorOf(e)
		if cur.After(maxCursor) {
			maxCursor = cur
		}
		for _, p := range projectors {
			if p.Query.Matches(e.Type, e.Tags) {
				states[p.ID] = p.TransitionFn(states[p.ID], e)
			}
		}
	}

	if maxCursor.IsZero() {
		maxCursor = after
	}
	return states, maxCursor, nil
}

// unionQuery flattens every projector's QueryItems into one Query so
// Project can satisfy every projector with a single pass over the log.
func unionQuery(projectors []StateProjector) Query {
	var items []QueryItem
	for _, p := range projectors {
		if p.Query.IsEmpty() {
			return QueryAll()
		}
		items = append(items, p.Query.Items...)
	}
	return Query{Items: items}
}
