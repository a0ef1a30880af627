package command

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

type fakeStore struct {
	appendOutcome dcb.AppendOutcome
	appendErr     error
	lastEvents    []dcb.InputEvent
	lastCondition dcb.AppendCondition
}

func (f *fakeStore) Query(ctx context.Context, q dcb.Query, after dcb.Cursor) ([]dcb.Event, error) {
	return nil, nil
}
func (f *fakeStore) QueryLimited(ctx context.Context, q dcb.Query, after dcb.Cursor, limit int) ([]dcb.Event, error) {
	return nil, nil
}
func (f *fakeStore) QueryStream(ctx context.Context, q dcb.Query, after dcb.Cursor) (<-chan dcb.Event, <-chan error) {
	return nil, nil
}
func (f *fakeStore) AppendIf(ctx context.Context, events []dcb.InputEvent, condition dcb.AppendCondition) (dcb.AppendOutcome, error) {
	return f.AppendWithinTx(ctx, events, condition, nil)
}
func (f *fakeStore) Append(ctx context.Context, events []dcb.InputEvent) (dcb.AppendOutcome, error) {
	return f.AppendIf(ctx, events, dcb.AppendCondition{})
}
func (f *fakeStore) AppendWithinTx(ctx context.Context, events []dcb.InputEvent, condition dcb.AppendCondition, audit func(ctx context.Context, tx pgx.Tx, outcome dcb.AppendOutcome) error) (dcb.AppendOutcome, error) {
	f.lastEvents = events
	f.lastCondition = condition
	if f.appendErr != nil {
		return f.appendOutcome, f.appendErr
	}
	if audit != nil {
		if err := audit(ctx, nil, f.appendOutcome); err != nil {
			return dcb.AppendOutcome{}, err
		}
	}
	return f.appendOutcome, nil
}
func (f *fakeStore) Project(ctx context.Context, projectors []dcb.StateProjector, after dcb.Cursor) (map[string]any, dcb.Cursor, error) {
	return nil, dcb.Cursor{}, nil
}
func (f *fakeStore) Pool() *pgxpool.Pool { return nil }

func TestExecuteReturnsInvalidInputForUnknownCommand(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(&fakeStore{}, r)

	_, err := e.Execute(context.Background(), Command{Type: "Unknown"})

	require.Error(t, err)
	assert.True(t, dcb.IsInvalidInput(err))
}

func TestExecuteWrapsHandlerError(t *testing.T) {
	r := NewRegistry()
	r.Register("Fail", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return nil, nil, errors.New("boom")
	})
	e := NewExecutor(&fakeStore{}, r)

	_, err := e.Execute(context.Background(), Command{Type: "Fail"})

	require.Error(t, err)
	assert.True(t, dcb.IsHandlerFailure(err))
}

func TestExecuteNoEventsIsSuccessWithoutAppend(t *testing.T) {
	r := NewRegistry()
	r.Register("Noop", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return nil, nil, nil
	})
	store := &fakeStore{}
	e := NewExecutor(store, r)

	result, err := e.Execute(context.Background(), Command{Type: "Noop"})

	require.NoError(t, err)
	assert.False(t, result.Idempotent)
	assert.Nil(t, store.lastEvents)
}

func TestExecuteAppendsHandlerEvents(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return []dcb.InputEvent{{Type: "OrderPlaced"}}, nil, nil
	})
	store := &fakeStore{appendOutcome: dcb.AppendOutcome{Cursor: dcb.Cursor{Position: 1, TransactionID: 1}}}
	e := NewExecutor(store, r)

	result, err := e.Execute(context.Background(), Command{Type: "PlaceOrder"})

	require.NoError(t, err)
	assert.False(t, result.Idempotent)
	assert.Equal(t, int64(1), result.Outcome.Cursor.Position)
	require.Len(t, store.lastEvents, 1)
	assert.Equal(t, "OrderPlaced", store.lastEvents[0].Type)
}

func TestExecuteConvertsIdempotencyViolationToSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return []dcb.InputEvent{{Type: "OrderPlaced"}}, nil, nil
	})
	store := &fakeStore{
		appendOutcome: dcb.AppendOutcome{Idempotent: true},
		appendErr:     dcb.NewIdempotencyViolationError("AppendIf", errors.New("already committed")),
	}
	e := NewExecutor(store, r)

	result, err := e.Execute(context.Background(), Command{Type: "PlaceOrder"})

	require.NoError(t, err)
	assert.True(t, result.Idempotent)
}

func TestExecuteRejectsDuplicateWhenConfigured(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return []dcb.InputEvent{{Type: "OrderPlaced"}}, nil, nil
	})
	store := &fakeStore{
		appendErr: dcb.NewIdempotencyViolationError("AppendIf", errors.New("already committed")),
	}
	e := NewExecutor(store, r, WithRejectOnDuplicate([]string{"PlaceOrder"}))

	_, err := e.Execute(context.Background(), Command{Type: "PlaceOrder"})

	require.Error(t, err)
	assert.True(t, dcb.IsIdempotencyViolation(err))
}

func TestExecutePropagatesConcurrencyViolation(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
		return []dcb.InputEvent{{Type: "OrderPlaced"}}, nil, nil
	})
	store := &fakeStore{
		appendErr: dcb.NewConcurrencyViolationError("AppendIf", errors.New("conflict")),
	}
	e := NewExecutor(store, r)

	_, err := e.Execute(context.Background(), Command{Type: "PlaceOrder"})

	require.Error(t, err)
	assert.True(t, dcb.IsConcurrencyViolation(err))
}
