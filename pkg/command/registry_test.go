package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

func noopHandler(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error) {
	return nil, nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", noopHandler)

	h, ok := r.Lookup("PlaceOrder")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Lookup("Unknown")
	assert.False(t, ok)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", noopHandler)

	assert.Panics(t, func() {
		r.Register("PlaceOrder", noopHandler)
	})
}

func TestRegisterPanicsOnEmptyType(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.Register("", noopHandler)
	})
}

func TestTypesListsRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("PlaceOrder", noopHandler)
	r.Register("CancelOrder", noopHandler)

	assert.ElementsMatch(t, []string{"PlaceOrder", "CancelOrder"}, r.Types())
}
