// Package command implements the command executor (component D): it
// invokes a registered handler and appends the handler's events through
// the DCB engine. The handler's state reads go through the EventStore
// on their own and are not part of the append transaction; only the
// append condition check, the insert and the audit row share one
// transaction.
package command

import (
	"context"
	"time"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

// Command is a single command invocation. Metadata is opaque to the
// executor and carried through to the command audit row when
// persistence is enabled.
type Command struct {
	ID       string
	Type     string
	Data     []byte
	Metadata map[string]any
}

// Handler projects whatever state it needs from store and returns the
// events the command should append, or an error to abort the command
// without appending anything. Handlers must not call AppendIf
// themselves — the executor owns the append so it can apply the
// registry's idempotency and concurrency policy uniformly.
type Handler func(ctx context.Context, store dcb.EventStore, cmd Command) ([]dcb.InputEvent, *dcb.AppendCondition, error)

// Result is the executor's explicit outcome for a command, returned
// instead of relying on callers to inspect error types.
type Result struct {
	Outcome   dcb.AppendOutcome
	Idempotent bool
	Duration  time.Duration
}
