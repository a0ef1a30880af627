package processor

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Manager owns one goroutine per registered Processor, started and
// stopped together. This replaces a design built on global processor
// runtimes: every Processor instance here is a plain value the
// Manager holds a reference to, not state reachable from a package
// singleton, so multiple engines can run in the same test binary
// without cross-talk.
type Manager struct {
	processors []*Processor
	log        zerolog.Logger
}

// NewManager builds an empty Manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "processor.manager").Logger()}
}

// Register adds p to the set the Manager will run.
func (m *Manager) Register(p *Processor) {
	m.processors = append(m.processors, p)
}

// Get returns the registered processor with the given id, if any, for
// the admin surface's pause/resume/reset/lag operations.
func (m *Manager) Get(id string) (*Processor, bool) {
	for _, p := range m.processors {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// All returns every registered processor, for admin listing.
func (m *Manager) All() []*Processor {
	return m.processors
}

// Run starts every registered processor and blocks until ctx is
// cancelled or one of them returns a non-context error, at which point
// every other processor is cancelled too.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.processors {
		p := p
		g.Go(func() error {
			m.log.Info().Str("processor_id", p.ID()).Msg("starting processor")
			err := p.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
