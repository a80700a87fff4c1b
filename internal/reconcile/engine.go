// =============================================================================
// Billing Reconciler - Reconciliation Engine
// =============================================================================
//
// The Engine binds the pure ruleset to one catalog. It holds no mutable
// state, so a single Engine can serve any number of goroutines as long as
// each call works on its own Invoice value.
//
// =============================================================================

package reconcile

import (
	"github.com/ginjaninja78/billing-reconciler/internal/catalog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine applies recomputation, corrections and imports against a registry.
type Engine struct {
	registry *catalog.Registry
	newID    func() string
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator replaces the uuid generator used for lines added by
// corrections.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an engine over reg.
func NewEngine(reg *catalog.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		newID:    uuid.NewString,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the catalog the engine reconciles against.
func (e *Engine) Registry() *catalog.Registry {
	return e.registry
}

// Recompute is Recompute bound to the engine's registry.
func (e *Engine) Recompute(inv Invoice) Invoice {
	return Recompute(inv, e.registry)
}

// Correct applies c to a copy of inv and recomputes it.
//
// RETURNS:
//   - The corrected, recomputed invoice on success.
//   - inv unchanged and a *PreconditionError when the correction cannot be
//     applied (missing line, wrong line kind, unknown code, imported invoice).
func (e *Engine) Correct(inv Invoice, c Correction) (Invoice, error) {
	if inv.State == StateImported {
		return inv, precondition(c.Name(), &inv, "", ErrInvoiceImported, "")
	}

	work := inv.Clone()
	env := &applyEnv{reg: e.registry, newID: e.newID}
	if err := c.apply(&work, env); err != nil {
		e.logger.Debug().Err(err).Str("invoice", inv.ID).Str("correction", c.Name()).Msg("Correction rejected")
		return inv, err
	}

	out := Recompute(work, e.registry)
	e.logger.Debug().
		Str("invoice", out.ID).
		Str("correction", c.Name()).
		Strs("anomalies", out.Anomalies.Strings()).
		Str("state", string(out.State)).
		Msg("Correction applied")
	return out, nil
}

// CorrectAll applies corrections in order, stopping at the first failure.
// On failure the invoice as it stood before that correction is returned.
func (e *Engine) CorrectAll(inv Invoice, corrections ...Correction) (Invoice, error) {
	for _, c := range corrections {
		next, err := e.Correct(inv, c)
		if err != nil {
			return inv, err
		}
		inv = next
	}
	return inv, nil
}

// Import recomputes inv and moves it to the imported state when it passes
// the import gate. On failure inv is returned unchanged.
func (e *Engine) Import(inv Invoice) (Invoice, error) {
	if inv.State == StateImported {
		return inv, nil
	}

	out, err := Import(Recompute(inv, e.registry))
	if err != nil {
		e.logger.Debug().Err(err).Str("invoice", inv.ID).Msg("Import rejected")
		return inv, err
	}

	e.logger.Info().Str("invoice", out.ID).Str("doctor", out.DoctorID).Msg("Invoice imported")
	return out, nil
}
