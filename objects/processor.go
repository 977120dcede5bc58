package objects

import (
	"context"
	"slices"

	"github.com/nestormc/nestor/errors"
)

// Processor executes actions on the objects of one owner.
type Processor interface {
	Name() string
	// Actions returns the action names applicable to o in its current state.
	Actions(o *Object) []string
	// Describe declares the parameters of a.
	Describe(a *Action) error
	// Execute performs a. It returns a progress handle for asynchronous
	// work, nil otherwise.
	Execute(ctx context.Context, a *Action) (*Progress, error)
}

// dispatcher guards a processor against actions that are not applicable to
// their target.
type dispatcher struct {
	Processor
}

func (d dispatcher) check(a *Action) error {
	if !slices.Contains(d.Processor.Actions(a.Target), a.Name) {
		return errors.ErrInvalidActionSpec()
	}
	return nil
}

func (d dispatcher) describe(a *Action) error {
	if err := d.check(a); err != nil {
		return err
	}
	return d.Processor.Describe(a)
}

func (d dispatcher) execute(ctx context.Context, a *Action) (*Progress, error) {
	if err := d.check(a); err != nil {
		return nil, err
	}
	if err := a.checkMandatory(); err != nil {
		return nil, err
	}
	return d.Processor.Execute(ctx, a)
}
