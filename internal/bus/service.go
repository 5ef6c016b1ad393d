package bus

import "context"

// Service is implemented by every one of the five AIPerf roles and by
// the bus's own proxy goroutines. It replaces the hooks/mixin chains a
// dynamic-dispatch service framework would otherwise need: a single
// interface plus a caller-held cleanup stack.
type Service interface {
	// Init wires the service to its dependencies; it must not block or
	// start background work.
	Init(ctx context.Context, deps Deps) error
	// Start begins the service's background event loop. It returns once
	// the loop goroutine has been launched, not once it exits.
	Start(ctx context.Context) error
	// Stop drains and halts the service's background work, in reverse
	// order of any cleanup hooks it registered during Start.
	Stop(ctx context.Context) error
}

// Deps bundles the shared bus handles every service is constructed with.
type Deps struct {
	Events  *EventBus
	Command *CommandBus
	Credits *WorkQueue
	Records *WorkQueue
}

// CleanupStack runs registered cleanup functions in LIFO order, the
// structural form of the scoped-acquisition resource lifecycle required
// by §5: every Service accumulates its teardown steps here during Init
// and Start rather than hand-ordering them at the Stop call site.
type CleanupStack struct {
	fns []func(context.Context) error
}

// Push registers fn to run before any previously pushed fn.
func (c *CleanupStack) Push(fn func(context.Context) error) {
	c.fns = append(c.fns, fn)
}

// Unwind runs every registered fn in reverse order, collecting the first
// error but still attempting every step.
func (c *CleanupStack) Unwind(ctx context.Context) error {
	var first error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	c.fns = nil
	return first
}
