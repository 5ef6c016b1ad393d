package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CommandHandler processes a targeted command and returns a reply payload.
type CommandHandler func(ctx context.Context, msg Message) (any, error)

// CommandBus implements targeted request/reply routed by
// TargetServiceID, the ROUTER/DEALER analogue of §4.1.
type CommandBus struct {
	mu       sync.Mutex
	handlers map[string]CommandHandler // keyed by TargetServiceID
}

// NewCommandBus constructs an empty CommandBus.
func NewCommandBus() *CommandBus {
	return &CommandBus{handlers: make(map[string]CommandHandler)}
}

// RegisterHandler binds serviceID to h. A service registers exactly one
// handler for the lifetime of its Service.Start.
func (c *CommandBus) RegisterHandler(serviceID string, h CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[serviceID] = h
}

// Unregister removes serviceID's handler, called from Service.Stop.
func (c *CommandBus) Unregister(serviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, serviceID)
}

// Send delivers cmd to cmd.TargetServiceID and blocks for its reply or
// ctx cancellation. Looking up the handler is retried with a bounded
// backoff: a target service can still be mid-Start (registering its
// handler) when the first send lands, and the send has not been
// delivered yet, so retrying here cannot double-execute a command.
func (c *CommandBus) Send(ctx context.Context, cmd Message) (any, error) {
	h, err := c.resolveHandler(ctx, cmd.TargetServiceID)
	if err != nil {
		return nil, err
	}

	type result struct {
		reply any
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		reply, err := h(ctx, cmd)
		resCh <- result{reply, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-resCh:
		return r.reply, r.err
	}
}

// resolveHandler looks up targetServiceID's handler, retrying with a
// bounded exponential backoff (max 500ms elapsed) when it is not yet
// registered.
func (c *CommandBus) resolveHandler(ctx context.Context, targetServiceID string) (CommandHandler, error) {
	var h CommandHandler
	lookup := func() error {
		c.mu.Lock()
		handler, ok := c.handlers[targetServiceID]
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("bus: no command handler registered for %q", targetServiceID)
		}
		h = handler
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = 500 * time.Millisecond
	if err := backoff.Retry(lookup, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return h, nil
}
