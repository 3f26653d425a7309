package display

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Bus is the single mutual-exclusion token guarding the shared display
// control channel. The poller and the write serializer must hold the same
// Bus for every transaction against the control surface.
type Bus struct {
	sem *semaphore.Weighted
}

// NewBus creates a bus token with one permit.
func NewBus() *Bus {
	return &Bus{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the token is held or ctx is done.
func (b *Bus) Acquire(ctx context.Context) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring bus: %w", err)
	}
	return nil
}

// Release returns the token.
func (b *Bus) Release() {
	b.sem.Release(1)
}

// Do runs fn while holding the token.
func (b *Bus) Do(ctx context.Context, fn func() error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}
