// Package pipeline provides the ordered-execution framework shared by the
// validation and generation state machines. Handlers are registered as
// descriptors carrying an integer order and a set of cheap predicate
// filters; Execute walks the sorted list and invokes every handler whose
// filters all pass. The pipeline never hard-stops on a resolved or rejected
// context: downstream handlers must observe the terminal state themselves
// (usually via a filter) so they can no-op instead of being skipped blindly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrDescriptor reports a misconfigured descriptor at build time.
var ErrDescriptor = errors.New("pipeline: invalid descriptor")

// Handler processes a context value of type C.
type Handler[C any] interface {
	Handle(ctx context.Context, c *C) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[C any] func(ctx context.Context, c *C) error

// Handle calls f.
func (f HandlerFunc[C]) Handle(ctx context.Context, c *C) error { return f(ctx, c) }

// Filter is a pure predicate over the context. Filters must be cheap; they
// run for every descriptor on every invocation.
type Filter[C any] func(c *C) bool

// Descriptor registers a handler against the pipeline. Exactly one of
// Handler (shared singleton) or Factory (one instance per invocation, for
// handlers needing per-call collaborators) must be set.
type Descriptor[C any] struct {
	Name    string
	Order   int
	Filters []Filter[C]

	Handler Handler[C]
	Factory func() (Handler[C], error)
}

// Pipeline is an immutable, ordered handler chain built once at startup.
type Pipeline[C any] struct {
	descriptors []Descriptor[C]
}

// New validates and sorts the descriptors. Lower orders run first; ties are
// broken by registration order. A descriptor whose factory cannot build its
// handler (for example, a missing collaborator) fails here, at build time,
// rather than at invocation time.
func New[C any](descriptors ...Descriptor[C]) (*Pipeline[C], error) {
	sorted := make([]Descriptor[C], len(descriptors))
	copy(sorted, descriptors)

	for _, d := range sorted {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: descriptor has no name", ErrDescriptor)
		}
		if (d.Handler == nil) == (d.Factory == nil) {
			return nil, fmt.Errorf("%w: %s must set exactly one of Handler or Factory", ErrDescriptor, d.Name)
		}
		if d.Factory != nil {
			if _, err := d.Factory(); err != nil {
				return nil, fmt.Errorf("pipeline: building %s: %w", d.Name, err)
			}
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	return &Pipeline[C]{descriptors: sorted}, nil
}

// Execute runs every matching handler in order. A handler error aborts the
// run; marking the context rejected or resolved does not, by design.
func (p *Pipeline[C]) Execute(ctx context.Context, c *C) error {
	for _, d := range p.descriptors {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !matches(d.Filters, c) {
			continue
		}

		handler := d.Handler
		if handler == nil {
			h, err := d.Factory()
			if err != nil {
				return fmt.Errorf("pipeline: building %s: %w", d.Name, err)
			}
			handler = h
		}

		if err := handler.Handle(ctx, c); err != nil {
			return fmt.Errorf("pipeline: %s: %w", d.Name, err)
		}
	}
	return nil
}

func matches[C any](filters []Filter[C], c *C) bool {
	for _, f := range filters {
		if !f(c) {
			return false
		}
	}
	return true
}
