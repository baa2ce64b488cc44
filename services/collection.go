// Package services provides the service registry that plugins contribute to
// during startup. A Collection is an ordered list of fx options; the host and
// the sub-process runner turn it into an fx application.
package services

import (
	"sync"

	"go.uber.org/fx"
)

// Collection accumulates service registrations.
// It is safe for concurrent use, but hooks are normally called sequentially.
type Collection struct {
	mu      sync.Mutex
	options []fx.Option
}

// New creates an empty collection.
func New() *Collection {
	return &Collection{}
}

// Provide registers constructors with the container.
//
// Example:
//
//	services.Provide(NewCache, NewStore)
func (c *Collection) Provide(constructors ...any) *Collection {
	return c.Add(fx.Provide(constructors...))
}

// Supply registers already-built values with the container.
func (c *Collection) Supply(values ...any) *Collection {
	return c.Add(fx.Supply(values...))
}

// Invoke registers functions that run when the container is built.
// Invoked functions are how eager services hook into fx.Lifecycle.
func (c *Collection) Invoke(funcs ...any) *Collection {
	return c.Add(fx.Invoke(funcs...))
}

// Decorate registers decorators for services provided elsewhere.
func (c *Collection) Decorate(decorators ...any) *Collection {
	return c.Add(fx.Decorate(decorators...))
}

// Add appends raw fx options.
func (c *Collection) Add(opts ...fx.Option) *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = append(c.options, opts...)
	return c
}

// Len returns the number of registrations.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.options)
}

// Options returns the registrations as a single fx option.
func (c *Collection) Options() fx.Option {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fx.Options(append([]fx.Option(nil), c.options...)...)
}
