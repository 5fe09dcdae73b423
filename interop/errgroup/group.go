// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics on top of a FailFast scope. Functions passed to Go are plain
// blocking Go code, so they run on the Unconfined dispatcher and never hold
// a pool worker.
package errgroup

import (
	"context"

	"github.com/NetPo4ki/go-coflow/scope"
)

// Group is an errgroup-like wrapper over scope.Scope (FailFast).
type Group struct {
	s   *scope.Scope
	ctx context.Context
}

// WithContext creates a Group bound to ctx. Returned context is canceled when
// any function passed to Go returns a non-nil error.
func WithContext(ctx context.Context, opts ...scope.Option) (*Group, context.Context) {
	s := scope.New(ctx, scope.Unconfined(), scope.FailFast, opts...)
	g := &Group{s: s, ctx: s.Context()}
	return g, g.ctx
}

// Go starts a function. It should return a non-nil error to signal failure.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	g.s.Go("errgroup", func(*scope.Task) error {
		return f()
	})
}

// Wait blocks until all functions have returned, then cancels the derived
// context. It returns the first non-nil error (FailFast semantics) or nil
// on success.
func (g *Group) Wait() error {
	err := g.s.Wait()
	g.s.Close()
	return err
}

// Scope exposes the underlying scope, e.g. to spawn cooperative tasks next
// to the plain functions.
func (g *Group) Scope() *scope.Scope { return g.s }
