// Package privileged runs remote filesystem calls inside a restricted scope
// and translates their failures to the error taxonomy of package errors.
//
// Panics raised inside a block are not recovered and failed calls are never
// retried.
package privileged

import (
	"context"

	"github.com/restic/snaprepo/internal/debug"
)

// Do enters scope, runs fn and returns its result. An error from fn or
// from entering the scope is translated, op names the operation in I/O
// errors. An already cancelled ctx fails before fn is called.
func Do[V any](ctx context.Context, scope Scope, op string, fn func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if scope == nil {
		scope = None
	}

	ctx, release, err := scope.Enter(ctx)
	if err != nil {
		return zero, Translate(op, err)
	}
	defer release()

	v, err := fn(ctx)
	if err != nil {
		debug.Log("%v failed: %v", op, err)
		return v, Translate(op, err)
	}
	return v, nil
}

// Run is like Do for blocks that only return an error.
func Run(ctx context.Context, scope Scope, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, scope, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
