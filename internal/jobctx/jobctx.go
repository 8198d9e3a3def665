// Package jobctx carries a job ID through a context.Context so logging and
// error wrapping can attach it automatically, the same pattern requestid
// uses for request IDs.
package jobctx

import "context"

type ctxKey struct{}

// WithJobID returns a copy of ctx with the job ID attached.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the job ID from ctx. Returns (0, false) if absent.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}
