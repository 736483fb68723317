// Package runner fans independent units of work out over a bounded number of
// goroutines. It never fails fast: every unit reports its own outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight units when nothing overrides it.
const DefaultConcurrency = 4

// EnvConcurrency overrides DefaultConcurrency for the whole process.
const EnvConcurrency = "WTM_CONCURRENCY"

// ErrInvalidConcurrency is a configuration error: the limit is not a positive integer.
var ErrInvalidConcurrency = errors.New("invalid concurrency limit")

// Outcome is one unit's result. Exactly one of Value or Err is meaningful.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the unit succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// ResolveLimit picks the concurrency limit. A positive override wins, zero
// means "not set" and defers to EnvConcurrency, then DefaultConcurrency. A
// negative override or an env value that is not a positive integer is an
// error.
func ResolveLimit(override int) (int, error) {
	if override < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidConcurrency, override)
	}
	if override > 0 {
		return override, nil
	}
	raw, ok := os.LookupEnv(EnvConcurrency)
	if !ok || strings.TrimSpace(raw) == "" {
		return DefaultConcurrency, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidConcurrency, EnvConcurrency, raw)
	}
	return n, nil
}

// Run calls fn for every item with at most limit calls in flight and returns
// one Outcome per item in input order. A failing unit does not stop its
// siblings. Items not yet started when ctx is cancelled get ctx.Err() as
// their outcome. The only returned error is ErrInvalidConcurrency, raised
// before any unit starts.
func Run[I, T any](ctx context.Context, limit int, items []I, fn func(context.Context, I) (T, error)) ([]Outcome[T], error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConcurrency, limit)
	}
	results := make([]Outcome[T], len(items))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		// Go blocks while limit units are running
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			v, err := fn(ctx, item)
			results[i] = Outcome[T]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Errors collects the failures from a batch, in input order.
func Errors[T any](outcomes []Outcome[T]) []error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
