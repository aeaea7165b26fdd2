package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// BatchNode prepares a list of independent items and executes each one with
// its own retry budget. Finalize receives one result per item, in the order
// Prepare returned them.
type BatchNode[I, R any] interface {
	Prepare(ctx context.Context, s *Shared) ([]I, error)
	Execute(ctx context.Context, item I) (R, error)
	Finalize(ctx context.Context, s *Shared, items []I, results []ItemResult[R]) (schema.Action, error)
}

// ItemResult is the outcome of one batch item. Err is set only for items that
// failed under ItemSkip.
type ItemResult[R any] struct {
	Index int
	Value R
	Err   error
}

// Failed reports whether the item was skipped after failing.
func (r ItemResult[R]) Failed() bool {
	return r.Err != nil
}

// Values returns the values of the items that succeeded, in order.
func Values[R any](results []ItemResult[R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// ItemErrorPolicy decides what a batch does with an item whose attempts are
// exhausted.
type ItemErrorPolicy int

const (
	// ItemAbort fails the whole node on the first failed item.
	ItemAbort ItemErrorPolicy = iota
	// ItemSkip records the error on the item's result and continues.
	ItemSkip
)

func (p ItemErrorPolicy) String() string {
	if p == ItemSkip {
		return "skip"
	}
	return "abort"
}

// ParseItemErrorPolicy accepts "abort", "skip" or "" (abort).
func ParseItemErrorPolicy(s string) (ItemErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "abort":
		return ItemAbort, nil
	case "skip":
		return ItemSkip, nil
	default:
		return ItemAbort, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("unknown item error policy %q", s))
	}
}

// BatchFuncs builds a BatchNode from closures. A nil FinalizeFunc returns
// the default label.
type BatchFuncs[I, R any] struct {
	PrepareFunc  func(ctx context.Context, s *Shared) ([]I, error)
	ExecuteFunc  func(ctx context.Context, item I) (R, error)
	FinalizeFunc func(ctx context.Context, s *Shared, items []I, results []ItemResult[R]) (schema.Action, error)
	FallbackFunc func(ctx context.Context, item I, err error) (R, error)
}

func (f BatchFuncs[I, R]) Prepare(ctx context.Context, s *Shared) ([]I, error) {
	if f.PrepareFunc == nil {
		return nil, nil
	}
	return f.PrepareFunc(ctx, s)
}

func (f BatchFuncs[I, R]) Execute(ctx context.Context, item I) (R, error) {
	if f.ExecuteFunc == nil {
		var zero R
		return zero, nil
	}
	return f.ExecuteFunc(ctx, item)
}

func (f BatchFuncs[I, R]) Finalize(ctx context.Context, s *Shared, items []I, results []ItemResult[R]) (schema.Action, error) {
	if f.FinalizeFunc == nil {
		return schema.DefaultAction, nil
	}
	return f.FinalizeFunc(ctx, s, items, results)
}

// Fallback returns err unchanged when FallbackFunc is nil.
func (f BatchFuncs[I, R]) Fallback(ctx context.Context, item I, err error) (R, error) {
	if f.FallbackFunc == nil {
		var zero R
		return zero, err
	}
	return f.FallbackFunc(ctx, item, err)
}
