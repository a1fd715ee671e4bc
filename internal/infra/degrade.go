package infra

import (
	"context"
	"fmt"
	"sync"
)

// Fallback is an alternate, lower-fidelity way to produce a result when the
// primary operation fails.
type Fallback[T any] interface {
	Name() string
	Available() bool
	Run(ctx context.Context) (T, error)
}

// FallbackFunc adapts plain functions to the Fallback interface.
// A nil IsAvailable means always available.
type FallbackFunc[T any] struct {
	FallbackName string
	IsAvailable  func() bool
	Fn           func(ctx context.Context) (T, error)
}

func (f FallbackFunc[T]) Name() string { return f.FallbackName }

func (f FallbackFunc[T]) Available() bool {
	if f.IsAvailable == nil {
		return true
	}
	return f.IsAvailable()
}

func (f FallbackFunc[T]) Run(ctx context.Context) (T, error) {
	return f.Fn(ctx)
}

// Simplified returns an always-available fallback that never fails: when fn
// errors or panics, degraded(err) is returned instead.
func Simplified[T any](name string, fn func(ctx context.Context) (T, error), degraded func(err error) T) Fallback[T] {
	return FallbackFunc[T]{
		FallbackName: name,
		Fn: func(ctx context.Context) (result T, err error) {
			defer func() {
				if r := recover(); r != nil {
					result, err = degraded(fmt.Errorf("fallback %s panicked: %v", name, r)), nil
				}
			}()
			val, fnErr := fn(ctx)
			if fnErr != nil {
				return degraded(fnErr), nil
			}
			return val, nil
		},
	}
}

// DegradationManager runs a primary operation and, when it fails, each
// registered fallback in registration order. Unavailable fallbacks are
// skipped. When every fallback fails or none is available, the primary's
// original error is returned so callers see the root cause.
type DegradationManager[T any] struct {
	mu        sync.RWMutex
	fallbacks []Fallback[T]

	// OnDegraded is called when a fallback produced the result.
	OnDegraded func(fallback string, primaryErr error)
}

// NewDegradationManager creates a manager with the given fallbacks, in order.
func NewDegradationManager[T any](fallbacks ...Fallback[T]) *DegradationManager[T] {
	return &DegradationManager[T]{fallbacks: append([]Fallback[T](nil), fallbacks...)}
}

// Register appends a fallback after the existing ones.
func (m *DegradationManager[T]) Register(fallback Fallback[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks = append(m.fallbacks, fallback)
}

// Fallbacks returns the registered fallback names in order.
func (m *DegradationManager[T]) Fallbacks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.fallbacks))
	for i, fb := range m.fallbacks {
		names[i] = fb.Name()
	}
	return names
}

// Run executes primary, then the fallbacks.
func (m *DegradationManager[T]) Run(ctx context.Context, primary func(ctx context.Context) (T, error)) (T, error) {
	val, primaryErr := primary(ctx)
	if primaryErr == nil {
		return val, nil
	}

	m.mu.RLock()
	fallbacks := append([]Fallback[T](nil), m.fallbacks...)
	m.mu.RUnlock()

	for _, fb := range fallbacks {
		if !fb.Available() {
			continue
		}
		result, err := fb.Run(ctx)
		if err != nil {
			continue
		}
		if m.OnDegraded != nil {
			m.OnDegraded(fb.Name(), primaryErr)
		}
		return result, nil
	}

	var zero T
	return zero, primaryErr
}

// RunWithFallbacks is a one-shot form of DegradationManager.Run.
func RunWithFallbacks[T any](ctx context.Context, primary func(ctx context.Context) (T, error), fallbacks ...Fallback[T]) (T, error) {
	return NewDegradationManager(fallbacks...).Run(ctx, primary)
}
