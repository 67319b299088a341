package cache

import (
	"context"
	"fmt"
)

// FetchFn is the function signature GetOrFetch expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// GetAs is a type-safe read. A value of another type is reported as a miss.
func GetAs[T any](m *Manager, key string) (T, bool) {
	var zero T

	value, ok := m.Get(key)
	if !ok {
		return zero, false
	}
	if value == nil {
		return zero, true
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// GetOrFetch returns the cached value for key or calls fetchFn and stores its
// result with the default TTL. Concurrent misses on the same key share one
// fetchFn call. Errors from fetchFn are returned and nothing is cached.
func GetOrFetch[T any](ctx context.Context, m *Manager, key string, fetchFn FetchFn[T]) (T, error) {
	var zero T

	if fetchFn == nil {
		return zero, ErrNilFetchFn
	}

	if value, ok := m.Get(key); ok {
		return assertResult[T](value)
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	result, err, _ := m.fetches.Do(key, func() (any, error) {
		// another caller may have stored the value while we waited
		if value, ok := m.Get(key); ok {
			return value, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(key, fetched)
		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	return assertResult[T](result)
}

func assertResult[T any](value any) (T, error) {
	var zero T
	if value == nil {
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %T, got %T", ErrInvalidResultType, zero, value)
	}
	return typed, nil
}
