package cache

import "errors"

var (
	// ErrAlreadyConfigured is returned by Instance when a configuration is
	// supplied after the shared manager was created. The returned manager
	// keeps its first configuration.
	ErrAlreadyConfigured = errors.New("cache: shared manager already configured")

	// ErrInvalidResultType reports a cached value whose type does not match
	// the type requested by GetOrFetch.
	ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

	// ErrNilFetchFn is returned by GetOrFetch when no fetch function is given.
	ErrNilFetchFn = errors.New("cache: fetch function cannot be nil")
)
