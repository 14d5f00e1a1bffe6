// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compositor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned by New when no compositor with the requested
// name has been registered.
var ErrNotRegistered = errors.New("compositor: not registered")

// Factory creates a compositor instance.
type Factory func() (Compositor, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)

	// Priority order for Default (first available wins).
	priority = []string{"desktop", "virtual"}
)

// Register registers a compositor factory under name.
// This is typically called from init() functions in driver packages.
// A factory registered under an existing name replaces it.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a compositor from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of registered compositors.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the compositor registered under name.
func New(name string) (Compositor, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return factory()
}

// Default creates the best available compositor by priority, falling back to
// any registered one. It returns ErrNotRegistered when none is registered.
func Default() (Compositor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var firstErr error
	for _, name := range priority {
		factory, ok := factories[name]
		if !ok {
			continue
		}
		c, err := factory()
		if err == nil {
			return c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	names := make([]string, 0, len(factories))
	for name := range factories {
		if !isPriority(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := factories[name]()
		if err == nil {
			return c, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotRegistered
}

func isPriority(name string) bool {
	for _, p := range priority {
		if p == name {
			return true
		}
	}
	return false
}
