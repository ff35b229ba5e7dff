// Package hitboxlog provides the shared zap logger used across the cache
// pipeline. Every package logs through here so recovered errors (backend
// read/write failures, envelope corruption, dogpile promotion) land in one
// structured stream instead of each package rolling its own logger.
package hitboxlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	current *zap.Logger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	current = l
}

// Set replaces the package-wide logger. Callers that embed hitbox in a
// larger service typically call this once at startup with their own
// *zap.Logger so cache logs share the host's sinks and sampling.
func Set(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	current = l
	mu.Unlock()
}

// L returns the active logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Named returns a child logger scoped to component, e.g. "composition",
// "concurrency", "offload".
func Named(component string) *zap.Logger {
	return L().Named(component)
}
