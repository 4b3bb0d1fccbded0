// Package strategy holds the strategy registry and the built-in strategies.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"simtrader/internal/session"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]func() session.Strategy)
)

// Register adds a strategy constructor under name. Registration happens from
// package init functions; a duplicate name panics at startup.
func Register(name string, ctor func() session.Strategy) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = ctor
}

// Create instantiates the strategy registered under name.
func Create(name string) (session.Strategy, error) {
	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Names())
	}
	return ctor(), nil
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
