package backend

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

type Factory func() (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
	preference []string
)

// Register makes a backend available under name. Backends registered earlier
// are preferred when resolving "auto". Registering a name twice panics.
func Register(name string, f Factory) {
	name = Normalize(name)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("backend: duplicate registration of " + name)
	}
	registry[name] = f
	preference = append(preference, name)
}

// New resolves name (or the preferred backend for "auto") and constructs it.
func New(name string) (Backend, error) {
	name = Normalize(name)
	registryMu.RLock()
	defer registryMu.RUnlock()
	if name == Auto {
		if len(preference) == 0 {
			return nil, fmt.Errorf("%w: none registered", ErrUnknownBackend)
		}
		name = preference[0]
	}
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownBackend, name, strings.Join(names(), ", "))
	}
	return f()
}

// Available lists registered backends in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
