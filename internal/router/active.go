package router

import (
	"slices"
	"sync"
)

// ActiveSessions tracks session names announced on the global topic.
type ActiveSessions struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewActiveSessions() *ActiveSessions {
	return &ActiveSessions{names: make(map[string]struct{})}
}

func (a *ActiveSessions) Add(name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names[name] = struct{}{}
}

func (a *ActiveSessions) Remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.names, name)
}

func (a *ActiveSessions) Contains(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.names[name]
	return ok
}

// List returns the names sorted.
func (a *ActiveSessions) List() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.names))
	for name := range a.names {
		out = append(out, name)
	}
	a.mu.RUnlock()
	slices.Sort(out)
	return out
}
