// Package patterns holds the placement strategies that turn an admitted spawn
// decision into concrete entities around an anchor point.
package patterns

import (
	"errors"
	"sort"
	"sync"
)

const Default = "ring"

var (
	ErrNoPattern = errors.New("no pattern registered")
	ErrBadParam  = errors.New("bad pattern param")
)

// Pattern places up to Context.Limit entities and returns how many it created.
type Pattern interface {
	Place(c *Context) (int, error)
}

type Func func(c *Context) (int, error)

func (f Func) Place(c *Context) (int, error) { return f(c) }

type Registry struct {
	mu     sync.RWMutex
	byName map[string]Pattern
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Pattern{}}
}

// Builtin returns a registry with ring, wave, legion, wall and boss.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("ring", Func(Ring))
	r.Register("wave", Func(Wave))
	r.Register("legion", Func(Legion))
	r.Register("wall", Func(Wall))
	r.Register("boss", Func(Boss))
	return r
}

func (r *Registry) Register(name string, p Pattern) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		delete(r.byName, name)
		return
	}
	r.byName[name] = p
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Get resolves name, falling back to Default for empty or unknown names. The
// returned name is the one actually used.
func (r *Registry) Get(name string) (Pattern, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byName[name]; ok && name != "" {
		return p, name, nil
	}
	if p, ok := r.byName[Default]; ok {
		return p, Default, nil
	}
	return nil, "", ErrNoPattern
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for k := range r.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
