package push

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// classFilter is the set of concrete class names a subscriber receives,
// built by expanding every configured class to itself plus its concrete
// subclasses. An empty set matches everything.
type classFilter struct {
	classes map[string]struct{}
}

// Match returns true if the class passes the filter.
// If no classes are configured, all classes match.
func (f *classFilter) Match(className string) bool {
	if len(f.classes) == 0 {
		return true
	}
	_, ok := f.classes[className]
	return ok
}

func (f *classFilter) Size() int {
	return len(f.classes)
}

// newClassFilter expands the configured class names through the expander.
// Expansion failures abort the build; a partially built filter would silently
// drop change classes.
func newClassFilter(configured []string, expander SubclassExpander) (*classFilter, error) {
	filter := &classFilter{classes: make(map[string]struct{})}

	for _, name := range configured {
		concrete, err := expander.ConcreteSubclasses(name)
		if err != nil {
			return nil, fmt.Errorf("failed to expand class %q: %w", name, err)
		}
		for _, sub := range concrete {
			filter.classes[sub] = struct{}{}
		}
	}

	return filter, nil
}

// CachingExpander memoizes subclass expansion. Class hierarchies only change
// on host restart, so entries never need invalidation; the LRU bound just
// caps memory.
type CachingExpander struct {
	inner SubclassExpander
	cache *lru.Cache[string, []string]
}

// NewCachingExpander wraps an expander with an LRU cache of the given size.
func NewCachingExpander(inner SubclassExpander, size int) (*CachingExpander, error) {
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create expansion cache: %w", err)
	}
	return &CachingExpander{inner: inner, cache: cache}, nil
}

func (e *CachingExpander) ConcreteSubclasses(className string) ([]string, error) {
	if cached, ok := e.cache.Get(className); ok {
		return cached, nil
	}

	expanded, err := e.inner.ConcreteSubclasses(className)
	if err != nil {
		return nil, err
	}

	e.cache.Add(className, expanded)
	return expanded, nil
}
