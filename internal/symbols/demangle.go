package symbols

import (
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// demangleCache memoises demangled native names. Native lookups repeat the
// same handful of symbols for every call site in a routine.
type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
	hits  int
}

var cache = &demangleCache{names: make(map[string]string)}

// CachedDemangle demangles a C++ or Rust symbol, returning it unchanged when
// it is not mangled.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	if d, ok := cache.names[mangled]; ok {
		cache.mu.RUnlock()
		cache.mu.Lock()
		cache.hits++
		cache.mu.Unlock()
		return d
	}
	cache.mu.RUnlock()

	d := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.names[mangled] = d
	cache.mu.Unlock()
	return d
}

// DemangleCacheStats returns the number of cached names and cache hits.
func DemangleCacheStats() (entries, hits int) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return len(cache.names), cache.hits
}
