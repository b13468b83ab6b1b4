package detour

import (
	"fmt"
	"sync"
	"syscall"
)

// Symbol identifies one intercepted operating-system entry point
type Symbol string

// Intercepted entry points. The interposition bootstrap registers the
// replacement bodies; the registry only hands back the original
// implementations.
const (
	SymbolOpen     Symbol = "open"
	SymbolOpenat   Symbol = "openat"
	SymbolRead     Symbol = "read"
	SymbolWrite    Symbol = "write"
	SymbolLseek    Symbol = "lseek"
	SymbolStat     Symbol = "newfstatat"
	SymbolFstat    Symbol = "fstat"
	SymbolGetdents Symbol = "getdents64"
	SymbolClose    Symbol = "close"
)

// OriginalFunc invokes the original, un-hooked implementation of an
// entry point with raw argument words
type OriginalFunc func(args ...uintptr) (uintptr, syscall.Errno)

// ResolveFunc binds a symbol to its original implementation
type ResolveFunc func(Symbol) (OriginalFunc, error)

// Registry is the process-wide table of original implementations.
// Resolution is lazy and happens exactly once per symbol, even under
// concurrent first use from multiple threads.
type Registry struct {
	resolve ResolveFunc

	mu      sync.Mutex
	entries map[Symbol]*registryEntry
}

type registryEntry struct {
	once sync.Once
	fn   OriginalFunc
	err  error
}

// NewRegistry creates a registry using resolve to bind symbols; nil
// uses the raw syscall trampoline
func NewRegistry(resolve ResolveFunc) *Registry {
	if resolve == nil {
		resolve = RawOriginal
	}
	return &Registry{
		resolve: resolve,
		entries: make(map[Symbol]*registryEntry),
	}
}

// Resolve returns the original implementation for sym, computing it at
// most once. A failed resolution sticks: retries see the same error.
func (r *Registry) Resolve(sym Symbol) (OriginalFunc, error) {
	r.mu.Lock()
	e, ok := r.entries[sym]
	if !ok {
		e = &registryEntry{}
		r.entries[sym] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.fn, e.err = r.resolve(sym)
		if e.err != nil {
			e.err = fmt.Errorf("registry: resolve %q: %w", sym, e.err)
		}
	})
	return e.fn, e.err
}
