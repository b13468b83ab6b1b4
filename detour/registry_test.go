package detour

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
)

func TestRegistryResolveOnce(t *testing.T) {
	var resolved int32
	r := NewRegistry(func(sym Symbol) (OriginalFunc, error) {
		atomic.AddInt32(&resolved, 1)
		return func(args ...uintptr) (uintptr, syscall.Errno) { return 0, 0 }, nil
	})

	// concurrent first use from many threads still resolves exactly once
	const n = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Resolve(SymbolOpenat); err != nil {
				t.Error(err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&resolved); got != 1 {
		t.Errorf("resolver ran %d times; expected exactly once", got)
	}
}

func TestRegistryPerSymbol(t *testing.T) {
	var resolved int32
	r := NewRegistry(func(sym Symbol) (OriginalFunc, error) {
		atomic.AddInt32(&resolved, 1)
		return func(args ...uintptr) (uintptr, syscall.Errno) { return 0, 0 }, nil
	})

	for _, sym := range []Symbol{SymbolOpenat, SymbolRead, SymbolClose, SymbolOpenat, SymbolRead} {
		if _, err := r.Resolve(sym); err != nil {
			t.Fatal(err)
		}
	}
	if got := atomic.LoadInt32(&resolved); got != 3 {
		t.Errorf("resolver ran %d times; expected once per distinct symbol (3)", got)
	}
}

func TestRegistryStickyError(t *testing.T) {
	boom := errors.New("boom")
	var resolved int32
	r := NewRegistry(func(sym Symbol) (OriginalFunc, error) {
		atomic.AddInt32(&resolved, 1)
		return nil, boom
	})

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(SymbolRead); !errors.Is(err, boom) {
			t.Fatalf("Resolve error = %v; expected %v", err, boom)
		}
	}
	if got := atomic.LoadInt32(&resolved); got != 1 {
		t.Errorf("failed resolution ran %d times; must not be retried", got)
	}
}

func TestRawOriginal(t *testing.T) {
	fn, err := RawOriginal(SymbolOpenat)
	if err != nil {
		t.Fatal(err)
	}
	fd, errno := originalOpen(fn, "/dev/null", 0, 0)
	if errno != 0 {
		t.Fatalf("open /dev/null via trampoline: %v", errno)
	}
	closeFn, err := RawOriginal(SymbolClose)
	if err != nil {
		t.Fatal(err)
	}
	if errno := originalClose(closeFn, fd); errno != 0 {
		t.Errorf("close via trampoline: %v", errno)
	}
}

func TestRawOriginalUnknownSymbol(t *testing.T) {
	if _, err := RawOriginal(Symbol("no_such_syscall")); err == nil {
		t.Error("unknown symbol must fail to resolve")
	}
}
