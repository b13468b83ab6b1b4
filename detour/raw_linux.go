package detour

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/elastic/go-seccomp-bpf/arch"
	"golang.org/x/sys/unix"
)

// This file is the unsafe boundary of the hook layer: the only place
// that invokes raw syscall trampolines or converts between Go values
// and argument words. Everything above it is ordinary safe code.

var archInfo, archErr = arch.GetInfo("")

var atFDCWD int = unix.AT_FDCWD

// RawOriginal binds sym to a raw syscall trampoline for the current
// architecture. It is the default ResolveFunc of the registry.
func RawOriginal(sym Symbol) (OriginalFunc, error) {
	if archErr != nil {
		return nil, archErr
	}
	no, ok := archInfo.SyscallNames[string(sym)]
	if !ok {
		return nil, fmt.Errorf("no syscall %q on %s", sym, archInfo.Name)
	}
	sysno := uintptr(no)
	return func(args ...uintptr) (uintptr, syscall.Errno) {
		var a [6]uintptr
		copy(a[:], args)
		r1, _, errno := unix.Syscall6(sysno, a[0], a[1], a[2], a[3], a[4], a[5])
		return r1, errno
	}, nil
}

// originalOpen opens path through the un-hooked openat entry point
func originalOpen(fn OriginalFunc, path string, flags int, perm uint32) (int, syscall.Errno) {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return -1, syscall.EINVAL
	}
	r1, errno := fn(uintptr(atFDCWD), uintptr(unsafe.Pointer(p)), uintptr(flags), uintptr(perm))
	runtime.KeepAlive(p)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), 0
}

// originalRead reads through the un-hooked read entry point
func originalRead(fn OriginalFunc, fd int, buf []byte) (int, syscall.Errno) {
	r1, errno := fn(uintptr(fd), bufPtr(buf), uintptr(len(buf)))
	if errno != 0 {
		return -1, errno
	}
	return int(r1), 0
}

// originalWrite writes through the un-hooked write entry point
func originalWrite(fn OriginalFunc, fd int, buf []byte) (int, syscall.Errno) {
	r1, errno := fn(uintptr(fd), bufPtr(buf), uintptr(len(buf)))
	if errno != 0 {
		return -1, errno
	}
	return int(r1), 0
}

// originalLseek repositions through the un-hooked lseek entry point
func originalLseek(fn OriginalFunc, fd int, offset int64, whence int) (int64, syscall.Errno) {
	r1, errno := fn(uintptr(fd), uintptr(offset), uintptr(whence))
	if errno != 0 {
		return -1, errno
	}
	return int64(r1), 0
}

// originalStat stats path through the un-hooked newfstatat entry point
func originalStat(fn OriginalFunc, path string, st *unix.Stat_t, atFlags int) syscall.Errno {
	p, err := unix.BytePtrFromString(path)
	if err != nil {
		return syscall.EINVAL
	}
	_, errno := fn(uintptr(atFDCWD), uintptr(unsafe.Pointer(p)),
		uintptr(unsafe.Pointer(st)), uintptr(atFlags))
	runtime.KeepAlive(p)
	runtime.KeepAlive(st)
	return errno
}

// originalFstat stats an fd through the un-hooked fstat entry point
func originalFstat(fn OriginalFunc, fd int, st *unix.Stat_t) syscall.Errno {
	_, errno := fn(uintptr(fd), uintptr(unsafe.Pointer(st)))
	runtime.KeepAlive(st)
	return errno
}

// originalGetdents drains through the un-hooked getdents64 entry point
func originalGetdents(fn OriginalFunc, fd int, buf []byte) (int, syscall.Errno) {
	r1, errno := fn(uintptr(fd), bufPtr(buf), uintptr(len(buf)))
	if errno != 0 {
		return -1, errno
	}
	return int(r1), 0
}

// originalClose closes through the un-hooked close entry point
func originalClose(fn OriginalFunc, fd int) syscall.Errno {
	_, errno := fn(uintptr(fd))
	return errno
}

func bufPtr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
