package detour

import (
	"errors"
	"syscall"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

// errnoFor maps an operation failure from the agent onto the errno the
// equivalent local failure would have produced, preserving the native
// error surface for the caller. Channel failures (connection lost,
// malformed reply) collapse to EIO, the generic error a native call
// reports on an unavailable resource.
func errnoFor(err error) syscall.Errno {
	var pe *proto.Error
	if !errors.As(err, &pe) {
		return syscall.EIO
	}
	switch pe.Kind {
	case proto.KindNotFound:
		return syscall.ENOENT
	case proto.KindPermissionDenied:
		return syscall.EACCES
	case proto.KindInvalidPath:
		return syscall.EACCES
	case proto.KindLinkLoop:
		return syscall.ELOOP
	case proto.KindBadHandle:
		return syscall.EBADF
	case proto.KindNotADirectory:
		return syscall.ENOTDIR
	case proto.KindUnsupported:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}
