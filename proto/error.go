package proto

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Kind classifies an operation failure so the hook layer can map it back
// onto the errno the equivalent local call would have produced.
type Kind int8

// Kind defines the operation failure categories.
// default value 0 is invalid
const (
	KindNotFound Kind = iota + 1
	KindPermissionDenied
	KindInvalidPath
	KindLinkLoop
	KindBadHandle
	KindNotADirectory
	KindUnsupported
	KindIO
)

var kindNames = [...]string{
	"invalid",
	"not found",
	"permission denied",
	"invalid path",
	"link loop",
	"bad handle",
	"not a directory",
	"unsupported",
	"io error",
}

func (k Kind) String() string {
	if k < 1 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// Error is the operation failure carried back over the channel
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError creates an Error of kind k with a formatted message
func NewError(k Kind, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// WrapError classifies err into an Error, preserving the message.
// Already classified errors pass through unchanged.
func WrapError(op string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	k := KindIO
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT):
		k = KindNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		k = KindPermissionDenied
	case errors.Is(err, syscall.ELOOP):
		k = KindLinkLoop
	case errors.Is(err, syscall.ENOTDIR):
		k = KindNotADirectory
	case errors.Is(err, syscall.EBADF):
		k = KindBadHandle
	}
	return &Error{Kind: k, Msg: fmt.Sprintf("%s: %v", op, err)}
}
