// Package detour implements the client-side hook layer: per-call
// decisions between running the original operating-system entry point
// and forwarding the operation to the remote file manager, with
// reentrancy protection for the hook machinery itself.
package detour

import "syscall"

// Reason explains why a call bypassed to the original implementation.
// Bypass reasons are never surfaced to the caller as errors.
type Reason int8

// Reason defines the bypass causes.
// default value 0 is invalid
const (
	// ReasonNotManaged marks paths and descriptors outside the managed
	// set
	ReasonNotManaged Reason = iota + 1
	// ReasonReentrant marks calls issued while the thread is already
	// inside hook logic
	ReasonReentrant
	// ReasonDisabled marks calls made while interception is switched off
	ReasonDisabled
	// ReasonRelativePath marks paths that cannot be mapped into the
	// container view
	ReasonRelativePath
)

var reasonNames = [...]string{"invalid", "not managed", "reentrant", "disabled", "relative path"}

func (r Reason) String() string {
	if r < 1 || int(r) >= len(reasonNames) {
		return "invalid"
	}
	return reasonNames[r]
}

type decisionKind int8

const (
	decisionBypass decisionKind = iota + 1
	decisionCall
	decisionForward
)

// Decision is the three-way result of a hook body: run the original
// implementation (Bypass), answer locally without a round trip (Call), or
// use the result of a remote round trip (Forward). Exactly one variant
// is produced per invocation; Bypass never carries a remote round trip.
type Decision[T any] struct {
	kind   decisionKind
	reason Reason
	value  T
	errno  syscall.Errno
}

// Bypass routes the call to the original implementation
func Bypass[T any](reason Reason) Decision[T] {
	return Decision[T]{kind: decisionBypass, reason: reason}
}

// Call produces a locally computed success without a remote round trip
func Call[T any](v T) Decision[T] {
	return Decision[T]{kind: decisionCall, value: v}
}

// Forward produces the successful result of a remote round trip
func Forward[T any](v T) Decision[T] {
	return Decision[T]{kind: decisionForward, value: v}
}

// ForwardErr records a remote round trip that was attempted and failed,
// collapsed to the errno the equivalent local failure would produce
func ForwardErr[T any](errno syscall.Errno) Decision[T] {
	return Decision[T]{kind: decisionForward, errno: errno}
}

// Bypassed reports the bypass reason if the decision is a bypass
func (d Decision[T]) Bypassed() (Reason, bool) {
	return d.reason, d.kind == decisionBypass
}

// Result returns the call or forward result; errno is nonzero on a
// failed forward
func (d Decision[T]) Result() (T, syscall.Errno) {
	return d.value, d.errno
}
