// Package seccomp builds the BPF policy the instrumentation bootstrap
// installs in the target process: every intercepted file entry point
// traps to the interposition handler, everything else runs natively.
package seccomp

import (
	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
)

// InterceptedSyscalls lists the file entry points routed through the
// hook layer. Names missing on the running architecture (e.g. open on
// arm64) are dropped when the policy is built.
var InterceptedSyscalls = []string{
	"open",
	"openat",
	"read",
	"write",
	"lseek",
	"stat",
	"lstat",
	"fstat",
	"newfstatat",
	"getdents64",
	"close",
}

// Supported filters names down to the syscalls that exist on the
// running architecture
func Supported(names []string) ([]string, error) {
	info, err := arch.GetInfo("")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := info.SyscallNames[n]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Policy returns the trap policy for the given entry points
func Policy(names []string) libseccomp.Policy {
	return libseccomp.Policy{
		DefaultAction: libseccomp.ActionAllow,
		Syscalls: []libseccomp.SyscallGroup{
			{
				Names:  names,
				Action: libseccomp.ActionTrap,
			},
		},
	}
}

// Filter wraps the policy for loading into the target process; TSYNC
// applies it to every thread at once so no thread races ahead unhooked
func Filter(names []string) libseccomp.Filter {
	return libseccomp.Filter{
		NoNewPrivs: true,
		Flag:       libseccomp.FilterFlagTSync,
		Policy:     Policy(names),
	}
}

// Load installs the default filter into the calling process
func Load() error {
	names, err := Supported(InterceptedSyscalls)
	if err != nil {
		return err
	}
	return libseccomp.LoadFilter(Filter(names))
}
