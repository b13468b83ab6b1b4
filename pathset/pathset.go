// Package pathset stores path patterns in a hierarchical set and decides
// whether a given path is managed remotely or served by the local
// filesystem.
package pathset

import (
	"path/filepath"
	"strings"
)

// Set stores path patterns in a hierarchical set. A pattern matches
// exact paths, "dir/" matches the whole subtree under dir, "dir/*"
// matches direct children of dir only.
type Set struct {
	set        map[string]bool
	systemRoot bool
}

// New creates an empty Set
func New() *Set {
	return &Set{set: make(map[string]bool)}
}

// Add adds a single pattern into the Set
func (s *Set) Add(pattern string) {
	if pattern == "/" {
		s.systemRoot = true
		return
	}
	s.set[pattern] = true
}

// AddRange adds multiple patterns into the Set. Relative patterns are
// anchored at workPath and match the whole subtree.
func (s *Set) AddRange(patterns []string, workPath string) {
	for _, p := range patterns {
		if filepath.IsAbs(p) {
			s.Add(p)
		} else {
			s.set[filepath.Join(workPath, p)+"/"] = true
		}
	}
}

// Contains reports whether name matches any pattern in the set
func (s *Set) Contains(name string) bool {
	if s.set[name] {
		return true
	}
	if name == "/" && s.systemRoot {
		return true
	}
	level := 0
	for ; name != ""; level++ {
		if level == 1 && s.set[name+"/*"] {
			return true
		}
		if s.set[name+"/"] {
			return true
		}
		name = dirname(name)
	}
	if level == 1 && s.set["/*"] {
		return true
	}
	return s.systemRoot
}

// Empty reports whether the set has no patterns
func (s *Set) Empty() bool {
	return len(s.set) == 0 && !s.systemRoot
}

// Filter combines a managed set with a local override set. A path is
// handled remotely when it matches Managed and does not match Local;
// an empty Managed set manages everything outside Local.
type Filter struct {
	Managed *Set
	Local   *Set
}

// DefaultLocal is the pattern list for paths that never leave the local
// machine: kernel pseudo filesystems and device nodes behave per-process
// and mirroring them is meaningless.
var DefaultLocal = []string{"/proc/", "/sys/", "/dev/"}

// NewFilter creates a Filter with the default local overrides applied
func NewFilter(managed, local []string) *Filter {
	f := &Filter{Managed: New(), Local: New()}
	f.Managed.AddRange(managed, "/")
	f.Local.AddRange(DefaultLocal, "/")
	f.Local.AddRange(local, "/")
	return f
}

// IsManaged reports whether path should be forwarded to the agent.
// Only cleaned absolute paths are ever managed.
func (f *Filter) IsManaged(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	path = filepath.Clean(path)
	if f.Local.Contains(path) {
		return false
	}
	if f.Managed.Empty() {
		return true
	}
	return f.Managed.Contains(path)
}

// dirname returns path without the last component, "" at the root
func dirname(path string) string {
	if p := strings.LastIndex(path, "/"); p >= 0 {
		return path[:p]
	}
	return ""
}
