package agent

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorfs/go-mirrorfs/proto"
)

// maxLinkDepth bounds the total number of symlink substitutions during
// one resolution, matching the kernel's ELOOP limit
const maxLinkDepth = 40

// PathMapping pins the container view onto a host mount path. Immutable
// for the agent process lifetime.
type PathMapping struct {
	// ContainerRoot is the root of the path namespace the client sees,
	// usually "/"
	ContainerRoot string
	// HostPath is where that namespace lives on the agent host, e.g.
	// /proc/<pid>/root or a bind mount
	HostPath string
}

// Resolver resolves client-supplied paths into canonical paths valid in
// the agent's own mount namespace. Symlinks are resolved component by
// component; absolute link targets are re-anchored at the mapped root so
// resolution can never escape onto the host root.
type Resolver struct {
	mapping PathMapping
}

// NewResolver creates a Resolver for the given mapping
func NewResolver(m PathMapping) *Resolver {
	if m.ContainerRoot == "" {
		m.ContainerRoot = "/"
	}
	m.HostPath = filepath.Clean(m.HostPath)
	return &Resolver{mapping: m}
}

// Mapping returns the configured path mapping
func (r *Resolver) Mapping() PathMapping {
	return r.mapping
}

// Resolve walks path component by component and returns the canonical
// host path. It fails with KindInvalidPath if path is not absolute under
// the container root or any step would escape the mapped host path, and
// with KindLinkLoop if symlink substitution exceeds the traversal bound.
func (r *Resolver) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", proto.NewError(proto.KindInvalidPath, "relative path %q", path)
	}
	// the raw path is walked uncleaned: a leading ".." must fail as an
	// escape, not clamp to the root the way Clean would
	rel, ok := trimRoot(path, r.mapping.ContainerRoot)
	if !ok {
		return "", proto.NewError(proto.KindInvalidPath, "%q outside container root %q", path, r.mapping.ContainerRoot)
	}

	cur := r.mapping.HostPath
	todo := splitComponents(rel)
	links := 0
	for len(todo) > 0 {
		comp := todo[0]
		todo = todo[1:]

		switch comp {
		case "", ".":
			continue
		case "..":
			if cur == r.mapping.HostPath {
				return "", proto.NewError(proto.KindInvalidPath, "%q escapes mapped root", path)
			}
			cur = filepath.Dir(cur)
			continue
		}

		next := cur + "/" + comp
		fi, err := os.Lstat(next)
		if err != nil {
			// nonexistent components resolve lexically; the open or
			// stat that follows reports NotFound
			cur = next
			continue
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}

		links++
		if links > maxLinkDepth {
			return "", proto.NewError(proto.KindLinkLoop, "too many links resolving %q", path)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", proto.WrapError("readlink", err)
		}
		if filepath.IsAbs(target) {
			// absolute targets are relative to the mapped root, never
			// the host root
			cur = r.mapping.HostPath
			todo = append(splitComponents(strings.TrimPrefix(target, "/")), todo...)
		} else {
			todo = append(splitComponents(target), todo...)
		}
	}

	if cur != r.mapping.HostPath && !strings.HasPrefix(cur, r.mapping.HostPath+"/") {
		return "", proto.NewError(proto.KindInvalidPath, "%q escapes mapped root", path)
	}
	return cur, nil
}

// trimRoot strips the container root prefix, returning the remainder
// relative path
func trimRoot(path, root string) (string, bool) {
	if root == "/" {
		return strings.TrimPrefix(path, "/"), true
	}
	if path == root {
		return "", true
	}
	if strings.HasPrefix(path, root+"/") {
		return path[len(root)+1:], true
	}
	return "", false
}

func splitComponents(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
