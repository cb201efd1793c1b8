package permission

import (
	"fmt"
	"strings"
)

// RoutePattern is a compiled route such as "/students/:id". A segment that
// starts with ':' matches exactly one non-empty path segment; every other
// segment must match literally.
type RoutePattern struct {
	raw      string
	segments []string
}

// CompileRoute parses a route pattern.
func CompileRoute(pattern string) (RoutePattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return RoutePattern{}, fmt.Errorf("permission: route %q must start with /", pattern)
	}
	segments := splitPath(pattern)
	for _, seg := range segments {
		if seg == "" || seg == ":" {
			return RoutePattern{}, fmt.Errorf("permission: route %q has an empty segment", pattern)
		}
	}
	return RoutePattern{raw: pattern, segments: segments}, nil
}

// MustCompileRoute is CompileRoute for static tables.
func MustCompileRoute(pattern string) RoutePattern {
	p, err := CompileRoute(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p RoutePattern) String() string { return p.raw }

// Match reports whether path is matched by the pattern. Query strings and
// fragments are ignored, as is a single trailing slash.
func (p RoutePattern) Match(path string) bool {
	segments := splitPath(stripQuery(path))
	if len(segments) != len(p.segments) {
		return false
	}
	for i, want := range p.segments {
		got := segments[i]
		if strings.HasPrefix(want, ":") {
			if got == "" {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

func stripQuery(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		return path[:i]
	}
	return path
}

// splitPath turns "/a/b/" into ["a", "b"]; "/" yields no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
