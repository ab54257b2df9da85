// Package zonepath implements the dotted-name algebra shared by zone names
// and routing paths: component counting, prefix checks, and reversal.
//
// A zone name encodes a position in the zone tree from root to local
// (e.g. "a.b.c"). A routing path uses the same syntax to record the chain
// of agents that has already handled a message, leftmost = originator.
// Both are represented by the same Path type.
package zonepath

import "strings"

// Path is a dotted zone name or routing path, e.g. "a.b.c".
type Path string

// Components splits the path into its dotted segments. An empty path has
// zero components.
func (p Path) Components() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// DotCount returns the number of '.' separators, i.e. Components()-1 for a
// non-empty path. This mirrors the original implementation's hop-counting
// via routing_path.count('.').
func (p Path) DotCount() int {
	if p == "" {
		return 0
	}
	return strings.Count(string(p), ".")
}

// Extend appends name as the new rightmost component, returning a path that
// always ends with the agent that most recently handled the message. If p
// is empty, the result is just name.
func (p Path) Extend(name string) Path {
	if p == "" {
		return Path(name)
	}
	return p + "." + Path(name)
}

// HasPrefixComponents reports whether the first n dotted components of p
// equal prefix exactly (component-wise, not a raw string prefix).
func (p Path) HasPrefixComponents(prefix Path, n int) bool {
	parts := p.Components()
	if n > len(parts) {
		return false
	}
	return Path(strings.Join(parts[:n], ".")) == prefix
}

// ComponentAt returns the i'th dotted component, and whether it existed.
func (p Path) ComponentAt(i int) (string, bool) {
	parts := p.Components()
	if i < 0 || i >= len(parts) {
		return "", false
	}
	return parts[i], true
}

// Reverse returns the dotted components in reverse order. Used to compute
// the reply destination from a routing path: Reverse(Reverse(p)) == p for
// every non-empty path.
func Reverse(p Path) Path {
	parts := p.Components()
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return Path(strings.Join(parts, "."))
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return string(p)
}
