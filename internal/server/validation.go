// validation.go - Save target validation: traversal guard and allowlist.
package server

import (
	"errors"
	"path"
	"sort"
	"strings"
)

var (
	// ErrEmptyFilename is returned for an empty or missing filename.
	ErrEmptyFilename = errors.New("empty filename")
	// ErrPathTraversal is returned when the name is not its own base name.
	ErrPathTraversal = errors.New("invalid filename")
	// ErrNotAllowed is returned for a bare name outside the allowlist.
	ErrNotAllowed = errors.New("file not allowed")
)

// Allowlist is the fixed set of file names that may be saved. It is built
// once at startup and never modified.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist builds an Allowlist from names. Duplicates are ignored.
func NewAllowlist(names ...string) Allowlist {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return Allowlist{names: m}
}

// Contains reports literal membership.
func (a Allowlist) Contains(name string) bool {
	_, ok := a.names[name]
	return ok
}

// Names returns the allowed names in sorted order.
func (a Allowlist) Names() []string {
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ValidatedName is a filename that passed ValidateFilename. Only this file
// can construct a non-zero value, so PayloadStore never sees an unchecked name.
type ValidatedName struct {
	name string
}

// String returns the bare file name.
func (v ValidatedName) String() string {
	return v.name
}

// IsZero reports whether v was not produced by ValidateFilename.
func (v ValidatedName) IsZero() bool {
	return v.name == ""
}

// ValidateFilename checks name against the traversal guard first and the
// allowlist second. It touches no filesystem state.
func ValidateFilename(name string, allow Allowlist) (ValidatedName, error) {
	if name == "" {
		return ValidatedName{}, ErrEmptyFilename
	}
	if !isBaseName(name) {
		return ValidatedName{}, ErrPathTraversal
	}
	if !allow.Contains(name) {
		return ValidatedName{}, ErrNotAllowed
	}
	return ValidatedName{name: name}, nil
}

// isBaseName reports whether name is a single path segment on every
// platform: no separators of either kind and no dot segments.
func isBaseName(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return path.Base(name) == name
}
