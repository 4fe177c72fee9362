// Package path implements ShadowFS's normalized path type and file metadata
// value types (component C1 of the design).
package path

import (
	"strings"
	"unicode/utf8"

	"github.com/shadowfs/shadowfs/pkg/errors"
)

// ShadowPath is a normalized, comparable path value. Two paths that denote
// the same logical location compare and hash equal because normalization is
// canonical: it is valid to use ShadowPath directly as a map key.
type ShadowPath struct {
	normalized string
	absolute   bool
	// displayable is false when the original input was not valid UTF-8; the
	// raw bytes are preserved in normalized's underlying string regardless,
	// but callers must not present it to users.
	displayable bool
}

// Root is the empty-string path denoting the mount root.
var Root = ShadowPath{normalized: "", absolute: true, displayable: true}

// New normalizes raw and returns a ShadowPath.
//
// Normalization: backslashes are treated as separators, "." components are
// dropped, ".." components pop the previous real component (never escaping
// a leading root), and the result is forward-slash delimited with no
// trailing slash (the root is the empty string).
func New(raw string) (ShadowPath, error) {
	if raw == "" {
		return Root, nil
	}

	displayable := utf8.ValidString(raw)

	absolute := strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\")
	replaced := strings.ReplaceAll(raw, "\\", "/")
	parts := strings.Split(replaced, "/")

	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			// Popping past the root is a no-op: never escape a leading root.
		default:
			stack = append(stack, p)
		}
	}

	return ShadowPath{
		normalized:  strings.Join(stack, "/"),
		absolute:    absolute,
		displayable: displayable,
	}, nil
}

// MustNew is New but panics on error; intended for tests and constants.
func MustNew(raw string) ShadowPath {
	p, err := New(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Child returns the path for a named child of p.
func (p ShadowPath) Child(name string) ShadowPath {
	if p.normalized == "" {
		return ShadowPath{normalized: name, absolute: p.absolute, displayable: p.displayable && utf8.ValidString(name)}
	}
	return ShadowPath{
		normalized:  p.normalized + "/" + name,
		absolute:    p.absolute,
		displayable: p.displayable && utf8.ValidString(name),
	}
}

// Parent returns the parent path and true, or the zero value and false if p
// is the root.
func (p ShadowPath) Parent() (ShadowPath, bool) {
	if p.normalized == "" {
		return ShadowPath{}, false
	}
	idx := strings.LastIndexByte(p.normalized, '/')
	if idx < 0 {
		return ShadowPath{normalized: "", absolute: p.absolute, displayable: true}, true
	}
	return ShadowPath{normalized: p.normalized[:idx], absolute: p.absolute, displayable: p.displayable}, true
}

// Name returns the final path component, or "" for the root.
func (p ShadowPath) Name() string {
	if p.normalized == "" {
		return ""
	}
	idx := strings.LastIndexByte(p.normalized, '/')
	if idx < 0 {
		return p.normalized
	}
	return p.normalized[idx+1:]
}

// IsRoot reports whether p is the mount root.
func (p ShadowPath) IsRoot() bool {
	return p.normalized == ""
}

// IsAbsolute reports whether the original input was rooted.
func (p ShadowPath) IsAbsolute() bool {
	return p.absolute
}

// Displayable reports whether p can be safely rendered to a user; false
// when the raw input was not valid UTF-8.
func (p ShadowPath) Displayable() bool {
	return p.displayable
}

// StripPrefix returns the relative path obtained by removing prefix from p,
// and true, if prefix is an ancestor of (or equal to) p. Otherwise returns
// the zero value and false.
func (p ShadowPath) StripPrefix(prefix ShadowPath) (ShadowPath, bool) {
	if prefix.normalized == "" {
		return p, true
	}
	if p.normalized == prefix.normalized {
		return Root, true
	}
	withSep := prefix.normalized + "/"
	if !strings.HasPrefix(p.normalized, withSep) {
		return ShadowPath{}, false
	}
	return ShadowPath{normalized: p.normalized[len(withSep):], absolute: false, displayable: p.displayable}, true
}

// String renders p with forward slashes regardless of host convention.
func (p ShadowPath) String() string {
	if p.normalized == "" {
		return "/"
	}
	if p.absolute {
		return "/" + p.normalized
	}
	return p.normalized
}

// Equal reports whether p and o denote the same logical location.
func (p ShadowPath) Equal(o ShadowPath) bool {
	return p.normalized == o.normalized
}

// NewValidated is New plus an InvalidPath check against an optional maximum
// length (applied to the normalized form). Components are not checked
// further: New has already dropped empty and "." components.
func NewValidated(raw string, maxLen int) (ShadowPath, error) {
	p, err := New(raw)
	if err != nil {
		return ShadowPath{}, err
	}
	if maxLen > 0 && len(p.normalized) > maxLen {
		return ShadowPath{}, errors.NewInvalidPath(raw, "exceeds maximum path length")
	}
	return p, nil
}
