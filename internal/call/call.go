// Package call defines the identity of a callable unit in a traced program
// and the name/file matching policy used wherever two sources of identities
// have to be reconciled.
package call

import (
	"fmt"
	"strings"
)

// Environment tags the language a call was traced from.
type Environment string

const (
	// EnvC is the only environment the trace loaders currently produce.
	EnvC Environment = "c"
)

// Granularity is the unit a node in the call graph stands for.
type Granularity string

const (
	// Function nodes are individual functions.
	Function Granularity = "function"
	// File nodes aggregate every function defined in one source file.
	File Granularity = "file"
)

// ParseGranularity parses "function" or "file" (case-insensitive).
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "function", "func", "":
		return Function, nil
	case "file":
		return File, nil
	default:
		return "", fmt.Errorf("invalid granularity: %q (expected function or file)", s)
	}
}

// Call identifies a function (or file) in the call graph.
// Two calls are the same node when Name and File are equal.
type Call struct {
	Name        string
	File        string
	Env         Environment
	Granularity Granularity
}

// New returns a function-granularity C call.
func New(name, file string) Call {
	return Call{Name: name, File: file, Env: EnvC, Granularity: Function}
}

// Key is the comparable identity of a Call.
type Key struct {
	Name string
	File string
}

// Key returns the identity of c.
func (c Call) Key() Key {
	return Key{Name: c.Name, File: c.File}
}

// HasFile reports whether the call carries file information.
func (c Call) HasFile() bool {
	return c.File != ""
}

// AtGranularity re-keys c to the given granularity.
// At file granularity the name is dropped and only the file identifies the node.
func (c Call) AtGranularity(g Granularity) Call {
	if g == File {
		return Call{File: c.File, Env: c.Env, Granularity: File}
	}
	c.Granularity = g
	return c
}

// String renders the call as name@file, or just the name when the file is unknown.
func (c Call) String() string {
	return c.Key().String()
}

// String renders the key as name@file.
func (k Key) String() string {
	switch {
	case k.File == "":
		return k.Name
	case k.Name == "":
		return k.File
	default:
		return k.Name + "@" + k.File
	}
}

// ParseKey parses the name@file form produced by Key.String.
// A value without '@' is a name-only key.
func ParseKey(s string) Key {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return Key{Name: s[:i], File: s[i+1:]}
	}
	return Key{Name: s}
}
