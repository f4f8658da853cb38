package memory

import "strings"

// Scope is a compiled string namespace for MemoryService operations (spec
// §3). Two scopes are unrelated to the store unless their compiled strings
// are identical; the compiled string doubles as the pub/sub topic name for
// the scope's change notifications (spec §6, §9 "per-scope lock bookkeeping").
type Scope struct {
	compiled string
}

// NewScope compiles one or more namespace components into a Scope. Empty
// components are dropped so NewScope("a", "", "b") == NewScope("a", "b").
func NewScope(parts ...string) Scope {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return Scope{compiled: strings.Join(kept, ":")}
}

// ScopeFromCompiled wraps an already-compiled string verbatim, for callers
// that received a topic name (e.g. from a pub/sub delivery) and need to
// address the corresponding scope.
func ScopeFromCompiled(compiled string) Scope {
	return Scope{compiled: compiled}
}

// Compile returns the opaque namespace string; it is also the pub/sub topic
// name for this scope's change notifications.
func (s Scope) Compile() string { return s.compiled }

func (s Scope) String() string { return s.compiled }

func (s Scope) Equal(other Scope) bool { return s.compiled == other.compiled }
