package ir

import (
	"fmt"
	"maps"
)

// NameContext allocates loop variable names for one scheduling session.
//
// It replaces a process-wide name counter: every module carries its own
// context and a clone carries a copy, so the same sequence of primitives
// applied to structurally equal modules always yields the same names.
//
// Thread-safety: none. A context is owned by exactly one module.
type NameContext struct {
	used map[string]int
}

// NewNameContext creates an empty context.
func NewNameContext() *NameContext {
	return &NameContext{used: make(map[string]int)}
}

// Reserve marks name as taken. Returns false if it was already taken.
func (c *NameContext) Reserve(name string) bool {
	if _, ok := c.used[name]; ok {
		return false
	}
	c.used[name] = 0
	return true
}

// Fresh returns prefix if it is unused, otherwise the first free
// "prefix_N" with N counting up from 1. The returned name is reserved.
func (c *NameContext) Fresh(prefix string) string {
	if c.Reserve(prefix) {
		return prefix
	}
	for {
		c.used[prefix]++
		candidate := fmt.Sprintf("%s_%d", prefix, c.used[prefix])
		if c.Reserve(candidate) {
			return candidate
		}
	}
}

// Len returns the number of reserved names.
func (c *NameContext) Len() int {
	return len(c.used)
}

// Reset forgets every reserved name. Used between independent runs that
// must produce identical names.
func (c *NameContext) Reset() {
	c.used = make(map[string]int)
}

// Clone returns an independent copy.
func (c *NameContext) Clone() *NameContext {
	return &NameContext{used: maps.Clone(c.used)}
}
