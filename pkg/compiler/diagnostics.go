package compiler

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// GlobalNames returns every declared global name indexed by its assigned
// slot, so a raw global index can be resolved back to a source name
// without walking the live VM state.
func (c *Compiler) GlobalNames() []string {
	names := make([]string, c.shared.globalCount)
	for name, idx := range c.shared.globalIndex {
		names[idx] = name
	}
	return names
}

// SortedGlobalNames snapshots the same names in lexical order, so a listing
// of them is stable across runs regardless of the order globals happened
// to be declared in.
func (c *Compiler) SortedGlobalNames() []string {
	names := maps.Keys(c.shared.globalIndex)
	slices.Sort(names)
	return names
}
