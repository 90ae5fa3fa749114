// Package symbol implements the global bidirectional mapping between
// method/operator names and dense integer symbols used for O(1) method
// dispatch. Integers are assigned monotonically and never reused.
package symbol

import "github.com/dolthub/swiss"

// Predefined symbols. These occupy indices 0-14 and are asserted to land
// there during Table initialization; the eleven operator symbols hold the
// contiguous block 4-14.
const (
	Constructor = iota
	ToString
	Iterator
	Length
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	numPredefined
)

var predefinedNames = [numPredefined]string{
	Constructor: "constructor",
	ToString:    "toString",
	Iterator:    "iterator",
	Length:      "length",
	OpAdd:       "+",
	OpSub:       "-",
	OpMul:       "*",
	OpDiv:       "/",
	OpMod:       "%",
	OpEq:        "==",
	OpNe:        "!=",
	OpLt:        "<",
	OpLe:        "<=",
	OpGt:        ">",
	OpGe:        ">=",
}

// Table is the global symbol table: name -> int via a Swiss-table hash map
// (shared domain-stack dependency with the string intern pool and the Map
// object), int -> name via a dense slice.
type Table struct {
	byName *swiss.Map[string, int]
	byID   []string
}

// New creates a Table with the predefined symbols installed at their
// mandated indices 0-14.
func New() *Table {
	t := &Table{
		byName: swiss.NewMap[string, int](64),
		byID:   make([]string, 0, 64),
	}
	for i, name := range predefinedNames {
		id := t.getOrCreate(name)
		if id != i {
			panic("symbol: predefined symbol assigned unexpected index")
		}
	}
	return t
}

// getOrCreate is the unexported growth path shared by New (for the
// predefined set) and GetOrCreate.
func (t *Table) getOrCreate(name string) int {
	if id, ok := t.byName.Get(name); ok {
		return id
	}
	id := len(t.byID)
	t.byID = append(t.byID, name)
	t.byName.Put(name, id)
	return id
}

// GetOrCreate is the only growth API, called at compile time and never at
// runtime.
func (t *Table) GetOrCreate(name string) int {
	return t.getOrCreate(name)
}

// IDFor is the non-creating counterpart to GetOrCreate: it reports whether
// name has already been assigned a symbol, without ever allocating one.
// The VM uses this at runtime (property/method-name resolution) where
// allocating a fresh symbol would violate the compile-time-only growth
// rule: a name IDFor can't find simply isn't a method/property any loaded
// class declares.
func (t *Table) IDFor(name string) (int, bool) {
	return t.byName.Get(name)
}

// Lookup returns a symbol's name if it has been assigned.
func (t *Table) Lookup(id int) (string, bool) {
	if id < 0 || id >= len(t.byID) {
		return "", false
	}
	return t.byID[id], true
}

// Count reports how many symbols have been assigned so far (for the
// disassembler and trace output).
func (t *Table) Count() int { return len(t.byID) }
