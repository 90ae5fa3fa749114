package object

import (
	"hash/fnv"

	"github.com/dolthub/swiss"
)

// String is an interned, immutable string object. Equality on strings is
// content equality, fast-pathed by interning: two String objects with the
// same content are always the same pointer (see Intern).
type String struct {
	Header
	Chars string
	Hash  uint64
}

func (s *String) header() *Header { return &s.Header }

// NewConstantString builds a String object outside the intern pool, for a
// constant-pool entry built by the compiler or freshly decoded from a
// serialized Proto (see pkg/bytecode). It is not interned against any
// Pool here: VM.Interpret canonicalizes every such constant against its
// own pool before running the Proto tree.
func NewConstantString(chars string) *String {
	return &String{Header: Header{Type: ObjString}, Chars: chars, Hash: hashString(chars)}
}

// Pool is the string intern pool: interned strings compare equal by
// identity, reached through a content-hash-keyed lookup. It is backed by
// a Swiss-table map for O(1) average lookup and insertion, the same hash
// map family wired into the symbol table and the Map object.
type Pool struct {
	table *swiss.Map[uint64, *String]
}

func NewPool() *Pool {
	return &Pool{table: swiss.NewMap[uint64, *String](64)}
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Intern returns the canonical *String for the given content, allocating
// and linking a new one into objs (the VM's live-object list) only on a
// genuine miss.
func (p *Pool) Intern(chars string, objs *ObjectList) *String {
	h := hashString(chars)
	if existing, ok := p.table.Get(h); ok && existing.Chars == chars {
		return existing
	}
	s := &String{Header: Header{Type: ObjString}, Chars: chars, Hash: h}
	if objs != nil {
		objs.Link(s)
	}
	p.table.Put(h, s)
	return s
}

// ObjectList is the VM's intrusive linked list of every live heap object,
// plus an allocation-pressure byte counter.
type ObjectList struct {
	Head  Obj
	Bytes uint64
}

// Link threads o onto the list head and bumps the allocation-pressure
// counter by a rough per-kind size estimate; collection itself is out of
// scope, this bookkeeping only feeds diagnostics and any future collector.
func (l *ObjectList) Link(o Obj) {
	h := o.header()
	h.Next = l.Head
	l.Head = o
	l.Bytes += approxSize(o)
}

func approxSize(o Obj) uint64 {
	switch v := o.(type) {
	case *String:
		return uint64(16 + len(v.Chars))
	case *Array:
		return uint64(24 + 16*len(v.Items))
	default:
		return 32
	}
}
