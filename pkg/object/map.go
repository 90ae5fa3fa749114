package object

import "github.com/dolthub/swiss"

// Map is the language's dictionary object, keyed by any Value. Backed by a
// Swiss-table map (the same family used by the symbol table and the
// string intern pool) rather than Go's builtin map, so the whole domain
// stack shares one hash-map implementation.
type Map struct {
	Header
	table *swiss.Map[Value, Value]
	order []Value // insertion order, for stable Keys()/Values()/Entries()
}

func (m *Map) header() *Header { return &m.Header }

func NewMap(capHint int) *Map {
	if capHint < 8 {
		capHint = 8
	}
	return &Map{Header: Header{Type: ObjMap}, table: swiss.NewMap[Value, Value](uint32(capHint))}
}

func (m *Map) Get(key Value) (Value, bool) {
	return m.table.Get(key)
}

func (m *Map) Set(key Value, v Value) {
	if _, existed := m.table.Get(key); !existed {
		m.order = append(m.order, key)
	}
	m.table.Put(key, v)
}

func (m *Map) Has(key Value) bool {
	_, ok := m.table.Get(key)
	return ok
}

func (m *Map) Delete(key Value) bool {
	if !m.table.Has(key) {
		return false
	}
	m.table.Delete(key)
	for i, k := range m.order {
		if Equal(k, key) {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Map) Keys() []Value {
	out := make([]Value, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Map) Values() []Value {
	out := make([]Value, 0, len(m.order))
	for _, k := range m.order {
		v, _ := m.table.Get(k)
		out = append(out, v)
	}
	return out
}

type Entry struct {
	Key   Value
	Value Value
}

func (m *Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.order))
	for _, k := range m.order {
		v, _ := m.table.Get(k)
		out = append(out, Entry{Key: k, Value: v})
	}
	return out
}

func (m *Map) Size() int { return m.table.Count() }
