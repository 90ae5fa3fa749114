package object

import "golang.org/x/exp/slices"

// UpvalDesc records how a closure over this Proto should obtain one of its
// upvalue cells: either by lifting a register out of the *parent* frame
// (IsLocal) or by inheriting an already-captured cell from the parent
// closure's own upvalue array.
type UpvalDesc struct {
	Index   uint8
	IsLocal bool
}

// Proto is the immutable, fully-compiled representation of one function
// (or the top-level script). It is write-only during compilation and
// read-only during execution.
type Proto struct {
	Header

	Code  []uint32
	Lines []int32

	Constants []Value
	Children  []*Proto
	Upvalues  []UpvalDesc

	NumParams  int
	MaxStack   int
	IsVararg   bool
	Name       string
	NumGlobals int

	// OwnerClass, when non-empty, names the class this Proto was compiled
	// as a method body for, so the VM can check private-member access from
	// the currently executing frame without a separate lookup table.
	OwnerClass string
	IsPrivate  bool
	IsGetter   bool
	IsSetter   bool

	// IsOperator/OperatorKind mirror the corresponding Method fields,
	// stamped at compile time so OpMethod's runtime handler can build a
	// fully-formed Method from just the Proto and its assigned symbol.
	IsOperator   bool
	OperatorKind OperatorKind

	constIndex map[constKey]int
}

func (p *Proto) header() *Header { return &p.Header }

func NewProto(name string) *Proto {
	return &Proto{
		Header:     Header{Type: ObjProto},
		Name:       name,
		Code:       make([]uint32, 0, 32),
		Lines:      make([]int32, 0, 32),
		constIndex: make(map[constKey]int),
	}
}

// constKey lets AddConstant deduplicate primitive constants in O(1); heap
// constants (nested literals) are never deduplicated since identity rarely
// matters for them and hashing them is not worth the complexity.
type constKey struct {
	kind Kind
	num  uint64
	str  string
}

// Emit appends one instruction word with its source line and returns the
// instruction's index (its future PC).
func (p *Proto) Emit(instr uint32, line int) int {
	pc := len(p.Code)
	p.Code = append(p.Code, instr)
	p.Lines = append(p.Lines, int32(line))
	return pc
}

// AddConstant appends v to the constant pool, deduplicating primitive
// values (ints, floats, interned strings) so repeated literals share one
// slot. Returns the constant's 16-bit index.
func (p *Proto) AddConstant(v Value) uint16 {
	var key constKey
	dedup := true
	switch v.Kind() {
	case KindInt:
		key = constKey{kind: KindInt, num: v.num}
	case KindFloat:
		key = constKey{kind: KindFloat, num: v.num}
	case KindObject:
		if s, ok := v.AsObject().(*String); ok {
			key = constKey{kind: KindObject, str: s.Chars}
		} else {
			dedup = false
		}
	default:
		dedup = false
	}
	if dedup {
		if idx, ok := p.constIndex[key]; ok {
			return uint16(idx)
		}
	}
	idx := len(p.Constants)
	p.Constants = append(p.Constants, v)
	if dedup {
		p.constIndex[key] = idx
	}
	return uint16(idx)
}

// AddChild appends a nested Proto (for a function/method literal) and
// returns its 16-bit index.
func (p *Proto) AddChild(child *Proto) uint16 {
	p.Children = append(p.Children, child)
	return uint16(len(p.Children) - 1)
}

// AddUpvalue records (or reuses) an upvalue descriptor, deduplicating an
// identical (index, is_local) pair.
func (p *Proto) AddUpvalue(index uint8, isLocal bool) uint8 {
	want := UpvalDesc{Index: index, IsLocal: isLocal}
	if i := slices.Index(p.Upvalues, want); i >= 0 {
		return uint8(i)
	}
	p.Upvalues = append(p.Upvalues, want)
	return uint8(len(p.Upvalues) - 1)
}
