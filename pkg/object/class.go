package object

// FieldType is the optional declared type of a class field, checked when
// SETPROP writes the field.
type FieldType uint8

const (
	FieldUntyped FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
	FieldString
)

// FieldPrivateBit is packed alongside a field's FieldType in ADDFIELD's
// type constant: the low nibble carries the FieldType, this bit marks the
// field private to its declaring class. Packing both into one constant
// keeps ADDFIELD a 3-operand instruction instead of growing a 4th operand
// just for one boolean.
const FieldPrivateBit int64 = 1 << 4

// DecodeFieldTypeConst splits a packed ADDFIELD type constant back into
// its declared type and privacy bit.
func DecodeFieldTypeConst(packed int64) (FieldType, bool) {
	return FieldType(packed &^ FieldPrivateBit), packed&FieldPrivateBit != 0
}

func (t FieldType) Accepts(v Value) bool {
	switch t {
	case FieldUntyped:
		return true
	case FieldInt:
		return v.IsNull() || v.IsInt()
	case FieldFloat:
		return v.IsNull() || v.IsNumber()
	case FieldBool:
		return v.IsNull() || v.IsBool()
	case FieldString:
		return v.IsNull() || v.IsObjType(ObjString)
	default:
		return true
	}
}

// FieldDesc names one declared field and its position in an instance's
// flex array: inherited fields occupy the low indices, own fields follow.
// Owner names the class that declared the field, so a private field copied
// down the inheritance chain stays accessible to its declaring class's
// methods and nobody else's.
type FieldDesc struct {
	Name    string
	Type    FieldType
	Private bool
	Owner   string
}

// OperatorKind names which overloadable operator a Method implements, when
// Method.IsOperator is set.
type OperatorKind uint8

const (
	OpKindNone OperatorKind = iota
	OpKindAdd
	OpKindSub
	OpKindMul
	OpKindDiv
	OpKindMod
	OpKindEq
	OpKindNe
	OpKindLt
	OpKindLe
	OpKindGt
	OpKindGe
)

// Method binds a name to compiled code plus the flags the data model
// tracks: static, private, constructor, getter, setter, operator.
type Method struct {
	Name          string
	Proto         *Proto
	Upvalues      []*Upvalue // captured at METHOD time from the declaring closure
	IsStatic      bool
	IsPrivate     bool
	IsConstructor bool
	IsGetter      bool
	IsSetter      bool
	IsOperator    bool
	Operator      OperatorKind
}

// Class carries a name, an optional superclass, the ordered field array
// (inherited fields first), a dense method table indexed by global method
// symbol for O(1) dispatch, and separate static-method/static-field
// storage.
type Class struct {
	Header
	Name    string
	Super   *Class
	Fields  []FieldDesc
	Methods []*Method // dense, indexed by symbol; nil entries mean "unset here"

	StaticMethods map[int]*Method
	StaticFields  map[string]Value

	// Getters and Setters hold `get name()`/`set name(v)` methods, keyed by
	// the same symbol a plain method of that name would use. They are kept
	// out of Methods so a property can have both without one overwriting
	// the other in the dense method table.
	Getters map[int]*Method
	Setters map[int]*Method
}

func (c *Class) header() *Header { return &c.Header }

func NewClass(name string) *Class {
	return &Class{
		Header:        Header{Type: ObjClass},
		Name:          name,
		StaticMethods: make(map[int]*Method),
		StaticFields:  make(map[string]Value),
		Getters:       make(map[int]*Method),
		Setters:       make(map[int]*Method),
	}
}

func (c *Class) FieldCount() int { return len(c.Fields) }

// FieldIndex returns the positional index of a declared field by name, or
// -1 if the class (including its ancestors, already folded into Fields by
// INHERIT) does not declare it.
func (c *Class) FieldIndex(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// SetMethod stores m in the dense method table at symbol, growing the
// table as needed.
func (c *Class) SetMethod(symbol int, m *Method) {
	if symbol >= len(c.Methods) {
		grown := make([]*Method, symbol+1)
		copy(grown, c.Methods)
		c.Methods = grown
	}
	c.Methods[symbol] = m
}

// LookupMethod walks the superclass chain, so a symbol a subclass hasn't
// overridden resolves to the nearest ancestor's method.
func (c *Class) LookupMethod(symbol int) *Method {
	for k := c; k != nil; k = k.Super {
		if symbol < len(k.Methods) && k.Methods[symbol] != nil {
			return k.Methods[symbol]
		}
	}
	return nil
}

// LookupGetter and LookupSetter walk the superclass chain the same way
// LookupMethod does, resolving a `get`/`set` accessor declared anywhere in
// the ancestry.
func (c *Class) LookupGetter(symbol int) *Method {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.Getters[symbol]; ok {
			return m
		}
	}
	return nil
}

func (c *Class) LookupSetter(symbol int) *Method {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.Setters[symbol]; ok {
			return m
		}
	}
	return nil
}

// Instance is an object header, a class pointer, and an inline flex array
// of field values sized to the class's field count, initialized to null.
type Instance struct {
	Header
	Class  *Class
	Fields []Value
}

func (i *Instance) header() *Header { return &i.Header }

func NewInstance(class *Class) *Instance {
	fields := make([]Value, class.FieldCount())
	for idx := range fields {
		fields[idx] = Null()
	}
	return &Instance{Header: Header{Type: ObjInstance}, Class: class, Fields: fields}
}

// BoundMethod pairs a receiver with one of its class's methods, produced
// when a property access resolves to a method rather than a field (so the
// method can be passed around as a first-class value).
type BoundMethod struct {
	Header
	Receiver Value
	Method   *Method
}

func (b *BoundMethod) header() *Header { return &b.Header }

func NewBoundMethod(receiver Value, m *Method) *BoundMethod {
	return &BoundMethod{Header: Header{Type: ObjBoundMethod}, Receiver: receiver, Method: m}
}
