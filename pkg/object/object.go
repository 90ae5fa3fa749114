package object

// ObjType tags the concrete kind of a heap object.
type ObjType uint8

const (
	ObjString ObjType = iota + 1
	ObjArray
	ObjMap
	ObjProto
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
	ObjNative
)

func (t ObjType) String() string {
	switch t {
	case ObjString:
		return "string"
	case ObjArray:
		return "array"
	case ObjMap:
		return "map"
	case ObjProto:
		return "proto"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjClass:
		return "class"
	case ObjInstance:
		return "instance"
	case ObjBoundMethod:
		return "bound method"
	case ObjNative:
		return "native function"
	default:
		return "unknown"
	}
}

// Header is embedded at the front of every heap object. It carries the GC
// metadata a tracing collector needs (type tag, mark bit, intrusive
// next-pointer) even though the collection algorithm itself lives outside
// this tree: the VM still threads every allocation onto the live-object
// list and keeps the byte counter the allocation-pressure tracking needs.
type Header struct {
	Type   ObjType
	Marked bool
	Next   Obj
}

func (h *Header) ObjType() ObjType { return h.Type }

// Obj is implemented by every heap object. header() gives the allocator and
// a future collector uniform access to the mark bit and link pointer.
type Obj interface {
	ObjType() ObjType
	header() *Header
}
