// Package bytecode implements the on-disk serialization format for a
// compiled Proto tree: a 4-byte magic, a format version, the module's
// non-predefined symbol names, then each Proto as
// name/owner/flags/params/code/lineinfo/constants/upvalues/children,
// recursively. It exists
// so the CLI's `compile`/`disassemble` subcommands (see cmd/smog/main.go)
// have a real binary artifact to produce and read instead of only ever
// round-tripping through source. The CLI gives this format a ".sg" file
// extension.
package bytecode

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/xray-lang/xray/pkg/object"
)

const magic = "XRBC"
const formatVersion = 1

// Module is what gets written to a .sg file: the root Proto plus the
// non-predefined symbol names a fresh VM's symbol.Table must replay (in
// order) so INVOKE's raw symbol operands still name the right method when
// the file is loaded into a different process (symbols are assigned
// monotonically at compile time, never at runtime).
type Module struct {
	Root    *object.Proto
	Symbols []string
}

func Encode(m Module, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(magic); err != nil {
		return errors.WithStack(err)
	}
	if err := writeUint32(bw, formatVersion); err != nil {
		return err
	}
	if err := writeUint32(bw, uint32(len(m.Symbols))); err != nil {
		return err
	}
	for _, name := range m.Symbols {
		if err := writeString(bw, name); err != nil {
			return err
		}
	}
	if err := writeProto(bw, m.Root); err != nil {
		return err
	}
	return errors.WithStack(bw.Flush())
}

func Decode(r io.Reader) (Module, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(br, buf); err != nil {
		return Module{}, errors.Wrap(err, "reading magic")
	}
	if string(buf) != magic {
		return Module{}, errors.Errorf("not an xray bytecode file (bad magic %q)", buf)
	}
	version, err := readUint32(br)
	if err != nil {
		return Module{}, err
	}
	if version != formatVersion {
		return Module{}, errors.Errorf("unsupported bytecode format version %d", version)
	}
	symCount, err := readUint32(br)
	if err != nil {
		return Module{}, err
	}
	symbols := make([]string, symCount)
	for i := range symbols {
		s, err := readString(br)
		if err != nil {
			return Module{}, err
		}
		symbols[i] = s
	}
	root, err := readProto(br)
	if err != nil {
		return Module{}, err
	}
	return Module{Root: root, Symbols: symbols}, nil
}

func writeProto(w *bufio.Writer, p *object.Proto) error {
	if err := writeString(w, p.Name); err != nil {
		return err
	}
	if err := writeString(w, p.OwnerClass); err != nil {
		return err
	}
	flags := byte(0)
	if p.IsVararg {
		flags |= 1 << 0
	}
	if p.IsPrivate {
		flags |= 1 << 1
	}
	if p.IsGetter {
		flags |= 1 << 2
	}
	if p.IsSetter {
		flags |= 1 << 3
	}
	if p.IsOperator {
		flags |= 1 << 4
	}
	if err := w.WriteByte(flags); err != nil {
		return errors.WithStack(err)
	}
	if err := w.WriteByte(byte(p.OperatorKind)); err != nil {
		return errors.WithStack(err)
	}
	if err := writeUint32(w, uint32(p.NumParams)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(p.MaxStack)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(p.NumGlobals)); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(p.Code))); err != nil {
		return err
	}
	for _, instr := range p.Code {
		if err := writeUint32(w, instr); err != nil {
			return err
		}
	}
	if err := writeUint32(w, uint32(len(p.Lines))); err != nil {
		return err
	}
	for _, ln := range p.Lines {
		if err := writeUint32(w, uint32(ln)); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(p.Constants))); err != nil {
		return err
	}
	for _, c := range p.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(p.Upvalues))); err != nil {
		return err
	}
	for _, u := range p.Upvalues {
		if err := w.WriteByte(u.Index); err != nil {
			return errors.WithStack(err)
		}
		local := byte(0)
		if u.IsLocal {
			local = 1
		}
		if err := w.WriteByte(local); err != nil {
			return errors.WithStack(err)
		}
	}

	if err := writeUint32(w, uint32(len(p.Children))); err != nil {
		return err
	}
	for _, child := range p.Children {
		if err := writeProto(w, child); err != nil {
			return err
		}
	}
	return nil
}

func readProto(r *bufio.Reader) (*object.Proto, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	ownerClass, err := readString(r)
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	opKindByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	numParams, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	maxStack, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	numGlobals, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	p := object.NewProto(name)
	p.OwnerClass = ownerClass
	p.IsVararg = flags&(1<<0) != 0
	p.IsPrivate = flags&(1<<1) != 0
	p.IsGetter = flags&(1<<2) != 0
	p.IsSetter = flags&(1<<3) != 0
	p.IsOperator = flags&(1<<4) != 0
	p.OperatorKind = object.OperatorKind(opKindByte)
	p.NumParams = int(numParams)
	p.MaxStack = int(maxStack)
	p.NumGlobals = int(numGlobals)

	codeLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Code = make([]uint32, codeLen)
	for i := range p.Code {
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		p.Code[i] = v
	}
	lineLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Lines = make([]int32, lineLen)
	for i := range p.Lines {
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		p.Lines[i] = int32(v)
	}

	constLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Constants = make([]object.Value, constLen)
	for i := range p.Constants {
		v, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		p.Constants[i] = v
	}

	upLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if upLen > 0 {
		p.Upvalues = make([]object.UpvalDesc, upLen)
	}
	for i := range p.Upvalues {
		idx, err := r.ReadByte()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		local, err := r.ReadByte()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		p.Upvalues[i] = object.UpvalDesc{Index: idx, IsLocal: local != 0}
	}

	childLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	p.Children = make([]*object.Proto, childLen)
	for i := range p.Children {
		child, err := readProto(r)
		if err != nil {
			return nil, err
		}
		p.Children[i] = child
	}
	return p, nil
}

// Constant tags. Only primitives and interned strings ever land in a
// Proto's constant pool (see object.Proto.AddConstant); there is no case
// for a nested heap object because the compiler never puts one there.
const (
	constNull byte = iota
	constBool
	constInt
	constFloat
	constString
)

func writeConstant(w *bufio.Writer, v object.Value) error {
	switch {
	case v.IsNull():
		return w.WriteByte(constNull)
	case v.IsBool():
		if err := w.WriteByte(constBool); err != nil {
			return errors.WithStack(err)
		}
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		return errors.WithStack(w.WriteByte(b))
	case v.IsInt():
		if err := w.WriteByte(constInt); err != nil {
			return errors.WithStack(err)
		}
		return writeUint64(w, uint64(v.AsInt()))
	case v.IsFloat():
		if err := w.WriteByte(constFloat); err != nil {
			return errors.WithStack(err)
		}
		return writeUint64(w, doubleBits(v.AsFloat()))
	case v.IsObjType(object.ObjString):
		if err := w.WriteByte(constString); err != nil {
			return errors.WithStack(err)
		}
		s, _ := v.AsObject().(*object.String)
		return writeString(w, s.Chars)
	default:
		return errors.Errorf("bytecode: cannot encode constant of type %v", v.ObjType())
	}
}

func readConstant(r *bufio.Reader) (object.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return object.Value{}, errors.WithStack(err)
	}
	switch tag {
	case constNull:
		return object.Null(), nil
	case constBool:
		b, err := r.ReadByte()
		if err != nil {
			return object.Value{}, errors.WithStack(err)
		}
		return object.Bool(b != 0), nil
	case constInt:
		n, err := readUint64(r)
		if err != nil {
			return object.Value{}, err
		}
		return object.Int(int64(n)), nil
	case constFloat:
		n, err := readUint64(r)
		if err != nil {
			return object.Value{}, err
		}
		return object.Float(bitsDouble(n)), nil
	case constString:
		s, err := readString(r)
		if err != nil {
			return object.Value{}, err
		}
		// Constant-pool strings are not interned at load time; VM.Interpret
		// canonicalizes every string constant in the Proto tree against
		// its own pool before it runs the code.
		return object.FromObj(object.NewConstantString(s)), nil
	default:
		return object.Value{}, errors.Errorf("bytecode: unknown constant tag %d", tag)
	}
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return errors.WithStack(err)
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.WithStack(err)
	}
	return string(buf), nil
}

func doubleBits(f float64) uint64 { return math.Float64bits(f) }
func bitsDouble(n uint64) float64 { return math.Float64frombits(n) }
