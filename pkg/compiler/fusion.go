package compiler

import "github.com/xray-lang/xray/pkg/object"

// fuse runs after peephole and folds a constant/immediate load immediately
// followed by its sole consuming arithmetic or comparison op into the op's
// constant/immediate variant, eliminating the separate load. "Sole
// consumer" is checked against the whole instruction stream via the
// register-read model below: a load that initializes a named local (read
// again on a later iteration or statement) must survive.
//
// TEST+JMP pairs are left unfused: the VM has no combined "compare against
// constant and branch" opcode. This pass does not look at those pairs at
// all and keeps no count of them; they pass through unchanged.
func fuse(proto *object.Proto) {
	fuseLoadKArith(proto)
	fuseLoadKComparison(proto)
}

// readsRegister reports whether instr reads register reg. Write-only
// operands don't count; range-consuming opcodes (calls, SETLIST, CLOSE)
// count every register in their range.
func readsRegister(instr uint32, reg uint8) bool {
	op, a, b, c := object.DecodeABC(instr)
	inRange := func(lo uint8, n uint8) bool {
		return reg >= lo && uint16(reg) <= uint16(lo)+uint16(n)
	}
	switch op {
	case object.OpMove, object.OpUnm, object.OpNot,
		object.OpAddI, object.OpSubI, object.OpMulI,
		object.OpAddK, object.OpSubK, object.OpMulK,
		object.OpGetI, object.OpGetField, object.OpGetProp, object.OpGetSuper:
		return reg == b
	case object.OpAdd, object.OpSub, object.OpMul, object.OpDiv, object.OpMod,
		object.OpGetTable:
		return reg == b || reg == c
	case object.OpEq, object.OpNe, object.OpLt, object.OpLe, object.OpGt, object.OpGe:
		return reg == a || reg == b
	case object.OpLtI, object.OpLeI, object.OpGtI, object.OpGeI,
		object.OpTest, object.OpSetUpval, object.OpSetGlobal, object.OpDefGlobal,
		object.OpPrint, object.OpReturn, object.OpAddField:
		return reg == a
	case object.OpTestSet:
		return reg == b
	case object.OpSetTable:
		return reg == a || reg == b || reg == c
	case object.OpSetI, object.OpSetField, object.OpSetProp:
		return reg == a || reg == c
	case object.OpInherit:
		return reg == a || reg == b
	case object.OpMethod, object.OpStaticMethod:
		return reg == a || reg == c
	case object.OpCall, object.OpCallSelf, object.OpTailCall, object.OpSetList:
		return inRange(a, b)
	case object.OpInvoke, object.OpSuperInvoke:
		return inRange(a, c)
	case object.OpClose:
		return reg >= a
	default:
		return false
	}
}

// soleConsumer reports whether the instruction at usePC is the only reader
// of reg in the whole proto, so the load at loadPC can be folded away.
// CLOSURE counts as reading every parent register its child captures: the
// upvalue aliases the slot for as long as the closure lives.
func soleConsumer(proto *object.Proto, reg uint8, loadPC, usePC int) bool {
	for pc, instr := range proto.Code {
		if pc == loadPC || pc == usePC {
			continue
		}
		if object.Opcode(instr&0xFF) == object.OpClosure {
			_, _, bx := object.DecodeABx(instr)
			if int(bx) < len(proto.Children) && capturesRegister(proto.Children[bx], reg) {
				return false
			}
			continue
		}
		if readsRegister(instr, reg) {
			return false
		}
	}
	return true
}

func capturesRegister(child *object.Proto, reg uint8) bool {
	for _, u := range child.Upvalues {
		if u.IsLocal && u.Index == reg {
			return true
		}
	}
	return false
}

func arithKVariant(op object.Opcode) (object.Opcode, bool) {
	switch op {
	case object.OpAdd:
		return object.OpAddK, true
	case object.OpSub:
		return object.OpSubK, true
	case object.OpMul:
		return object.OpMulK, true
	default:
		return 0, false
	}
}

// fuseLoadKArith rewrites `LOADK rX, k; ADD/SUB/MUL ra, rb, rX` into
// `ADDK/SUBK/MULK ra, rb, k` whenever the constant index fits the opcode's
// 8-bit C operand, rX is not also the left operand (which would mean the
// constant is being used twice, once per side), and nothing else reads rX.
func fuseLoadKArith(proto *object.Proto) {
	for pc := 1; pc < len(proto.Code); pc++ {
		loadOp, loadDst, bx := object.DecodeABx(proto.Code[pc-1])
		if (loadOp != object.OpLoadK && loadOp != object.OpLoadF) || bx > 255 {
			continue
		}
		op, ra, rb, rc := object.DecodeABC(proto.Code[pc])
		kOp, ok := arithKVariant(op)
		if !ok || rc != loadDst || rb == loadDst {
			continue
		}
		if !soleConsumer(proto, loadDst, pc-1, pc) {
			continue
		}
		proto.Code[pc] = object.EncodeABC(kOp, ra, rb, uint8(bx))
		proto.Code[pc-1] = object.EncodeABC(object.OpNop, 0, 0, 0)
	}
}

func comparisonIVariant(op object.Opcode) (object.Opcode, bool) {
	switch op {
	case object.OpLt:
		return object.OpLtI, true
	case object.OpLe:
		return object.OpLeI, true
	case object.OpGt:
		return object.OpGtI, true
	case object.OpGe:
		return object.OpGeI, true
	default:
		return 0, false
	}
}

// fuseLoadKComparison rewrites a small-integer load feeding the right
// operand of LT/LE/GT/GE into the comparison's immediate form, preserving
// the original k-bit (boolean-materialize vs. if-specialized). The load may
// be a LOADI (the usual shape, since small ints never reach the constant
// pool) or a LOADK of an int constant that happens to fit 8 bits.
func fuseLoadKComparison(proto *object.Proto) {
	for pc := 1; pc < len(proto.Code); pc++ {
		loadDst, imm, ok := smallIntLoad(proto, proto.Code[pc-1])
		if !ok {
			continue
		}
		op, rb, rc, _, kbit := object.DecodeABCK(proto.Code[pc])
		iOp, ok := comparisonIVariant(op)
		if !ok || rc != loadDst || rb == loadDst {
			continue
		}
		if !soleConsumer(proto, loadDst, pc-1, pc) {
			continue
		}
		proto.Code[pc] = object.EncodeABCK(iOp, rb, uint8(imm), 0, kbit)
		proto.Code[pc-1] = object.EncodeABC(object.OpNop, 0, 0, 0)
	}
}

// smallIntLoad recognizes a load of an integer representable as an 8-bit
// signed immediate, returning its destination register and the immediate.
func smallIntLoad(proto *object.Proto, instr uint32) (uint8, int8, bool) {
	switch object.Opcode(instr & 0xFF) {
	case object.OpLoadI:
		_, dst, sbx := object.DecodeAsBx(instr)
		if sbx < -128 || sbx > 127 {
			return 0, 0, false
		}
		return dst, int8(sbx), true
	case object.OpLoadK:
		_, dst, bx := object.DecodeABx(instr)
		if int(bx) >= len(proto.Constants) {
			return 0, 0, false
		}
		cst := proto.Constants[bx]
		if !cst.IsInt() || cst.AsInt() < -128 || cst.AsInt() > 127 {
			return 0, 0, false
		}
		return dst, int8(cst.AsInt()), true
	}
	return 0, 0, false
}
