package compiler

import "github.com/xray-lang/xray/pkg/object"

// runOptimizations runs the peephole and fusion passes over proto and every
// nested child Proto, in that order: peephole first (it changes code shape
// and removes dead instructions, then compacts NOPs so offsets are dense),
// fusion second (folds adjacent load+op pairs into immediate/constant
// variants, turning each removed load into a NOP; it does not re-run
// compaction, so the VM executes those NOPs as no-ops).
func (c *Compiler) runOptimizations(proto *object.Proto) {
	peephole(proto)
	fuse(proto)
	for _, child := range proto.Children {
		c.runOptimizations(child)
	}
}

// peephole performs five local rewrites over proto.Code, then compacts away
// any NOPs the rewrites produced:
//
//  1. unreachable-code elimination: any instruction following an
//     unconditional JMP or RETURN/TAILCALL, up to the next jump target, is
//     replaced with NOP. A JMP sitting right after a comparison or TEST is
//     conditional (the predecessor skips it on one outcome) and never
//     starts a dead region.
//  2. jump-chain collapse: a JMP whose target is itself another
//     unconditional JMP is redirected straight to the final target, bounded
//     to 100 hops to guard against a malformed cycle.
//  3. redundant-store removal: two adjacent side-effect-free loads into the
//     same register make the first one dead.
//  4. self-move elimination: MOVE A A is dropped (these appear after
//     register reuse in the allocator).
//  5. NOP compaction: all NOPs are removed, every remaining instruction's
//     PC shifts down accordingly, and every JMP's offset is rewritten to
//     still reach its original target; line info is preserved in lockstep.
//
// Reachability runs before jump-chain collapse, not after: collapsing first
// can redirect a jump through a chain that passes over soon-to-be-dead code,
// which would then be misread as a live landing pad by the reachability
// scan and survive when it shouldn't.
func peephole(proto *object.Proto) {
	markUnreachable(proto)
	collapseJumpChains(proto)
	removeRedundantStores(proto)
	removeSelfMoves(proto)
	compactNops(proto)
}

func isUnconditionalJump(instr uint32) bool {
	op, _ := object.DecodeSJ(instr)
	return op == object.OpJmp
}

// isConditionalPrefix reports whether instr conditionally skips its
// successor (the comparison/test family's PC++ convention). The
// instruction after such a prefix has two predecessors and is always live.
func isConditionalPrefix(instr uint32) bool {
	switch object.Opcode(instr & 0xFF) {
	case object.OpEq, object.OpNe, object.OpLt, object.OpLe, object.OpGt, object.OpGe,
		object.OpLtI, object.OpLeI, object.OpGtI, object.OpGeI,
		object.OpTest, object.OpTestSet:
		return true
	}
	return false
}

func jumpTarget(pc int, instr uint32) int {
	_, offset := object.DecodeSJ(instr)
	return pc + 1 + int(offset)
}

func collapseJumpChains(proto *object.Proto) {
	for pc, instr := range proto.Code {
		if !isUnconditionalJump(instr) {
			continue
		}
		target := jumpTarget(pc, instr)
		hops := 0
		for target >= 0 && target < len(proto.Code) && isUnconditionalJump(proto.Code[target]) && hops < 100 {
			next := jumpTarget(target, proto.Code[target])
			if next == target {
				break
			}
			target = next
			hops++
		}
		offset := int32(target - pc - 1)
		proto.Code[pc] = object.EncodeSJ(object.OpJmp, offset)
	}
}

func removeSelfMoves(proto *object.Proto) {
	for pc, instr := range proto.Code {
		op, a, b, _, _ := object.DecodeABCK(instr)
		if op == object.OpMove && a == b {
			proto.Code[pc] = object.EncodeABC(object.OpNop, 0, 0, 0)
		}
	}
}

func isTerminator(instr uint32) bool {
	op, _, _, _, _ := object.DecodeABCK(instr)
	if op == object.OpReturn || op == object.OpTailCall {
		return true
	}
	return isUnconditionalJump(instr)
}

// markUnreachable walks the code once, turning any instruction that directly
// follows a terminator into a NOP, unless some jump in the function targets
// it (a jump target always resumes execution, even right after a
// terminator, e.g. a loop's back-edge landing just past a RETURN in a
// sibling branch). A terminator whose predecessor is a comparison or TEST
// is reached conditionally — the predecessor's skip lands right past it —
// so it never opens a dead region.
func markUnreachable(proto *object.Proto) {
	// Collect jump targets so we never blank out a real landing pad (a loop
	// back-edge can legally land just past a RETURN in a sibling branch).
	targets := make(map[int]bool)
	for pc, instr := range proto.Code {
		if isUnconditionalJump(instr) {
			targets[jumpTarget(pc, instr)] = true
		}
	}

	dead := false
	for pc, instr := range proto.Code {
		if targets[pc] {
			dead = false
		}
		if dead {
			proto.Code[pc] = object.EncodeABC(object.OpNop, 0, 0, 0)
			continue
		}
		skippable := pc > 0 && isConditionalPrefix(proto.Code[pc-1])
		if isTerminator(instr) && !skippable {
			dead = true
		}
	}
}

// pureLoadDst returns the destination register of a side-effect-free load
// (the immediate/constant loads plus MOVE), or false for anything else.
func pureLoadDst(instr uint32) (uint8, bool) {
	op, a, _, _ := object.DecodeABC(instr)
	switch op {
	case object.OpLoadI, object.OpLoadF, object.OpLoadK,
		object.OpLoadNil, object.OpLoadTrue, object.OpLoadFalse, object.OpMove:
		return a, true
	}
	return 0, false
}

// removeRedundantStores blanks the first of two adjacent pure loads writing
// the same register: whichever path reaches the pair, the second write
// clobbers the first before anything can read it. A MOVE that reads the
// register it follows is kept.
func removeRedundantStores(proto *object.Proto) {
	for pc := 1; pc < len(proto.Code); pc++ {
		prevDst, prevPure := pureLoadDst(proto.Code[pc-1])
		curDst, curPure := pureLoadDst(proto.Code[pc])
		if !prevPure || !curPure || prevDst != curDst {
			continue
		}
		op, _, b, _ := object.DecodeABC(proto.Code[pc])
		if op == object.OpMove && b == prevDst {
			continue
		}
		proto.Code[pc-1] = object.EncodeABC(object.OpNop, 0, 0, 0)
	}
}

func compactNops(proto *object.Proto) {
	remap := make([]int, len(proto.Code))
	oldPCs := make([]int, 0, len(proto.Code))
	newCode := make([]uint32, 0, len(proto.Code))
	newLines := make([]int32, 0, len(proto.Lines))

	for pc, instr := range proto.Code {
		op, _, _, _, _ := object.DecodeABCK(instr)
		if op == object.OpNop {
			remap[pc] = -1
			continue
		}
		remap[pc] = len(newCode)
		oldPCs = append(oldPCs, pc)
		newCode = append(newCode, instr)
		if pc < len(proto.Lines) {
			newLines = append(newLines, proto.Lines[pc])
		}
	}

	// A jump whose old target was itself a NOP lands on the next surviving
	// instruction (or past the end, if it fell off the tail).
	landingFor := func(oldTarget int) int {
		for oldTarget < len(remap) && remap[oldTarget] == -1 {
			oldTarget++
		}
		if oldTarget >= len(remap) {
			return len(newCode)
		}
		return remap[oldTarget]
	}

	for pc, instr := range newCode {
		if !isUnconditionalJump(instr) {
			continue
		}
		oldTarget := jumpTarget(oldPCs[pc], instr)
		newTarget := landingFor(oldTarget)
		offset := int32(newTarget - pc - 1)
		newCode[pc] = object.EncodeSJ(object.OpJmp, offset)
	}

	proto.Code = newCode
	proto.Lines = newLines
}
