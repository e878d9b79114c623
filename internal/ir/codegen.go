package ir

import (
	"fmt"

	"bytec/internal/program"
)

// LowerGraph rewrites fn's instruction list from the (optimized) graph.
// Checks and SaveStates disappear into the checked bytecodes they guard;
// hoisted Deoptimize/DeoptimizeIf guards lower to the deopt bytecode.
func LowerGraph(g *Graph, fn *program.Function) error {
	lw := &lowerer{
		g:      g,
		fn:     fn,
		regOf:  make(map[*Inst]uint16),
		labels: make(map[*BasicBlock]string),
	}
	return lw.run()
}

type lowerer struct {
	g  *Graph
	fn *program.Function

	order  []*BasicBlock
	regOf  map[*Inst]uint16
	labels map[*BasicBlock]string

	out []*program.Ins

	pendingLabel string
	tmpLabels    int
	nextReg      uint16
}

func (lw *lowerer) run() error {
	for _, b := range lw.g.BlocksRPO() {
		if b.IsStart() || b.IsEnd() {
			continue
		}
		lw.order = append(lw.order, b)
	}
	lw.assignRegs()
	for _, b := range lw.order {
		lw.labels[b] = fmt.Sprintf("bb%d", b.ID())
	}

	// Materialize pooled constants once, ahead of the body.
	for _, c := range lw.g.StartBlock().Insts() {
		switch c.Opcode() {
		case OpConstant:
			if !c.HasUsers() {
				continue
			}
			if c.ImmIsFloat() {
				lw.emit(program.OpFmovi, []uint16{lw.regOf[c]}, nil, []program.Imm{program.FloatImm(c.FloatImm())})
			} else {
				lw.emit(program.OpMovi, []uint16{lw.regOf[c]}, nil, []program.Imm{program.IntImm(c.IntImm())})
			}
		case OpNullPtr:
			if c.HasUsers() {
				lw.emit(program.OpLdaNull, []uint16{lw.regOf[c]}, nil, nil)
			}
		}
	}

	for n, b := range lw.order {
		lw.pendingLabel = lw.labels[b]
		var next *BasicBlock
		if n+1 < len(lw.order) {
			next = lw.order[n+1]
		}
		if err := lw.lowerBlock(b, next); err != nil {
			return err
		}
	}

	// Keep only labels that a jump targets: an unreferenced label would
	// split a block when the list is built into a graph again.
	targets := make(map[string]bool)
	for _, ins := range lw.out {
		if ins.IsJump() {
			targets[ins.JumpTarget()] = true
		}
	}
	for _, ins := range lw.out {
		if ins.HasLabel() && !targets[ins.Label()] {
			ins.RemoveLabel()
		}
	}

	lw.fn.Ins = lw.out
	return nil
}

// assignRegs gives every value-producing instruction its own register;
// parameters keep their aN slots above the locals.
func (lw *lowerer) assignRegs() {
	local := uint16(0)
	take := func(i *Inst) {
		lw.regOf[i] = local
		local++
	}
	for _, c := range lw.g.StartBlock().Insts() {
		if c.IsConst() && c.HasUsers() {
			take(c)
		}
	}
	for _, b := range lw.order {
		for _, phi := range b.Phis() {
			take(phi)
		}
		for _, i := range b.Insts() {
			if lw.producesValue(i) {
				take(i)
			}
		}
	}
	lw.fn.RegsNum = uint32(local)
	n := uint16(0)
	for _, p := range lw.g.StartBlock().Insts() {
		if p.Opcode() == OpParameter {
			lw.regOf[p] = local + n
			n++
		}
	}
	lw.nextReg = local + n
}

func (lw *lowerer) producesValue(i *Inst) bool {
	switch i.Opcode() {
	case OpNop, OpSaveState, OpSaveStateOsr, OpSaveStateDeoptimize, OpSafePoint,
		OpNullCheck, OpBoundsCheck, OpZeroCheck, OpNegativeCheck, OpRefTypeCheck,
		OpCheckCast, OpInitClass, OpLoadAndInitClass, OpDeoptimize, OpDeoptimizeIf,
		OpIfImm, OpReturn, OpReturnVoid, OpThrow, OpStoreArray, OpStoreObject,
		OpStoreStatic, OpMonitor:
		return false
	}
	return true
}

// resolve follows check instructions down to the value they guard.
func (lw *lowerer) resolve(i *Inst) *Inst {
	for {
		switch i.Opcode() {
		case OpNullCheck, OpZeroCheck, OpNegativeCheck:
			i = i.Input(0)
		case OpBoundsCheck, OpRefTypeCheck:
			i = i.Input(1)
		default:
			return i
		}
	}
}

func (lw *lowerer) reg(i *Inst) uint16 { return lw.regOf[lw.resolve(i)] }

func (lw *lowerer) emit(op program.Opcode, regs []uint16, ids []string, imms []program.Imm) *program.Ins {
	ins := &program.Ins{Opcode: op, Regs: regs, IDs: ids, Imms: imms}
	if lw.pendingLabel != "" {
		ins.SetLabel(lw.pendingLabel)
		lw.pendingLabel = ""
	}
	lw.out = append(lw.out, ins)
	return ins
}

func (lw *lowerer) freshLabel() string {
	lw.tmpLabels++
	return fmt.Sprintf("dl%d", lw.tmpLabels)
}

func (lw *lowerer) lowerBlock(b *BasicBlock, next *BasicBlock) error {
	for _, i := range b.Insts() {
		if err := lw.lowerInst(b, i); err != nil {
			return err
		}
	}

	// Phi moves for every successor, then the branch.
	if !b.IsConditional() {
		for _, s := range b.Succs() {
			lw.emitPhiMoves(b, s)
		}
		if len(b.Succs()) == 1 && b.Succs()[0] != lw.g.EndBlock() && b.Succs()[0] != next {
			lw.emit(program.OpJmp, nil, []string{lw.labels[b.Succs()[0]]}, nil)
		}
		// Ensure a dangling label still lands on an instruction.
		if lw.pendingLabel != "" {
			lw.emit(program.OpNop, nil, nil, nil)
		}
		return nil
	}

	iff := b.LastInst()
	trueSucc, falseSucc := b.TrueSucc(), b.FalseSucc()
	lw.emitPhiMoves(b, trueSucc)
	lw.emitPhiMoves(b, falseSucc)
	// A likely-taken branch prefers its true arm as the fall-through.
	if iff.Likely() && trueSucc == next && iff.IntImm() == 0 {
		lw.emitBranchNegated(iff, lw.labels[falseSucc])
		return nil
	}
	lw.emitBranch(iff, lw.labels[trueSucc])
	if falseSucc != next {
		lw.emit(program.OpJmp, nil, []string{lw.labels[falseSucc]}, nil)
	}
	return nil
}

func (lw *lowerer) emitBranchNegated(iff *Inst, target string) {
	cond := iff.Input(0)
	if cond.Opcode() == OpCompare && len(cond.Users()) == 1 && iff.IntImm() == 0 && iff.CC() == CCNe {
		lw.emit(regJumps[cond.CC().Negated()], []uint16{lw.reg(cond.Input(0)), lw.reg(cond.Input(1))}, []string{target}, nil)
		return
	}
	lw.emit(zeroJumps[iff.CC().Negated()], []uint16{lw.reg(cond)}, []string{target}, nil)
}

var zeroJumps = map[ConditionCode]program.Opcode{
	CCEq: program.OpJeqz, CCNe: program.OpJnez, CCLt: program.OpJltz,
	CCLe: program.OpJlez, CCGt: program.OpJgtz, CCGe: program.OpJgez,
}

var regJumps = map[ConditionCode]program.Opcode{
	CCEq: program.OpJeq, CCNe: program.OpJne, CCLt: program.OpJlt,
	CCLe: program.OpJle, CCGt: program.OpJgt, CCGe: program.OpJge,
}

func (lw *lowerer) emitBranch(iff *Inst, target string) {
	cond := iff.Input(0)
	// A Compare consumed only by this branch folds into a register jump.
	if cond.Opcode() == OpCompare && len(cond.Users()) == 1 && iff.IntImm() == 0 && iff.CC() == CCNe {
		lw.emit(regJumps[cond.CC()], []uint16{lw.reg(cond.Input(0)), lw.reg(cond.Input(1))}, []string{target}, nil)
		return
	}
	if iff.IntImm() == 0 {
		lw.emit(zeroJumps[iff.CC()], []uint16{lw.reg(cond)}, []string{target}, nil)
		return
	}
	// Non-zero immediate: compare against a scratch constant.
	scratch := lw.scratchReg()
	lw.emit(program.OpMovi, []uint16{scratch}, nil, []program.Imm{program.IntImm(iff.IntImm())})
	lw.emit(regJumps[iff.CC()], []uint16{lw.reg(cond), scratch}, []string{target}, nil)
}

func (lw *lowerer) scratchReg() uint16 {
	r := lw.nextReg
	lw.nextReg++
	return r
}

func (lw *lowerer) emitPhiMoves(from, to *BasicBlock) {
	idx := to.PredIndex(from)
	if idx < 0 {
		return
	}
	for _, phi := range to.Phis() {
		src := lw.reg(phi.Input(idx))
		dst := lw.regOf[phi]
		if src != dst {
			lw.emit(program.OpMov, []uint16{dst, src}, nil, nil)
		}
	}
}

var binopLowering = map[Opcode]program.Opcode{
	OpAdd: program.OpAdd, OpSub: program.OpSub, OpMul: program.OpMul,
	OpDiv: program.OpDiv, OpMod: program.OpMod, OpMin: program.OpMin,
	OpMax: program.OpMax, OpShl: program.OpShl, OpShr: program.OpShr,
	OpAShr: program.OpAshr, OpAnd: program.OpAnd, OpOr: program.OpOr,
	OpXor: program.OpXor,
}

func (lw *lowerer) lowerInst(b *BasicBlock, i *Inst) error {
	switch i.Opcode() {
	case OpNop, OpSaveState, OpSaveStateOsr, OpSaveStateDeoptimize, OpSafePoint,
		OpNullCheck, OpBoundsCheck, OpZeroCheck, OpNegativeCheck, OpRefTypeCheck,
		OpIfImm, OpParameter, OpConstant, OpNullPtr:
		// folded into their users or emitted elsewhere

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpMin, OpMax, OpShl, OpShr, OpAShr, OpAnd, OpOr, OpXor:
		lw.emit(binopLowering[i.Opcode()], []uint16{lw.regOf[i], lw.reg(i.Input(0)), lw.reg(i.Input(1))}, nil, nil)
	case OpAddI:
		lw.emit(program.OpAddi, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, []program.Imm{program.IntImm(i.IntImm())})
	case OpSubI:
		lw.emit(program.OpSubi, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, []program.Imm{program.IntImm(i.IntImm())})
	case OpNeg:
		lw.emit(program.OpNeg, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, nil)
	case OpAbs:
		lw.emit(program.OpAbs, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, nil)
	case OpNot:
		lw.emit(program.OpNot, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, nil)
	case OpCast:
		lw.emit(program.OpCast, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpCmp:
		lw.emit(program.OpCmp, []uint16{lw.regOf[i], lw.reg(i.Input(0)), lw.reg(i.Input(1))}, nil, nil)
	case OpCompare:
		if lw.onlyBranchUse(i) {
			break // folded into the jump
		}
		lw.emit(program.OpScmp, []uint16{lw.regOf[i], lw.reg(i.Input(0)), lw.reg(i.Input(1))}, nil,
			[]program.Imm{program.IntImm(int64(i.CC()))})

	case OpNewArray:
		lw.emit(program.OpNewarr, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpLenArray:
		lw.emit(program.OpLenarr, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, nil, nil)
	case OpLoadArray:
		lw.emit(program.OpLdarr, []uint16{lw.regOf[i], lw.reg(i.Input(0)), lw.reg(i.Input(1))}, nil, nil)
	case OpStoreArray:
		lw.emit(program.OpStarr, []uint16{lw.reg(i.Input(0)), lw.reg(i.Input(1)), lw.reg(i.Input(2))}, nil, nil)
	case OpNewObject:
		lw.emit(program.OpNewobj, []uint16{lw.regOf[i]}, []string{i.TypeID()}, nil)
	case OpLoadObject:
		lw.emit(program.OpLdobj, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpStoreObject:
		lw.emit(program.OpStobj, []uint16{lw.reg(i.Input(0)), lw.reg(i.Input(1))}, []string{i.TypeID()}, nil)
	case OpLoadStatic:
		lw.emit(program.OpLdstatic, []uint16{lw.regOf[i]}, []string{i.TypeID()}, nil)
	case OpStoreStatic:
		lw.emit(program.OpStstatic, []uint16{lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpLoadString:
		lw.emit(program.OpLdaStr, []uint16{lw.regOf[i]}, []string{i.TypeID()}, nil)
	case OpLoadConstArray:
		lw.emit(program.OpLdaConst, []uint16{lw.regOf[i]}, []string{i.TypeID()}, nil)

	case OpIsInstance:
		lw.emit(program.OpIsinstance, []uint16{lw.regOf[i], lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpCheckCast:
		lw.emit(program.OpCheckcast, []uint16{lw.reg(i.Input(0))}, []string{i.TypeID()}, nil)
	case OpInitClass, OpLoadAndInitClass:
		lw.emit(program.OpInitclass, nil, []string{i.TypeID()}, nil)

	case OpCallStatic, OpIntrinsic:
		regs := []uint16{lw.regOf[i]}
		for _, a := range i.DataInputs() {
			regs = append(regs, lw.reg(a))
		}
		op := program.OpCall
		if len(regs) <= 3 {
			op = program.OpCallShort
		}
		lw.emit(op, regs, []string{i.TypeID()}, nil)
	case OpCallVirtual:
		regs := []uint16{lw.regOf[i]}
		for _, a := range i.DataInputs() {
			regs = append(regs, lw.reg(a))
		}
		lw.emit(program.OpCallVirt, regs, []string{i.TypeID()}, nil)

	case OpMonitor:
		op := program.OpMonitorEnter
		if i.IsMonitorExit() {
			op = program.OpMonitorExit
		}
		lw.emit(op, []uint16{lw.reg(i.Input(0))}, nil, nil)

	case OpDeoptimize:
		lw.emit(program.OpDeopt, nil, nil, []program.Imm{program.IntImm(int64(i.DeoptReason()))})
	case OpDeoptimizeIf:
		// Branch around the deopt on the negated condition.
		skip := lw.freshLabel()
		cond := i.Input(0)
		if cond.Opcode() == OpCompare && lw.onlyDeoptUse(cond) {
			lw.emit(regJumps[cond.CC().Negated()],
				[]uint16{lw.reg(cond.Input(0)), lw.reg(cond.Input(1))}, []string{skip}, nil)
		} else {
			lw.emit(program.OpJeqz, []uint16{lw.reg(cond)}, []string{skip}, nil)
		}
		lw.emit(program.OpDeopt, nil, nil, []program.Imm{program.IntImm(int64(i.DeoptReason()))})
		lw.pendingLabel = skip

	case OpReturn:
		lw.emit(program.OpReturn, []uint16{lw.reg(i.Input(0))}, nil, nil)
	case OpReturnVoid:
		lw.emit(program.OpReturnVoid, nil, nil, nil)
	case OpThrow:
		lw.emit(program.OpThrow, []uint16{lw.reg(i.Input(0))}, nil, nil)

	default:
		return fmt.Errorf("cannot lower %s", i.Opcode())
	}
	return nil
}

func (lw *lowerer) onlyBranchUse(cmp *Inst) bool {
	users := cmp.Users()
	return len(users) == 1 && users[0].Opcode() == OpIfImm && users[0].IntImm() == 0 && users[0].CC() == CCNe
}

func (lw *lowerer) onlyDeoptUse(cmp *Inst) bool {
	users := cmp.Users()
	return len(users) == 1 && users[0].Opcode() == OpDeoptimizeIf
}
