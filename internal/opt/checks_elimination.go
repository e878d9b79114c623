package opt

import (
	"bytec/internal/analysis"
	"bytec/internal/ir"
)

// ChecksElimination removes runtime guards it can prove redundant and
// hoists loop-invariant guards into the preheader as DeoptimizeIf. Every
// eliminated check becomes a NOP with its users re-pointed at the guarded
// value, or at an equivalent dominating check when it is a duplicate;
// Cleanup sweeps the husks.
type ChecksElimination struct{}

func shiftRange(r analysis.Range, k int64) (analysis.Range, bool) { return r.Shift(k) }

func (ce *ChecksElimination) Name() string { return "ChecksElimination" }

func (ce *ChecksElimination) Description() string {
	return "Eliminates and hoists bounds, null, zero, negative and ref-type checks"
}

type checksRun struct {
	g       *ir.Graph
	dom     *ir.DomTree
	loops   *ir.LoopTree
	bounds  *analysis.BoundsAnalysis
	bridges *analysis.SaveStateBridges
	changed bool
}

func (ce *ChecksElimination) Apply(g *ir.Graph) bool {
	run := &checksRun{
		g:       g,
		dom:     g.DominatorTree(),
		loops:   g.LoopAnalysis(),
		bounds:  analysis.NewBoundsAnalysis(g),
		bridges: analysis.NewSaveStateBridges(g),
	}
	for _, b := range g.BlocksRPO() {
		run.groupedBoundsChecks(b)
		for _, i := range b.Insts() {
			if i.IsNop() {
				continue
			}
			switch i.Opcode() {
			case ir.OpNullCheck:
				run.visitNullCheck(i)
			case ir.OpBoundsCheck:
				run.visitBoundsCheck(i)
			case ir.OpZeroCheck:
				run.visitZeroCheck(i)
			case ir.OpNegativeCheck:
				run.visitNegativeCheck(i)
			case ir.OpRefTypeCheck:
				run.visitRefTypeCheck(i)
			}
		}
	}
	run.hoistLoopChecks()
	return run.changed
}

// eliminate folds the check onto value: the value it guards, or an
// equivalent check that dominates it.
func (r *checksRun) eliminate(check, value *ir.Inst) {
	check.ReplaceUsers(value)
	check.MakeNop()
	r.changed = true
}

// replaceWithDeoptimize rewrites a check that always fails into an
// unconditional Deoptimize; the block tail after it is unreachable and is
// dropped together with the successor edges.
func (r *checksRun) replaceWithDeoptimize(check *ir.Inst, reason ir.DeoptReason) {
	b := check.Block()
	ss := check.SaveStateInput()

	deopt := r.g.NewInstWithInputs(ir.OpDeoptimize, ir.TypeNone, ss)
	deopt.SetDeoptReason(reason)
	check.InsertBefore(deopt)

	// Detach the dead tail in reverse order so intra-tail uses unwind.
	tail := []*ir.Inst{}
	for i := deopt.Next(); i != nil; i = i.Next() {
		tail = append(tail, i)
	}
	for n := len(tail) - 1; n >= 0; n-- {
		tail[n].ReplaceUsers(deopt) // only dead users remain
		b.RemoveInst(tail[n])
	}

	for _, s := range append([]*ir.BasicBlock(nil), b.Succs()...) {
		idx := s.PredIndex(b)
		for _, phi := range append([]*ir.Inst(nil), s.Phis()...) {
			if idx < phi.InputsCount() {
				phi.RemoveInput(idx)
			}
		}
		b.RemoveSucc(s)
	}
	b.AddSucc(r.g.EndBlock())
	r.g.InvalidateAnalyses()
	r.dom = r.g.DominatorTree()
	r.loops = r.g.LoopAnalysis()
	r.bounds = analysis.NewBoundsAnalysis(r.g)
	r.changed = true
}

// dominatingCheck finds an equivalent check above this one by scanning the
// guarded value's users.
func (r *checksRun) dominatingCheck(check *ir.Inst, sameInputs int) *ir.Inst {
	value := check.Input(0)
	for _, u := range value.Users() {
		if u == check || u.Opcode() != check.Opcode() || u.IsNop() {
			continue
		}
		same := true
		for n := 0; n < sameInputs; n++ {
			if u.Input(n) != check.Input(n) {
				same = false
				break
			}
		}
		if !same {
			continue
		}
		if r.dom.InstDominates(u, check) {
			return u
		}
	}
	return nil
}

func (r *checksRun) visitNullCheck(check *ir.Inst) {
	value := check.Input(0)

	if value.IsNullConstant() {
		r.replaceWithDeoptimize(check, ir.DeoptNullCheck)
		return
	}
	if r.provenNonNull(value, check) {
		r.eliminate(check, value)
		return
	}
	if dup := r.dominatingCheck(check, 1); dup != nil {
		r.eliminate(check, dup)
	}
}

func (r *checksRun) provenNonNull(value, at *ir.Inst) bool {
	switch value.Opcode() {
	case ir.OpNewArray, ir.OpNewObject, ir.OpLoadString, ir.OpLoadConstArray:
		return true
	case ir.OpNullCheck:
		return true
	}
	// a dominating DeoptimizeIf(value == null) guard proves non-null below
	for _, u := range value.Users() {
		if u.Opcode() != ir.OpCompare || u.CC() != ir.CCEq {
			continue
		}
		other := u.Input(0)
		if other == value {
			other = u.Input(1)
		}
		if !other.IsNullConstant() {
			continue
		}
		for _, du := range u.Users() {
			if du.Opcode() == ir.OpDeoptimizeIf && r.dom.InstDominates(du, at) {
				return true
			}
		}
	}
	return false
}

func (r *checksRun) visitBoundsCheck(check *ir.Inst) {
	lenInst, idx := check.Input(0), check.Input(1)
	at := check.Block()

	idxRange := r.bounds.RangeOf(idx, at)
	lenRange := r.bounds.RangeOf(lenInst, at)

	// Provably in range: 0 <= idx and idx < len on every path.
	if idxRange.IsNonNegative() && idxRange.Max < lenRange.Min {
		r.eliminate(check, idx)
		return
	}
	// Provably out of range.
	if idxRange.IsNegative() || (lenRange.IsExact() && idxRange.Min >= lenRange.Max) {
		r.replaceWithDeoptimize(check, ir.DeoptBoundsCheck)
		return
	}
	if dup := r.dominatingCheck(check, 2); dup != nil {
		r.eliminate(check, dup)
	}
}

func (r *checksRun) visitZeroCheck(check *ir.Inst) {
	value := check.Input(0)
	vr := r.bounds.RangeOf(value, check.Block())
	if vr.IsExact() && vr.Min == 0 {
		r.replaceWithDeoptimize(check, ir.DeoptZeroCheck)
		return
	}
	if !vr.Within(0, 0) && (vr.Min > 0 || vr.Max < 0) {
		r.eliminate(check, value)
		return
	}
	if dup := r.dominatingCheck(check, 1); dup != nil {
		r.eliminate(check, dup)
	}
}

func (r *checksRun) visitNegativeCheck(check *ir.Inst) {
	value := check.Input(0)
	vr := r.bounds.RangeOf(value, check.Block())
	if value.Opcode() == ir.OpAbs || vr.IsNonNegative() {
		r.eliminate(check, value)
		return
	}
	if vr.IsNegative() {
		r.replaceWithDeoptimize(check, ir.DeoptNegativeCheck)
		return
	}
	if dup := r.dominatingCheck(check, 1); dup != nil {
		r.eliminate(check, dup)
	}
}

func (r *checksRun) visitRefTypeCheck(check *ir.Inst) {
	stored := check.Input(1)
	// Storing the null literal never violates the element type.
	if stored.IsNullConstant() {
		r.eliminate(check, stored)
		return
	}
	// A dominating check for the same array/value pair covers this one.
	arr := check.Input(0)
	for _, u := range arr.Users() {
		if u == check || u.Opcode() != ir.OpRefTypeCheck || u.IsNop() {
			continue
		}
		if u.Input(0) == arr && u.Input(1) == stored && r.dom.InstDominates(u, check) {
			r.eliminate(check, u)
			return
		}
	}
}

// groupedBoundsChecks covers a same-block family of checks on one array at
// offsets base+c1..base+cn with two range guards, dropping the individual
// checks.
func (r *checksRun) groupedBoundsChecks(b *ir.BasicBlock) {
	type member struct {
		check  *ir.Inst
		offset int64
	}
	groups := make(map[[2]*ir.Inst][]member) // (len, base) -> members
	for _, i := range b.Insts() {
		if i.Opcode() != ir.OpBoundsCheck || i.IsNop() {
			continue
		}
		idx := i.Input(1)
		base, off := idx, int64(0)
		switch idx.Opcode() {
		case ir.OpAddI:
			base, off = idx.Input(0), idx.IntImm()
		case ir.OpSubI:
			base, off = idx.Input(0), -idx.IntImm()
		}
		key := [2]*ir.Inst{i.Input(0), base}
		groups[key] = append(groups[key], member{check: i, offset: off})
	}
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		lenInst, base := key[0], key[1]
		first := members[0].check
		ss := first.SaveStateInput()
		if ss == nil {
			continue
		}
		minOff, maxOff := members[0].offset, members[0].offset
		for _, m := range members[1:] {
			if m.offset < minOff {
				minOff = m.offset
			}
			if m.offset > maxOff {
				maxOff = m.offset
			}
		}

		zero := r.g.FindOrCreateConstant(base.Type(), 0)
		lowIdx := base
		if minOff != 0 {
			lowIdx = r.g.NewInstWithInputs(ir.OpAddI, base.Type(), base)
			lowIdx.SetIntImm(minOff)
			first.InsertBefore(lowIdx)
		}
		cmpLow := r.g.NewInstWithInputs(ir.OpCompare, ir.TypeBool, lowIdx, zero)
		cmpLow.SetCC(ir.CCLt)
		first.InsertBefore(cmpLow)
		deoptLow := r.g.NewInstWithInputs(ir.OpDeoptimizeIf, ir.TypeNone, cmpLow, ss)
		deoptLow.SetDeoptReason(ir.DeoptBoundsCheck)
		first.InsertBefore(deoptLow)

		highIdx := base
		if maxOff != 0 {
			highIdx = r.g.NewInstWithInputs(ir.OpAddI, base.Type(), base)
			highIdx.SetIntImm(maxOff)
			first.InsertBefore(highIdx)
		}
		cmpHigh := r.g.NewInstWithInputs(ir.OpCompare, ir.TypeBool, highIdx, lenInst)
		cmpHigh.SetCC(ir.CCGe)
		first.InsertBefore(cmpHigh)
		deoptHigh := r.g.NewInstWithInputs(ir.OpDeoptimizeIf, ir.TypeNone, cmpHigh, ss)
		deoptHigh.SetDeoptReason(ir.DeoptBoundsCheck)
		first.InsertBefore(deoptHigh)

		for _, m := range members {
			r.eliminate(m.check, m.check.Input(1))
		}
	}
}

// hoistLoopChecks moves invariant null checks and counted-loop bounds
// checks of every loop into its preheader, guarded by the preheader's
// SaveStateDeoptimize.
func (r *checksRun) hoistLoopChecks() {
	for _, loop := range r.loops.Loops {
		pre := loop.Preheader()
		if pre == nil {
			continue
		}
		ssd := findSaveStateDeoptimize(pre)
		if ssd == nil {
			continue
		}
		r.hoistNullChecks(loop, pre, ssd)
		r.hoistBoundsChecks(loop, pre, ssd)
	}
}

func findSaveStateDeoptimize(b *ir.BasicBlock) *ir.Inst {
	for _, i := range b.Insts() {
		if i.Opcode() == ir.OpSaveStateDeoptimize {
			return i
		}
	}
	return nil
}

func (r *checksRun) insertAtBlockEnd(b *ir.BasicBlock, i *ir.Inst) {
	if t := b.Terminator(); t != nil {
		b.InsertBefore(i, t)
	} else {
		b.AppendInst(i)
	}
}

func (r *checksRun) hoistNullChecks(loop *ir.Loop, pre *ir.BasicBlock, ssd *ir.Inst) {
	guarded := make(map[*ir.Inst]bool)
	for b := range loop.Blocks {
		for _, check := range b.Insts() {
			if check.Opcode() != ir.OpNullCheck || check.IsNop() {
				continue
			}
			value := check.Input(0)
			// Every iteration must test the same reference.
			if !r.dom.InstDominates(value, ssd) {
				continue
			}
			if !guarded[value] {
				cmp := r.g.NewInstWithInputs(ir.OpCompare, ir.TypeBool, value, r.g.GetNullPtr())
				cmp.SetCC(ir.CCEq)
				r.insertAtBlockEnd(pre, cmp)
				deopt := r.g.NewInstWithInputs(ir.OpDeoptimizeIf, ir.TypeNone, cmp, ssd)
				deopt.SetDeoptReason(ir.DeoptNullCheck)
				r.insertAtBlockEnd(pre, deopt)
				guarded[value] = true
			}
			r.eliminate(check, value)
		}
	}
}

// countedLoop recognises the canonical shape: a header phi stepping by a
// constant, compared against an invariant upper bound.
type countedLoop struct {
	phi    *ir.Inst
	init   *ir.Inst
	upper  *ir.Inst
	stepCC ir.ConditionCode
}

func (r *checksRun) matchCountedLoop(loop *ir.Loop) *countedLoop {
	header := loop.Header
	if !header.IsConditional() {
		return nil
	}
	iff := header.LastInst()
	cmp := iff.Input(0)
	if cmp.Opcode() != ir.OpCompare {
		return nil
	}
	for _, phi := range header.Phis() {
		if phi.InputsCount() != 2 {
			continue
		}
		preIdx := 0
		if loop.Contains(header.Pred(1)) {
			// back edge is pred 1; preheader input is 0
		} else {
			preIdx = 1
		}
		backIdx := 1 - preIdx
		update := phi.Input(backIdx)
		if update.Opcode() != ir.OpAddI && update.Opcode() != ir.OpSubI {
			continue
		}
		if update.Input(0) != phi {
			continue
		}
		if cmp.Input(0) != phi {
			continue
		}
		upper := cmp.Input(1)
		if !r.dom.InstDominates(upper, loop.Header.FirstInst()) || loop.Contains(upper.Block()) {
			continue
		}
		return &countedLoop{phi: phi, init: phi.Input(preIdx), upper: upper, stepCC: cmp.CC()}
	}
	return nil
}

func (r *checksRun) hoistBoundsChecks(loop *ir.Loop, pre *ir.BasicBlock, ssd *ir.Inst) {
	cl := r.matchCountedLoop(loop)
	if cl == nil || (cl.stepCC != ir.CCLt && cl.stepCC != ir.CCLe) {
		return
	}
	for b := range loop.Blocks {
		for _, check := range b.Insts() {
			if check.Opcode() != ir.OpBoundsCheck || check.IsNop() {
				continue
			}
			lenInst, idx := check.Input(0), check.Input(1)
			offset := int64(0)
			base := idx
			switch idx.Opcode() {
			case ir.OpAddI:
				base, offset = idx.Input(0), idx.IntImm()
			case ir.OpSubI:
				base, offset = idx.Input(0), -idx.IntImm()
			}
			if base != cl.phi {
				continue
			}
			// len(a) must be loop-invariant to compare against.
			lenOrigin := lenInst
			if !r.dom.InstDominates(cl.init, ssd) {
				continue
			}

			// Lower guard: init + offset < 0; skipped when provably safe.
			initRange := r.bounds.RangeOf(cl.init, pre)
			if lowRange, ok := shiftRange(initRange, offset); !ok || !lowRange.IsNonNegative() {
				lowIdx := cl.init
				if offset != 0 {
					ai := r.g.NewInstWithInputs(ir.OpAddI, cl.init.Type(), cl.init)
					ai.SetIntImm(offset)
					r.insertAtBlockEnd(pre, ai)
					lowIdx = ai
				}
				zero := r.g.FindOrCreateConstant(lowIdx.Type(), 0)
				cmpLow := r.g.NewInstWithInputs(ir.OpCompare, ir.TypeBool, lowIdx, zero)
				cmpLow.SetCC(ir.CCLt)
				r.insertAtBlockEnd(pre, cmpLow)
				dLow := r.g.NewInstWithInputs(ir.OpDeoptimizeIf, ir.TypeNone, cmpLow, ssd)
				dLow.SetDeoptReason(ir.DeoptBoundsCheck)
				r.insertAtBlockEnd(pre, dLow)
			}

			// Upper guard: upper + offset > len (>= for inclusive bounds).
			hoistedLen := r.hoistLen(loop, pre, lenOrigin)
			if hoistedLen == nil {
				continue
			}
			upIdx := cl.upper
			if offset != 0 {
				ai := r.g.NewInstWithInputs(ir.OpAddI, cl.upper.Type(), cl.upper)
				ai.SetIntImm(offset)
				r.insertAtBlockEnd(pre, ai)
				upIdx = ai
			}
			cmpHigh := r.g.NewInstWithInputs(ir.OpCompare, ir.TypeBool, upIdx, hoistedLen)
			if cl.stepCC == ir.CCLt {
				cmpHigh.SetCC(ir.CCGt)
			} else {
				cmpHigh.SetCC(ir.CCGe)
			}
			r.insertAtBlockEnd(pre, cmpHigh)
			dHigh := r.g.NewInstWithInputs(ir.OpDeoptimizeIf, ir.TypeNone, cmpHigh, ssd)
			dHigh.SetDeoptReason(ir.DeoptBoundsCheck)
			r.insertAtBlockEnd(pre, dHigh)

			r.eliminate(check, idx)
		}
	}
}

// hoistLen obtains the array length in the preheader: reuse it when the
// length already dominates the preheader, else recompute it from the
// invariant array reference.
func (r *checksRun) hoistLen(loop *ir.Loop, pre *ir.BasicBlock, lenInst *ir.Inst) *ir.Inst {
	if r.dom.InstDominates(lenInst, pre.LastInst()) && !loop.Contains(lenInst.Block()) {
		return lenInst
	}
	if lenInst.Opcode() != ir.OpLenArray {
		return nil
	}
	arr := lenInst.Input(0)
	if arr.Opcode() == ir.OpNullCheck {
		arr = arr.Input(0)
	}
	if loop.Contains(arr.Block()) {
		return nil
	}
	hoisted := r.g.NewInstWithInputs(ir.OpLenArray, lenInst.Type(), arr)
	r.insertAtBlockEnd(pre, hoisted)
	return hoisted
}
