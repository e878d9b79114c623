package opt

import (
	"fmt"
	"strings"

	"bytec/internal/analysis"
	"bytec/internal/ir"
)

// ValNum assigns structural value numbers across the dominator tree and
// re-points users of redundant computations to their dominating twin. The
// replaced instruction is left as a NOP husk for Cleanup.
type ValNum struct{}

func (v *ValNum) Name() string { return "ValNum" }

func (v *ValNum) Description() string {
	return "Dominator-tree value numbering with commutativity and phi synthesis"
}

type vnScope struct {
	parent *vnScope
	defs   map[string][]*ir.Inst
}

func (s *vnScope) lookup(key string) []*ir.Inst {
	var out []*ir.Inst
	for x := s; x != nil; x = x.parent {
		out = append(out, x.defs[key]...)
	}
	return out
}

func (s *vnScope) add(key string, i *ir.Inst) {
	s.defs[key] = append(s.defs[key], i)
}

func (v *ValNum) Apply(g *ir.Graph) bool {
	vn := &valNumRun{
		g:       g,
		dom:     g.DominatorTree(),
		loops:   g.LoopAnalysis(),
		bridges: analysis.NewSaveStateBridges(g),
		alias:   analysis.NewAliasAnalysis(g),
	}
	children := make(map[*ir.BasicBlock][]*ir.BasicBlock)
	for _, b := range vn.dom.ReachableOrder() {
		if b == g.StartBlock() {
			continue
		}
		idom := vn.dom.IDom(b)
		children[idom] = append(children[idom], b)
	}
	vn.children = children
	vn.walk(g.StartBlock(), &vnScope{defs: make(map[string][]*ir.Inst)})
	vn.phiSynthesis()
	return vn.changed
}

type valNumRun struct {
	g        *ir.Graph
	dom      *ir.DomTree
	loops    *ir.LoopTree
	bridges  *analysis.SaveStateBridges
	alias    *analysis.AliasAnalysis
	children map[*ir.BasicBlock][]*ir.BasicBlock
	changed  bool
}

func (vn *valNumRun) walk(b *ir.BasicBlock, scope *vnScope) {
	for _, i := range b.Insts() {
		vn.visit(b, i, scope)
	}
	for _, c := range vn.children[b] {
		vn.walk(c, &vnScope{parent: scope, defs: make(map[string][]*ir.Inst)})
	}
}

func (vn *valNumRun) visit(b *ir.BasicBlock, i *ir.Inst, scope *vnScope) {
	switch i.Opcode() {
	case ir.OpCheckCast, ir.OpIsInstance:
		vn.tryOmitNullCheck(i, scope)
	case ir.OpLoadClass, ir.OpLoadAndInitClass:
		scope.add(fmt.Sprintf("init|%d|%s", i.Opcode(), i.TypeID()), i)
	case ir.OpInitClass:
		if vn.tryStrengthenOrDropInitClass(i, scope) {
			return
		}
	case ir.OpLoadObject, ir.OpLoadArray:
		vn.tryForwardLoad(i)
		return
	}
	if !vn.applicable(i) {
		return
	}
	key := vn.key(i)
	for _, cand := range scope.lookup(key) {
		if cand.Block() == nil || cand.IsNop() {
			continue
		}
		if !vn.dom.InstDominates(cand, i) || cand == i {
			continue
		}
		if vn.crossesTryBoundary(cand.Block(), b) || vn.crossesOsrEntry(cand.Block(), b) {
			continue
		}
		vn.replace(i, cand)
		return
	}
	scope.add(key, i)
}

func (vn *valNumRun) replace(i, with *ir.Inst) {
	// Users move over wholesale; SaveStates that held the removed value now
	// hold the dominating twin under the same vreg, so the emitted register
	// set stays complete.
	i.ReplaceUsers(with)
	i.MakeNop()
	vn.bridges.FixSaveStatesInBB(with.Block())
	vn.changed = true
}

func (vn *valNumRun) applicable(i *ir.Inst) bool {
	if i.HasFlag(ir.FlagNoCSE) || i.IsPhi() || i.IsSaveState() || i.IsNop() {
		return false
	}
	switch i.Opcode() {
	case ir.OpParameter, ir.OpIfImm, ir.OpReturn, ir.OpReturnVoid, ir.OpThrow,
		ir.OpDeoptimize, ir.OpDeoptimizeIf, ir.OpInitClass:
		return false
	}
	if i.Type() == ir.TypeNone && i.Opcode() != ir.OpCheckCast {
		return false
	}
	return true
}

// key builds the structural identity. The SaveState anchor is excluded:
// two guards over the same value are the same guard.
func (vn *valNumRun) key(i *ir.Inst) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%d|%d|%s|%d|%t|%d|%d", i.Opcode(), i.Type(), i.CC(), i.TypeID(),
		i.IntImm(), i.ImmIsFloat(), int64(i.FloatImm()), i.Ptr())
	ins := i.DataInputs()
	ids := make([]int, len(ins))
	for n, in := range ins {
		ids[n] = in.ID()
	}
	// Commutative integer operations compare unordered; float arithmetic
	// never commutes for value numbering.
	if i.HasFlag(ir.FlagCommutative) && !i.Type().IsFloat() && len(ids) == 2 && ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	for _, id := range ids {
		fmt.Fprintf(&sb, ",%d", id)
	}
	return sb.String()
}

func (vn *valNumRun) crossesTryBoundary(from, to *ir.BasicBlock) bool {
	if from == to {
		return false
	}
	return from.IsTry || from.IsCatch || to.IsTry || to.IsCatch
}

// crossesOsrEntry refuses to reuse a value across an OSR entry: the
// interpreter frame entering there cannot reconstruct the computation.
func (vn *valNumRun) crossesOsrEntry(from, to *ir.BasicBlock) bool {
	if !vn.g.OsrMode || from == to {
		return false
	}
	for l := vn.loops.LoopOf(to); l != nil && !l.IsRoot; l = l.Outer {
		if l.Contains(from) {
			break
		}
		if l.Header.IsOsrEntry {
			return true
		}
	}
	return false
}

// tryOmitNullCheck marks CheckCast/IsInstance whose receiver is proven
// non-null by a dominating guard, without changing the graph shape.
func (vn *valNumRun) tryOmitNullCheck(i *ir.Inst, scope *vnScope) {
	if i.OmitNullCheck() {
		return
	}
	obj := i.Input(0)
	if vn.provenNonNull(obj, i) {
		i.SetOmitNullCheck(true)
		vn.changed = true
	}
}

func (vn *valNumRun) provenNonNull(obj, at *ir.Inst) bool {
	if obj.Opcode() == ir.OpNullCheck {
		return true
	}
	if obj.HasFlag(ir.FlagAlloc) || obj.Opcode() == ir.OpLoadString {
		return true
	}
	for _, u := range obj.Users() {
		if u == at {
			continue
		}
		switch u.Opcode() {
		case ir.OpNullCheck:
			if vn.dom.InstDominates(u, at) {
				return true
			}
		case ir.OpCompare:
			// A dominating DeoptimizeIf(obj == null) guard.
			if u.CC() != ir.CCEq {
				continue
			}
			other := u.Input(0)
			if other == obj {
				other = u.Input(1)
			}
			if !other.IsNullConstant() {
				continue
			}
			for _, du := range u.Users() {
				if du.Opcode() == ir.OpDeoptimizeIf && vn.dom.InstDominates(du, at) {
					return true
				}
			}
		}
	}
	return false
}

// tryStrengthenOrDropInitClass implements the class-initialisation rules:
// a duplicate InitClass folds into the dominating one; an InitClass
// dominated by LoadAndInitClass is redundant; a dominating LoadClass is
// strengthened into LoadAndInitClass, absorbing the InitClass.
func (vn *valNumRun) tryStrengthenOrDropInitClass(i *ir.Inst, scope *vnScope) bool {
	// same-class InitClass or LoadAndInitClass above us?
	for _, op := range []ir.Opcode{ir.OpInitClass, ir.OpLoadAndInitClass} {
		probe := fmt.Sprintf("init|%d|%s", op, i.TypeID())
		for _, cand := range scope.lookup(probe) {
			if cand.IsNop() || cand.Block() == nil || !vn.dom.InstDominates(cand, i) {
				continue
			}
			if vn.crossesTryBoundary(cand.Block(), i.Block()) {
				continue
			}
			i.MakeNop()
			vn.changed = true
			return true
		}
	}
	// A dominating LoadClass of the same class is upgraded in place.
	probe := fmt.Sprintf("init|%d|%s", ir.OpLoadClass, i.TypeID())
	for _, cand := range scope.lookup(probe) {
		if cand.IsNop() || cand.Block() == nil || !vn.dom.InstDominates(cand, i) {
			continue
		}
		if vn.crossesTryBoundary(cand.Block(), i.Block()) {
			continue
		}
		laic := vn.g.NewInst(ir.OpLoadAndInitClass, cand.Type())
		laic.SetTypeID(cand.TypeID())
		for _, in := range cand.Inputs() {
			laic.AddInput(in)
		}
		cand.Block().ReplaceInst(cand, laic)
		cand.ReplaceUsers(laic)
		scope.add(fmt.Sprintf("init|%d|%s", ir.OpLoadAndInitClass, i.TypeID()), laic)
		i.MakeNop()
		vn.changed = true
		return true
	}
	scope.add(fmt.Sprintf("init|%d|%s", ir.OpInitClass, i.TypeID()), i)
	return false
}

// tryForwardLoad folds a repeated memory load onto an earlier one in the
// same block when the alias classes prove no intervening write can touch
// the location.
func (vn *valNumRun) tryForwardLoad(load *ir.Inst) {
	var candidate *ir.Inst
	for prev := load.Prev(); prev != nil; prev = prev.Prev() {
		switch prev.Opcode() {
		case ir.OpStoreObject, ir.OpStoreArray, ir.OpStoreStatic:
			if vn.alias.Query(prev, load) != analysis.NoAlias {
				return
			}
		case ir.OpCallStatic, ir.OpCallVirtual, ir.OpIntrinsic, ir.OpMonitor:
			return // calls may write anything
		case load.Opcode():
			if sameLoad(prev, load) {
				candidate = prev
			}
		}
		if candidate != nil {
			break
		}
	}
	if candidate != nil {
		vn.replace(load, candidate)
	}
}

func sameLoad(a, b *ir.Inst) bool {
	if a.Type() != b.Type() || a.TypeID() != b.TypeID() || a.InputsCount() != b.InputsCount() {
		return false
	}
	for n := range a.Inputs() {
		if a.Input(n) != b.Input(n) {
			return false
		}
	}
	return true
}

// phiSynthesis builds a phi at a join whose predecessors each already
// compute the same expression, then folds equal computations inside the
// join block onto it. Joins touching try regions are left alone.
func (vn *valNumRun) phiSynthesis() {
	for _, b := range vn.g.BlocksRPO() {
		if len(b.Preds()) < 2 || b.IsTry || b.IsCatch {
			continue
		}
		boundary := false
		for _, p := range b.Preds() {
			if p.IsTry || p.IsCatch {
				boundary = true
				break
			}
		}
		if boundary {
			continue
		}
		for _, i := range b.Insts() {
			if !vn.applicable(i) || i.RequiresState() {
				continue
			}
			key := vn.key(i)
			instances := make([]*ir.Inst, len(b.Preds()))
			ok := true
			for n, p := range b.Preds() {
				inst := vn.findInBlockByKey(p, key, i)
				if inst == nil {
					ok = false
					break
				}
				instances[n] = inst
			}
			if !ok {
				continue
			}
			phi := vn.g.NewInst(ir.OpPhi, i.Type())
			b.AddPhi(phi)
			for _, inst := range instances {
				phi.AddInput(inst)
			}
			i.ReplaceUsers(phi)
			i.MakeNop()
			vn.changed = true
		}
	}
}

func (vn *valNumRun) findInBlockByKey(b *ir.BasicBlock, key string, model *ir.Inst) *ir.Inst {
	for _, i := range b.Insts() {
		if i.IsNop() || i == model || !vn.applicable(i) {
			continue
		}
		if vn.key(i) == key {
			return i
		}
	}
	return nil
}
