package analysis

import "bytec/internal/ir"

// SaveStateBridges maintains the invariant that every GC-movable reference
// live across a safepoint appears among the SaveState's inputs, injecting
// BRIDGE entries where the explicit vreg set falls short. Every pass that
// moves, clones or hoists an instruction runs the appropriate fixer.
type SaveStateBridges struct {
	g *ir.Graph
}

func NewSaveStateBridges(g *ir.Graph) *SaveStateBridges {
	return &SaveStateBridges{g: g}
}

// FixSaveStatesInBB restores the invariant inside one block: a reference
// defined in the block is bridged into every later SaveState it stays live
// across.
func (sb *SaveStateBridges) FixSaveStatesInBB(block *ir.BasicBlock) {
	var defined []*ir.Inst
	for _, i := range block.Insts() {
		if i.IsSaveState() {
			for _, ref := range defined {
				if sb.liveAfter(ref, i) {
					ensureBridged(i, ref)
				}
			}
			continue
		}
		if i.IsReferenceOrAny() && i.IsMovableObject() {
			defined = append(defined, i)
		}
	}
}

// liveAfter reports whether ref has a user at or after the safepoint ss.
func (sb *SaveStateBridges) liveAfter(ref, ss *ir.Inst) bool {
	dom := sb.g.DominatorTree()
	for _, u := range ref.Users() {
		if u == ss {
			continue
		}
		if u.Block() != ss.Block() {
			if dom.Dominates(ss.Block(), u.Block()) {
				return true
			}
			continue
		}
		if ss.Precedes(u) {
			return true
		}
	}
	return false
}

// ensureBridged adds ref to the SaveState inputs with the BRIDGE marker
// unless already present.
func ensureBridged(ss, ref *ir.Inst) {
	if ss.HasInput(ref) {
		return
	}
	ss.AppendVRegInput(ref, ir.BridgeVReg)
}

// RemoveFromSaveStates drops inst from every SaveState that lists it;
// called when a pass removes the instruction.
func (sb *SaveStateBridges) RemoveFromSaveStates(inst *ir.Inst) {
	for _, u := range inst.Users() {
		if !u.IsSaveState() {
			continue
		}
		for n := u.InputsCount() - 1; n >= 0; n-- {
			if u.Input(n) == inst {
				u.RemoveInput(n)
			}
		}
	}
}

// SearchAndCreateMissingObjInSaveState bridges a newly created movable
// reference `source` into every SaveState on the paths between its
// definition and `target` (typically its new use).
func (sb *SaveStateBridges) SearchAndCreateMissingObjInSaveState(source, target *ir.Inst) {
	if !source.IsMovableObject() {
		return
	}
	srcBlock := source.Block()
	dstBlock := target.Block()

	// Blocks on paths from srcBlock to dstBlock.
	onPath := map[*ir.BasicBlock]bool{dstBlock: true}
	var walk func(b *ir.BasicBlock)
	walk = func(b *ir.BasicBlock) {
		if b == srcBlock || onPath[b] {
			return
		}
		onPath[b] = true
		for _, p := range b.Preds() {
			walk(p)
		}
	}
	for _, p := range dstBlock.Preds() {
		walk(p)
	}

	fix := func(b *ir.BasicBlock, from, to *ir.Inst) {
		for _, i := range b.Insts() {
			if !i.IsSaveState() {
				continue
			}
			if from != nil && !from.Precedes(i) {
				continue
			}
			if to != nil && !i.Precedes(to) {
				continue
			}
			ensureBridged(i, source)
		}
	}

	if srcBlock == dstBlock {
		fix(srcBlock, source, target)
		return
	}
	fix(srcBlock, source, nil)
	fix(dstBlock, nil, target)
	for b := range onPath {
		if b != dstBlock && b != srcBlock {
			fix(b, nil, nil)
		}
	}
}
