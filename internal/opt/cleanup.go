package opt

import "bytec/internal/ir"

// Cleanup sweeps what the rewriting passes leave behind: NOP husks, dead
// phis and instructions, unreachable blocks and empty forwarding blocks.
// It runs to a fixpoint.
type Cleanup struct{}

func (c *Cleanup) Name() string { return "Cleanup" }

func (c *Cleanup) Description() string {
	return "Removes NOPs, dead instructions, dead phis and empty blocks"
}

func (c *Cleanup) Apply(g *ir.Graph) bool {
	changed := false
	for {
		round := false
		round = c.removeUnreachableBlocks(g) || round
		round = c.sweepInstructions(g) || round
		round = c.removeEmptyBlocks(g) || round
		if !round {
			return changed
		}
		changed = true
		g.InvalidateAnalyses()
	}
}

func (c *Cleanup) removeUnreachableBlocks(g *ir.Graph) bool {
	reachable := make(map[*ir.BasicBlock]bool)
	for _, b := range g.BlocksRPO() {
		reachable[b] = true
	}
	var dead []*ir.BasicBlock
	for _, b := range g.Blocks() {
		if !reachable[b] && b != g.EndBlock() {
			dead = append(dead, b)
		}
	}
	if len(dead) == 0 {
		return false
	}
	for _, b := range dead {
		for _, s := range append([]*ir.BasicBlock(nil), b.Succs()...) {
			// Phi inputs arriving from the dead predecessor go first.
			idx := s.PredIndex(b)
			for _, phi := range append([]*ir.Inst(nil), s.Phis()...) {
				if idx >= 0 && idx < phi.InputsCount() {
					phi.RemoveInput(idx)
				}
			}
			b.RemoveSucc(s)
		}
		for _, p := range append([]*ir.BasicBlock(nil), b.Preds()...) {
			p.RemoveSucc(b)
		}
		for _, i := range b.AllInsts() {
			i.ReplaceUsers(nil2nop(g, i))
			b.RemoveInst(i)
		}
		g.EraseBlock(b)
	}
	g.CompactBlockIDs()
	return true
}

// nil2nop substitutes a placeholder for values defined in dead code but
// still referenced from reachable phis of merged paths.
func nil2nop(g *ir.Graph, i *ir.Inst) *ir.Inst {
	if !i.HasUsers() {
		return i
	}
	return g.FindOrCreateConstant(ir.TypeInt64, 0)
}

func (c *Cleanup) sweepInstructions(g *ir.Graph) bool {
	changed := false
	for {
		round := false
		for _, b := range g.Blocks() {
			for _, i := range b.Insts() {
				if i.IsNop() && !i.HasUsers() {
					b.RemoveInst(i)
					round = true
					continue
				}
				if i.IsConst() {
					continue // pooled in the graph's constant table
				}
				if !i.HasUsers() && !i.HasFlag(ir.FlagNoDCE) && !c.isControl(i) && !i.IsNop() {
					b.RemoveInst(i)
					round = true
				}
			}
			for _, phi := range append([]*ir.Inst(nil), b.Phis()...) {
				if !phi.HasUsers() {
					b.RemovePhi(phi)
					round = true
				}
			}
		}
		if !round {
			return changed
		}
		changed = true
	}
}

func (c *Cleanup) isControl(i *ir.Inst) bool {
	switch i.Opcode() {
	case ir.OpIfImm, ir.OpReturn, ir.OpReturnVoid, ir.OpThrow, ir.OpDeoptimize:
		return true
	}
	return false
}

// removeEmptyBlocks unlinks forwarding blocks with no content and a single
// successor.
func (c *Cleanup) removeEmptyBlocks(g *ir.Graph) bool {
	changed := false
	for _, b := range append([]*ir.BasicBlock(nil), g.Blocks()...) {
		if b == g.StartBlock() || b == g.EndBlock() {
			continue
		}
		if !b.IsEmpty() || len(b.Succs()) != 1 || len(b.Preds()) == 0 {
			continue
		}
		succ := b.Succs()[0]
		if succ == b {
			continue
		}
		// A forwarding block folds by re-pointing its predecessors; the phi
		// input arriving through it is duplicated per new predecessor.
		idx := succ.PredIndex(b)
		vals := make(map[*ir.Inst]*ir.Inst)
		for _, phi := range succ.Phis() {
			vals[phi] = phi.Input(idx)
		}
		for _, phi := range succ.Phis() {
			phi.RemoveInput(idx)
		}
		b.RemoveSucc(succ)
		for _, p := range append([]*ir.BasicBlock(nil), b.Preds()...) {
			p.ReplaceSucc(b, succ)
			for _, phi := range succ.Phis() {
				phi.AddInput(vals[phi])
			}
		}
		g.EraseBlock(b)
		changed = true
	}
	if changed {
		g.CompactBlockIDs()
	}
	return changed
}
