package ir

import "fmt"

// CheckGraph validates the structural invariants every pass must preserve.
// It returns one error per violation; an empty slice means the graph is
// sound.
func CheckGraph(g *Graph) []error {
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	rpo := g.BlocksRPO()
	seen := make(map[*BasicBlock]int, len(rpo))
	for _, b := range rpo {
		seen[b]++
	}
	for b, n := range seen {
		if n != 1 {
			report("block %d visited %d times in RPO", b.ID(), n)
		}
	}

	dom := g.DominatorTree()

	for _, b := range rpo {
		checkEdgesMutual(b, report)
		checkSuccArity(g, b, report)

		for _, phi := range b.Phis() {
			if len(phi.Inputs()) != len(b.Preds()) {
				report("phi v%d in block %d has %d inputs for %d predecessors",
					phi.ID(), b.ID(), len(phi.Inputs()), len(b.Preds()))
				continue
			}
			for i, in := range phi.Inputs() {
				pred := b.Pred(i)
				if in.Block() == nil {
					report("phi v%d input %d is detached", phi.ID(), i)
					continue
				}
				if !dom.Dominates(in.Block(), pred) && !phiInputOnBackEdge(g, b, pred, in) {
					report("phi v%d input v%d does not dominate the end of predecessor %d",
						phi.ID(), in.ID(), pred.ID())
				}
			}
		}

		for inst := b.FirstInst(); inst != nil; inst = inst.Next() {
			for _, in := range inst.Inputs() {
				if in.Block() == nil {
					report("v%d uses detached v%d", inst.ID(), in.ID())
					continue
				}
				if !dom.InstDominates(in, inst) {
					report("input v%d of v%d does not dominate it", in.ID(), inst.ID())
				}
				if !in.HasUser(inst) {
					report("v%d is missing the user edge back from v%d", in.ID(), inst.ID())
				}
			}
			checkSaveStateAnchor(inst, report)
		}
	}

	if g.OsrMode {
		checkOsrEntries(g, report)
	}
	return errs
}

func checkEdgesMutual(b *BasicBlock, report func(string, ...any)) {
	for _, s := range b.Succs() {
		if s.PredIndex(b) < 0 {
			report("edge %d→%d has no predecessor backlink", b.ID(), s.ID())
		}
	}
	for _, p := range b.Preds() {
		found := false
		for _, s := range p.Succs() {
			if s == b {
				found = true
				break
			}
		}
		if !found {
			report("predecessor %d of %d has no successor edge", p.ID(), b.ID())
		}
	}
}

func checkSuccArity(g *Graph, b *BasicBlock, report func(string, ...any)) {
	n := len(b.Succs())
	switch {
	case b == g.EndBlock():
		if n != 0 {
			report("end block has %d successors", n)
		}
	case b.IsConditional():
		if n != 2 {
			report("conditional block %d has %d successors", b.ID(), n)
		}
	default:
		if n > 1 {
			report("unconditional block %d has %d successors", b.ID(), n)
		}
	}
}

func checkSaveStateAnchor(inst *Inst, report func(string, ...any)) {
	if !inst.RequiresState() {
		return
	}
	ss := inst.SaveStateInput()
	if ss == nil {
		report("v%d requires a SaveState anchor but has none", inst.ID())
		return
	}
	count := 0
	for _, in := range inst.Inputs() {
		if in.IsSaveState() {
			count++
		}
	}
	if count != 1 {
		report("v%d has %d SaveState inputs", inst.ID(), count)
	}
	if len(ss.VRegs()) != len(ss.Inputs()) {
		report("SaveState v%d has %d vregs for %d inputs", ss.ID(), len(ss.VRegs()), len(ss.Inputs()))
	}
}

// phiInputOnBackEdge tolerates a phi input defined inside the loop whose
// back-edge enters through pred.
func phiInputOnBackEdge(g *Graph, header, pred *BasicBlock, in *Inst) bool {
	lt := g.LoopAnalysis()
	loop := lt.LoopOf(header)
	if loop.IsRoot || loop.Header != header {
		return false
	}
	for _, be := range loop.BackEdges {
		if be == pred {
			return loop.Contains(in.Block())
		}
	}
	return false
}

func checkOsrEntries(g *Graph, report func(string, ...any)) {
	lt := g.LoopAnalysis()
	for _, l := range lt.Loops {
		if !l.Header.IsOsrEntry {
			report("loop header %d is not an OSR entry in OSR mode", l.Header.ID())
		}
	}
}
