package ir

// BasicBlock owns an ordered phi list and a doubly-linked instruction list.
// Successor order is significant: for a conditional block successor 0 is the
// true edge and successor 1 the false edge.
type BasicBlock struct {
	id    int
	graph *Graph

	preds []*BasicBlock
	succs []*BasicBlock

	phis  []*Inst
	first *Inst
	last  *Inst

	IsTry      bool
	IsCatch    bool
	IsOsrEntry bool

	// monitor analysis results
	MonitorEntryBlock bool
	MonitorExitBlock  bool
	MonitorBlock      bool
}

func (b *BasicBlock) ID() int       { return b.id }
func (b *BasicBlock) Graph() *Graph { return b.graph }

func (b *BasicBlock) Preds() []*BasicBlock { return b.preds }
func (b *BasicBlock) Succs() []*BasicBlock { return b.succs }

func (b *BasicBlock) Pred(i int) *BasicBlock { return b.preds[i] }
func (b *BasicBlock) Succ(i int) *BasicBlock { return b.succs[i] }

// TrueSucc / FalseSucc address the arms of a conditional block.
func (b *BasicBlock) TrueSucc() *BasicBlock  { return b.succs[0] }
func (b *BasicBlock) FalseSucc() *BasicBlock { return b.succs[1] }

// PredIndex returns the position of pred among the predecessors, or -1.
func (b *BasicBlock) PredIndex(pred *BasicBlock) int {
	for i, p := range b.preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// AddSucc wires b→succ on both sides, keeping edge order.
func (b *BasicBlock) AddSucc(succ *BasicBlock) {
	b.succs = append(b.succs, succ)
	succ.preds = append(succ.preds, b)
}

// RemoveSucc unwires b→succ; the phi inputs of succ for this predecessor
// must be dropped by the caller first.
func (b *BasicBlock) RemoveSucc(succ *BasicBlock) {
	for i, s := range b.succs {
		if s == succ {
			b.succs = append(b.succs[:i], b.succs[i+1:]...)
			break
		}
	}
	for i, p := range succ.preds {
		if p == b {
			succ.preds = append(succ.preds[:i], succ.preds[i+1:]...)
			break
		}
	}
}

// ReplaceSucc redirects the edge b→old to b→new, preserving its position.
func (b *BasicBlock) ReplaceSucc(old, new *BasicBlock) {
	for i, s := range b.succs {
		if s == old {
			b.succs[i] = new
			break
		}
	}
	for i, p := range old.preds {
		if p == b {
			old.preds = append(old.preds[:i], old.preds[i+1:]...)
			break
		}
	}
	new.preds = append(new.preds, b)
}

// Phis returns the phi list (live slice; callers that mutate iterate a copy).
func (b *BasicBlock) Phis() []*Inst { return b.phis }

// AddPhi appends a phi to the block.
func (b *BasicBlock) AddPhi(phi *Inst) {
	phi.block = b
	b.phis = append(b.phis, phi)
}

// RemovePhi unlinks a phi and drops its input edges.
func (b *BasicBlock) RemovePhi(phi *Inst) {
	phi.RemoveInputs()
	for i, p := range b.phis {
		if p == phi {
			b.phis = append(b.phis[:i], b.phis[i+1:]...)
			break
		}
	}
	phi.block = nil
}

// FirstInst returns the first non-phi instruction.
func (b *BasicBlock) FirstInst() *Inst { return b.first }

// LastInst returns the last non-phi instruction.
func (b *BasicBlock) LastInst() *Inst { return b.last }

// IsEmpty reports whether the block has neither phis nor instructions.
func (b *BasicBlock) IsEmpty() bool { return b.first == nil && len(b.phis) == 0 }

// Insts snapshots the non-phi instruction list so callers can mutate while
// iterating.
func (b *BasicBlock) Insts() []*Inst {
	var out []*Inst
	for i := b.first; i != nil; i = i.next {
		out = append(out, i)
	}
	return out
}

// AllInsts snapshots phis followed by instructions.
func (b *BasicBlock) AllInsts() []*Inst {
	out := append([]*Inst(nil), b.phis...)
	return append(out, b.Insts()...)
}

// AppendInst links a detached instruction at the end of the block.
func (b *BasicBlock) AppendInst(i *Inst) {
	i.block = b
	i.prev = b.last
	i.next = nil
	if b.last != nil {
		b.last.next = i
	} else {
		b.first = i
	}
	b.last = i
}

// PrependInst links a detached instruction at the start of the block.
func (b *BasicBlock) PrependInst(i *Inst) {
	i.block = b
	i.next = b.first
	i.prev = nil
	if b.first != nil {
		b.first.prev = i
	} else {
		b.last = i
	}
	b.first = i
}

// InsertBefore links a detached instruction right before ref.
func (b *BasicBlock) InsertBefore(i, ref *Inst) {
	i.block = b
	i.prev = ref.prev
	i.next = ref
	if ref.prev != nil {
		ref.prev.next = i
	} else {
		b.first = i
	}
	ref.prev = i
}

// InsertAfter links a detached instruction right after ref.
func (b *BasicBlock) InsertAfter(i, ref *Inst) {
	i.block = b
	i.prev = ref
	i.next = ref.next
	if ref.next != nil {
		ref.next.prev = i
	} else {
		b.last = i
	}
	ref.next = i
}

// RemoveInst unlinks an instruction from the block and drops its input
// edges. Users must have been re-pointed beforehand.
func (b *BasicBlock) RemoveInst(i *Inst) {
	if i.IsPhi() {
		b.RemovePhi(i)
		return
	}
	i.RemoveInputs()
	if i.prev != nil {
		i.prev.next = i.next
	} else {
		b.first = i.next
	}
	if i.next != nil {
		i.next.prev = i.prev
	} else {
		b.last = i.prev
	}
	i.prev = nil
	i.next = nil
	i.block = nil
}

// ReplaceInst swaps old for new in place; new takes over the list position.
func (b *BasicBlock) ReplaceInst(old, new *Inst) {
	b.InsertBefore(new, old)
	b.RemoveInst(old)
}

// Terminator returns the controlling last instruction, if any.
func (b *BasicBlock) Terminator() *Inst {
	if b.last == nil {
		return nil
	}
	switch b.last.opcode {
	case OpIfImm, OpReturn, OpReturnVoid, OpThrow, OpDeoptimize:
		return b.last
	}
	return nil
}

// IsConditional reports whether the block ends with a two-way branch.
func (b *BasicBlock) IsConditional() bool {
	return b.last != nil && b.last.opcode == OpIfImm
}

// IsStart / IsEnd identify the synthetic boundary blocks.
func (b *BasicBlock) IsStart() bool { return b.graph.startBlock == b }
func (b *BasicBlock) IsEnd() bool   { return b.graph.endBlock == b }
