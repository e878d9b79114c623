package ir

// DomTree is the dominator tree of a graph, computed with the iterative
// RPO-intersection algorithm. A block dominates itself.
type DomTree struct {
	idom   map[*BasicBlock]*BasicBlock
	rpoNum map[*BasicBlock]int
	order  []*BasicBlock
}

// DominatorTree computes (or returns the cached) dominator tree.
func (g *Graph) DominatorTree() *DomTree {
	if g.domTree != nil {
		return g.domTree
	}
	g.domTree = buildDomTree(g)
	return g.domTree
}

// InvalidateAnalyses drops the cached CFG analyses after a mutation.
func (g *Graph) InvalidateAnalyses() {
	g.domTree = nil
	g.loops = nil
}

func buildDomTree(g *Graph) *DomTree {
	order := g.BlocksRPO()
	t := &DomTree{
		idom:   make(map[*BasicBlock]*BasicBlock, len(order)),
		rpoNum: make(map[*BasicBlock]int, len(order)),
		order:  order,
	}
	for i, b := range order {
		t.rpoNum[b] = i
	}
	start := g.startBlock
	t.idom[start] = start

	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == start {
				continue
			}
			var newIdom *BasicBlock
			for _, p := range b.preds {
				if _, ok := t.idom[p]; !ok {
					continue // not yet processed
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = t.intersect(p, newIdom)
				}
			}
			if newIdom == nil {
				continue
			}
			if t.idom[b] != newIdom {
				t.idom[b] = newIdom
				changed = true
			}
		}
	}
	return t
}

func (t *DomTree) intersect(a, b *BasicBlock) *BasicBlock {
	for a != b {
		for t.rpoNum[a] > t.rpoNum[b] {
			a = t.idom[a]
		}
		for t.rpoNum[b] > t.rpoNum[a] {
			b = t.idom[b]
		}
	}
	return a
}

// IDom returns the immediate dominator (the start block is its own).
func (t *DomTree) IDom(b *BasicBlock) *BasicBlock { return t.idom[b] }

// Dominates reports whether a dominates b (reflexively).
func (t *DomTree) Dominates(a, b *BasicBlock) bool {
	for {
		if a == b {
			return true
		}
		next, ok := t.idom[b]
		if !ok || next == b {
			return false
		}
		b = next
	}
}

// InstDominates refines dominance to instruction granularity: within one
// block list order decides; across blocks the tree decides. Phis dominate
// the non-phi instructions of their block.
func (t *DomTree) InstDominates(a, b *Inst) bool {
	if a == b {
		return true
	}
	if a.Block() == b.Block() {
		return a.Precedes(b)
	}
	return t.Dominates(a.Block(), b.Block())
}

// ReachableOrder exposes the RPO the tree was built over.
func (t *DomTree) ReachableOrder() []*BasicBlock { return t.order }
