package ir

// Loop is one natural loop. The root loop is synthetic and holds every
// block outside any real loop.
type Loop struct {
	Header    *BasicBlock
	BackEdges []*BasicBlock
	Blocks    map[*BasicBlock]bool

	Outer *Loop
	Inner []*Loop

	IsRoot bool
}

// Contains reports whether the block belongs to the loop (the root loop
// contains everything).
func (l *Loop) Contains(b *BasicBlock) bool {
	if l.IsRoot {
		return true
	}
	return l.Blocks[b]
}

// Depth counts the nesting level; the root loop has depth 0.
func (l *Loop) Depth() int {
	d := 0
	for x := l; x != nil && !x.IsRoot; x = x.Outer {
		d++
	}
	return d
}

// Preheader returns the unique out-of-loop predecessor of the header, or nil.
func (l *Loop) Preheader() *BasicBlock {
	if l.IsRoot {
		return nil
	}
	var pre *BasicBlock
	for _, p := range l.Header.preds {
		if l.Blocks[p] {
			continue
		}
		if pre != nil {
			return nil
		}
		pre = p
	}
	return pre
}

// ExitBlocks lists the in-loop blocks with a successor outside the loop.
func (l *Loop) ExitBlocks() []*BasicBlock {
	var exits []*BasicBlock
	for b := range l.Blocks {
		for _, s := range b.succs {
			if !l.Blocks[s] {
				exits = append(exits, b)
				break
			}
		}
	}
	return exits
}

// PostExit returns the unique block the loop exits into, or nil when the
// exit structure is not that simple.
func (l *Loop) PostExit() *BasicBlock {
	var post *BasicBlock
	for b := range l.Blocks {
		for _, s := range b.succs {
			if l.Blocks[s] {
				continue
			}
			if post != nil && post != s {
				return nil
			}
			post = s
		}
	}
	return post
}

// LoopTree groups the natural loops of a graph.
type LoopTree struct {
	Root    *Loop
	ByBlock map[*BasicBlock]*Loop // innermost loop per block
	Loops   []*Loop
}

// LoopOf returns the innermost loop containing b (the root loop when none).
func (lt *LoopTree) LoopOf(b *BasicBlock) *Loop {
	if l, ok := lt.ByBlock[b]; ok {
		return l
	}
	return lt.Root
}

// LoopAnalysis computes (or returns the cached) loop tree.
func (g *Graph) LoopAnalysis() *LoopTree {
	if g.loops != nil {
		return g.loops
	}
	g.loops = buildLoopTree(g)
	return g.loops
}

func buildLoopTree(g *Graph) *LoopTree {
	dom := g.DominatorTree()
	lt := &LoopTree{
		Root:    &Loop{IsRoot: true},
		ByBlock: make(map[*BasicBlock]*Loop),
	}

	// Back-edge detection: an edge u→h where h dominates u.
	headers := make(map[*BasicBlock]*Loop)
	for _, u := range dom.ReachableOrder() {
		for _, h := range u.succs {
			if !dom.Dominates(h, u) {
				continue
			}
			loop := headers[h]
			if loop == nil {
				loop = &Loop{Header: h, Blocks: map[*BasicBlock]bool{h: true}}
				headers[h] = loop
				lt.Loops = append(lt.Loops, loop)
			}
			loop.BackEdges = append(loop.BackEdges, u)
			collectLoopBlocks(loop, u)
		}
	}

	// Nest loops: the outer loop is the smallest other loop containing the
	// header.
	for _, l := range lt.Loops {
		var outer *Loop
		for _, o := range lt.Loops {
			if o == l || !o.Blocks[l.Header] {
				continue
			}
			if outer == nil || len(o.Blocks) < len(outer.Blocks) {
				outer = o
			}
		}
		if outer == nil {
			outer = lt.Root
		}
		l.Outer = outer
		outer.Inner = append(outer.Inner, l)
	}

	for _, l := range lt.Loops {
		for b := range l.Blocks {
			cur, ok := lt.ByBlock[b]
			if !ok || len(l.Blocks) < len(cur.Blocks) {
				lt.ByBlock[b] = l
			}
		}
	}
	return lt
}

func collectLoopBlocks(loop *Loop, from *BasicBlock) {
	if loop.Blocks[from] {
		return
	}
	loop.Blocks[from] = true
	for _, p := range from.preds {
		collectLoopBlocks(loop, p)
	}
}

// InnerLoops lists the loops with no nested loop inside them.
func (lt *LoopTree) InnerLoops() []*Loop {
	var inner []*Loop
	for _, l := range lt.Loops {
		if len(l.Inner) == 0 {
			inner = append(inner, l)
		}
	}
	return inner
}
