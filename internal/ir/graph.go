package ir

// Graph is the per-function control-flow graph. Blocks are held in a dense
// vector indexed by block id; the start and end blocks are synthetic.
type Graph struct {
	Method string

	blocks     []*BasicBlock
	startBlock *BasicBlock
	endBlock   *BasicBlock

	nextInstID  int
	nextBlockID int

	// DynamicMethod distinguishes the dynamic-language flavour; OsrMode
	// constrains hoisting across loop headers.
	DynamicMethod bool
	OsrMode       bool

	constants map[constKey]*Inst
	nullPtr   *Inst

	domTree *DomTree
	loops   *LoopTree

	// VRegsCount is the source register file size, used when lowering.
	VRegsCount int
}

func NewGraph() *Graph {
	g := &Graph{constants: make(map[constKey]*Inst)}
	g.startBlock = g.NewBlock()
	g.endBlock = g.NewBlock()
	return g
}

func (g *Graph) StartBlock() *BasicBlock { return g.startBlock }
func (g *Graph) EndBlock() *BasicBlock   { return g.endBlock }

// Blocks returns the dense block vector.
func (g *Graph) Blocks() []*BasicBlock { return g.blocks }

func (g *Graph) NewBlock() *BasicBlock {
	b := &BasicBlock{id: g.nextBlockID, graph: g}
	g.nextBlockID++
	g.blocks = append(g.blocks, b)
	return b
}

// EraseBlock removes a block from the vector; its edges must already be
// gone.
func (g *Graph) EraseBlock(b *BasicBlock) {
	for i, x := range g.blocks {
		if x == b {
			g.blocks = append(g.blocks[:i], g.blocks[i+1:]...)
			break
		}
	}
}

// CompactBlockIDs renumbers blocks densely after removals.
func (g *Graph) CompactBlockIDs() {
	for i, b := range g.blocks {
		b.id = i
	}
	g.nextBlockID = len(g.blocks)
}

func (g *Graph) newInst(op Opcode, typ DataType) *Inst {
	i := &Inst{id: g.nextInstID, opcode: op, typ: typ, flags: op.DefaultFlags()}
	g.nextInstID++
	return i
}

// NewInst creates a detached instruction with the opcode's default flags.
func (g *Graph) NewInst(op Opcode, typ DataType) *Inst { return g.newInst(op, typ) }

// NewInstWithInputs creates a detached instruction wired to its inputs.
func (g *Graph) NewInstWithInputs(op Opcode, typ DataType, inputs ...*Inst) *Inst {
	i := g.newInst(op, typ)
	for _, in := range inputs {
		i.AddInput(in)
	}
	return i
}

// FindOrCreateConstant pools integer constants per (type, bits) in the
// start block.
func (g *Graph) FindOrCreateConstant(typ DataType, value int64) *Inst {
	key := keyForConst(typ, false, value, 0)
	if c, ok := g.constants[key]; ok {
		return c
	}
	c := g.newInst(OpConstant, typ)
	c.immInt = value
	g.startBlock.AppendInst(c)
	g.constants[key] = c
	return c
}

// FindOrCreateFloatConstant pools float constants.
func (g *Graph) FindOrCreateFloatConstant(typ DataType, value float64) *Inst {
	key := keyForConst(typ, true, 0, value)
	if c, ok := g.constants[key]; ok {
		return c
	}
	c := g.newInst(OpConstant, typ)
	c.SetFloatImm(value)
	g.startBlock.AppendInst(c)
	g.constants[key] = c
	return c
}

// GetNullPtr returns the per-graph null reference singleton.
func (g *Graph) GetNullPtr() *Inst {
	if g.nullPtr == nil {
		g.nullPtr = g.newInst(OpNullPtr, TypeRef)
		g.startBlock.AppendInst(g.nullPtr)
	}
	return g.nullPtr
}

// InstCount returns the number of ids handed out so far.
func (g *Graph) InstCount() int { return g.nextInstID }

// CountInsts counts the instructions currently linked into blocks.
func (g *Graph) CountInsts() int {
	n := 0
	for _, b := range g.blocks {
		n += len(b.phis)
		for i := b.first; i != nil; i = i.next {
			n++
		}
	}
	return n
}

// BlocksRPO returns the reachable blocks in reverse post-order starting
// from the start block.
func (g *Graph) BlocksRPO() []*BasicBlock {
	visited := make(map[*BasicBlock]bool, len(g.blocks))
	var order []*BasicBlock
	var walk func(b *BasicBlock)
	walk = func(b *BasicBlock) {
		visited[b] = true
		for _, s := range b.succs {
			if !visited[s] {
				walk(s)
			}
		}
		order = append(order, b)
	}
	walk(g.startBlock)
	for l, r := 0, len(order)-1; l < r; l, r = l+1, r-1 {
		order[l], order[r] = order[r], order[l]
	}
	return order
}

// HasTryCatch reports whether any block belongs to a try or catch region.
func (g *Graph) HasTryCatch() bool {
	for _, b := range g.blocks {
		if b.IsTry || b.IsCatch {
			return true
		}
	}
	return false
}

// HasOsrEntries reports whether any block is an OSR entry.
func (g *Graph) HasOsrEntries() bool {
	for _, b := range g.blocks {
		if b.IsOsrEntry {
			return true
		}
	}
	return false
}
