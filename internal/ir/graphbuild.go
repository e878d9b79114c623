package ir

import "fmt"

// GraphBuilder assembles graphs block by block, the way pass tests describe
// them: declare parameters and constants, open numbered blocks with their
// successor numbers, append instructions, then Finish. Successor number -1
// stands for the end block.
type GraphBuilder struct {
	g *Graph

	blocks     map[int]*BasicBlock
	blockOrder []int
	succs      map[int][]int

	cur    *BasicBlock
	curNum int

	pendingPhis []*pendingPhi
}

// PhiIn pairs a predecessor block number with the flowing value.
type PhiIn struct {
	Pred int
	Val  *Inst
}

type pendingPhi struct {
	phi   *Inst
	block int
	ins   []PhiIn
}

func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		g:      NewGraph(),
		blocks: make(map[int]*BasicBlock),
		succs:  make(map[int][]int),
	}
}

// Graph exposes the graph under construction.
func (gb *GraphBuilder) Graph() *Graph { return gb.g }

// Parameter declares a typed parameter in the start block.
func (gb *GraphBuilder) Parameter(typ DataType) *Inst {
	p := gb.g.newInst(OpParameter, typ)
	gb.g.startBlock.AppendInst(p)
	return p
}

// IntConst pools a 64-bit integer constant.
func (gb *GraphBuilder) IntConst(v int64) *Inst {
	return gb.g.FindOrCreateConstant(TypeInt64, v)
}

// FloatConst pools a float constant.
func (gb *GraphBuilder) FloatConst(v float64) *Inst {
	return gb.g.FindOrCreateFloatConstant(TypeFloat64, v)
}

// NullPtr returns the null reference singleton.
func (gb *GraphBuilder) NullPtr() *Inst { return gb.g.GetNullPtr() }

func (gb *GraphBuilder) block(num int) *BasicBlock {
	if num == -1 {
		return gb.g.endBlock
	}
	if b, ok := gb.blocks[num]; ok {
		return b
	}
	b := gb.g.NewBlock()
	gb.blocks[num] = b
	return b
}

// BasicBlock opens block num with the given successor numbers; following
// instructions land in it. The first opened block becomes the start
// successor.
func (gb *GraphBuilder) BasicBlock(num int, succNums ...int) *BasicBlock {
	b := gb.block(num)
	gb.blockOrder = append(gb.blockOrder, num)
	gb.succs[num] = succNums
	gb.cur = b
	gb.curNum = num
	return b
}

// Op appends a generic instruction to the current block.
func (gb *GraphBuilder) Op(op Opcode, typ DataType, inputs ...*Inst) *Inst {
	i := gb.g.NewInstWithInputs(op, typ, inputs...)
	gb.cur.AppendInst(i)
	return i
}

// OpImm appends an instruction carrying an integer immediate.
func (gb *GraphBuilder) OpImm(op Opcode, typ DataType, imm int64, inputs ...*Inst) *Inst {
	i := gb.Op(op, typ, inputs...)
	i.SetIntImm(imm)
	return i
}

// OpType appends an instruction carrying a type id.
func (gb *GraphBuilder) OpType(op Opcode, typ DataType, typeID string, inputs ...*Inst) *Inst {
	i := gb.Op(op, typ, inputs...)
	i.SetTypeID(typeID)
	return i
}

// SaveState appends a SaveState listing the live values; virtual register
// numbers follow the input order.
func (gb *GraphBuilder) SaveState(vals ...*Inst) *Inst {
	return gb.saveState(OpSaveState, vals)
}

func (gb *GraphBuilder) SaveStateOsr(vals ...*Inst) *Inst {
	return gb.saveState(OpSaveStateOsr, vals)
}

func (gb *GraphBuilder) SaveStateDeoptimize(vals ...*Inst) *Inst {
	return gb.saveState(OpSaveStateDeoptimize, vals)
}

func (gb *GraphBuilder) saveState(op Opcode, vals []*Inst) *Inst {
	ss := gb.g.newInst(op, TypeNone)
	for n, v := range vals {
		ss.AppendVRegInput(v, n)
	}
	gb.cur.AppendInst(ss)
	return ss
}

// Compare appends a boolean Compare with the given condition.
func (gb *GraphBuilder) Compare(cc ConditionCode, a, b *Inst) *Inst {
	i := gb.Op(OpCompare, TypeBool, a, b)
	i.SetCC(cc)
	return i
}

// IfImm appends the conditional terminator comparing cond against imm.
func (gb *GraphBuilder) IfImm(cc ConditionCode, imm int64, cond *Inst) *Inst {
	i := gb.OpImm(OpIfImm, TypeNone, imm, cond)
	i.SetCC(cc)
	return i
}

// Phi declares a phi whose inputs arrive from the named predecessors; the
// input order is fixed up to predecessor order at Finish.
func (gb *GraphBuilder) Phi(typ DataType, ins ...PhiIn) *Inst {
	phi := gb.g.newInst(OpPhi, typ)
	gb.cur.AddPhi(phi)
	gb.pendingPhis = append(gb.pendingPhis, &pendingPhi{phi: phi, block: gb.curNum, ins: ins})
	return phi
}

// SetPhiInput patches a pending phi input declared before its value
// existed (loop back edges).
func (gb *GraphBuilder) SetPhiInput(phi *Inst, pred int, val *Inst) {
	for _, pp := range gb.pendingPhis {
		if pp.phi != phi {
			continue
		}
		for n := range pp.ins {
			if pp.ins[n].Pred == pred {
				pp.ins[n].Val = val
				return
			}
		}
		pp.ins = append(pp.ins, PhiIn{Pred: pred, Val: val})
		return
	}
}

// MonitorEntry / MonitorExit append monitor operations.
func (gb *GraphBuilder) MonitorEntry(obj, ss *Inst) *Inst {
	return gb.Op(OpMonitor, TypeVoid, obj, ss)
}

func (gb *GraphBuilder) MonitorExit(obj, ss *Inst) *Inst {
	m := gb.Op(OpMonitor, TypeVoid, obj, ss)
	m.SetMonitorExit(true)
	return m
}

// Intrinsic appends an intrinsic call; the SaveState anchor goes last among
// the arguments.
func (gb *GraphBuilder) Intrinsic(id IntrinsicID, typ DataType, args ...*Inst) *Inst {
	i := gb.Op(OpIntrinsic, typ, args...)
	i.SetIntrinsicID(id)
	return i
}

// Finish wires block edges in declaration order, resolves phi inputs and
// returns the graph.
func (gb *GraphBuilder) Finish() *Graph {
	if len(gb.blockOrder) > 0 {
		gb.g.startBlock.AddSucc(gb.blocks[gb.blockOrder[0]])
	} else {
		gb.g.startBlock.AddSucc(gb.g.endBlock)
	}
	for _, num := range gb.blockOrder {
		b := gb.blocks[num]
		for _, s := range gb.succs[num] {
			b.AddSucc(gb.block(s))
		}
	}
	for _, pp := range gb.pendingPhis {
		b := gb.blocks[pp.block]
		if len(pp.ins) != len(b.preds) {
			panic(fmt.Sprintf("phi in block %d: %d inputs for %d preds", pp.block, len(pp.ins), len(b.preds)))
		}
		ordered := make([]*Inst, len(b.preds))
		for _, in := range pp.ins {
			idx := b.PredIndex(gb.block(in.Pred))
			if idx < 0 {
				panic(fmt.Sprintf("phi in block %d: %d is not a predecessor", pp.block, in.Pred))
			}
			ordered[idx] = in.Val
		}
		for _, v := range ordered {
			pp.phi.AddInput(v)
		}
	}
	gb.g.CompactBlockIDs()
	return gb.g
}
