package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstEdgeMaintenance(t *testing.T) {
	g := NewGraph()
	a := g.FindOrCreateConstant(TypeInt64, 1)
	b := g.FindOrCreateConstant(TypeInt64, 2)
	add := g.NewInstWithInputs(OpAdd, TypeInt64, a, b)

	assert.True(t, a.HasUser(add))
	assert.True(t, b.HasUser(add))

	c := g.FindOrCreateConstant(TypeInt64, 3)
	add.SetInput(1, c)
	assert.False(t, b.HasUser(add))
	assert.True(t, c.HasUser(add))

	add.RemoveInputs()
	assert.False(t, a.HasUser(add))
	assert.False(t, c.HasUser(add))
}

func TestReplaceUsers(t *testing.T) {
	g := NewGraph()
	a := g.FindOrCreateConstant(TypeInt64, 1)
	b := g.FindOrCreateConstant(TypeInt64, 2)
	add1 := g.NewInstWithInputs(OpAdd, TypeInt64, a, b)
	add2 := g.NewInstWithInputs(OpAdd, TypeInt64, b, a)
	use := g.NewInstWithInputs(OpMul, TypeInt64, add2, add2)

	add2.ReplaceUsers(add1)
	assert.Equal(t, add1, use.Input(0))
	assert.Equal(t, add1, use.Input(1))
	assert.False(t, add2.HasUsers())
}

func TestConstantPooling(t *testing.T) {
	g := NewGraph()
	a := g.FindOrCreateConstant(TypeInt64, 7)
	b := g.FindOrCreateConstant(TypeInt64, 7)
	assert.Same(t, a, b)
	c := g.FindOrCreateConstant(TypeInt32, 7)
	assert.NotSame(t, a, c)

	n1 := g.GetNullPtr()
	n2 := g.GetNullPtr()
	assert.Same(t, n1, n2)
	assert.True(t, n1.IsNullConstant())
}

func TestBlockLinkedList(t *testing.T) {
	g := NewGraph()
	b := g.NewBlock()
	i1 := g.NewInst(OpReturnVoid, TypeNone)
	i2 := g.NewInst(OpNop, TypeNone)
	i3 := g.NewInst(OpNop, TypeNone)

	b.AppendInst(i1)
	b.PrependInst(i2)
	b.InsertAfter(i3, i2)

	require.Equal(t, []*Inst{i2, i3, i1}, b.Insts())
	assert.Equal(t, i2, b.FirstInst())
	assert.Equal(t, i1, b.LastInst())

	b.RemoveInst(i3)
	require.Equal(t, []*Inst{i2, i1}, b.Insts())
	assert.Nil(t, i3.Block())

	assert.True(t, i2.Precedes(i1))
	assert.False(t, i1.Precedes(i2))
}

func TestMakeNopKeepsPosition(t *testing.T) {
	g := NewGraph()
	b := g.NewBlock()
	a := g.FindOrCreateConstant(TypeInt64, 1)
	add := g.NewInstWithInputs(OpAdd, TypeInt64, a, a)
	b.AppendInst(add)
	ret := g.NewInst(OpReturnVoid, TypeNone)
	b.AppendInst(ret)

	id := add.ID()
	add.MakeNop()
	assert.Equal(t, id, add.ID())
	assert.True(t, add.IsNop())
	assert.Equal(t, b, add.Block())
	assert.False(t, a.HasUser(add))
}

func TestGraphBuilderAndRPO(t *testing.T) {
	gb := NewGraphBuilder()
	p := gb.Parameter(TypeUint64)
	c := gb.IntConst(10)

	gb.BasicBlock(2, 3, 4)
	cmp := gb.Compare(CCLt, p, c)
	gb.IfImm(CCNe, 0, cmp)
	gb.BasicBlock(3, 5)
	gb.BasicBlock(4, 5)
	gb.BasicBlock(5, -1)
	gb.Op(OpReturnVoid, TypeNone)
	g := gb.Finish()

	require.Empty(t, CheckGraph(g))

	rpo := g.BlocksRPO()
	assert.Equal(t, g.StartBlock(), rpo[0])
	assert.Equal(t, g.EndBlock(), rpo[len(rpo)-1])
	assert.Len(t, rpo, 6)
}

func TestDominatorTree(t *testing.T) {
	gb := NewGraphBuilder()
	p := gb.Parameter(TypeUint64)

	gb.BasicBlock(2, 3, 4)
	cmp := gb.Compare(CCEq, p, gb.IntConst(0))
	gb.IfImm(CCNe, 0, cmp)
	b3 := gb.BasicBlock(3, 5)
	b4 := gb.BasicBlock(4, 5)
	b5 := gb.BasicBlock(5, -1)
	gb.Op(OpReturnVoid, TypeNone)
	g := gb.Finish()

	dom := g.DominatorTree()
	b2 := g.StartBlock().Succs()[0]
	assert.True(t, dom.Dominates(b2, b3))
	assert.True(t, dom.Dominates(b2, b5))
	assert.False(t, dom.Dominates(b3, b5))
	assert.False(t, dom.Dominates(b4, b5))
	assert.Equal(t, b2, dom.IDom(b5))
}

func TestLoopAnalysisSimple(t *testing.T) {
	gb := NewGraphBuilder()
	p := gb.Parameter(TypeInt32)

	gb.BasicBlock(2, 3)
	gb.BasicBlock(3, 4, 5)
	cmp := gb.Compare(CCLt, p, gb.IntConst(10))
	gb.IfImm(CCNe, 0, cmp)
	gb.BasicBlock(4, 3)
	gb.BasicBlock(5, -1)
	gb.Op(OpReturnVoid, TypeNone)
	g := gb.Finish()

	lt := g.LoopAnalysis()
	require.Len(t, lt.Loops, 1)
	loop := lt.Loops[0]
	assert.Len(t, loop.BackEdges, 1)
	assert.Len(t, loop.Blocks, 2)

	pre := loop.Preheader()
	require.NotNil(t, pre)
	post := loop.PostExit()
	require.NotNil(t, post)
	assert.NotEqual(t, pre, post)
	assert.Equal(t, 1, loop.Depth())
}

func TestCheckerCatchesBadPhi(t *testing.T) {
	gb := NewGraphBuilder()
	p := gb.Parameter(TypeInt32)
	gb.BasicBlock(2, -1)
	gb.Op(OpReturn, TypeInt32, p)
	g := gb.Finish()

	// manufacture a phi with the wrong input count
	b2 := g.StartBlock().Succs()[0]
	phi := g.NewInst(OpPhi, TypeInt32)
	b2.AddPhi(phi)
	phi.AddInput(p)
	phi.AddInput(p)

	errs := CheckGraph(g)
	assert.NotEmpty(t, errs)
}

func TestSaveStateVRegs(t *testing.T) {
	gb := NewGraphBuilder()
	p0 := gb.Parameter(TypeUint64)
	p1 := gb.Parameter(TypeRef)
	gb.BasicBlock(2, -1)
	ss := gb.SaveState(p0, p1)
	gb.Op(OpReturnVoid, TypeNone)
	g := gb.Finish()

	require.Empty(t, CheckGraph(g))
	assert.Equal(t, []int{0, 1}, ss.VRegs())

	bridge := g.FindOrCreateConstant(TypeRef, 1)
	ss.AppendVRegInput(bridge, BridgeVReg)
	assert.Equal(t, []int{0, 1, BridgeVReg}, ss.VRegs())
	assert.Equal(t, 3, ss.InputsCount())
}
