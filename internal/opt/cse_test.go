package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/ir"
)

func applyAndClean(t *testing.T, g *ir.Graph, pass Pass) {
	t.Helper()
	pass.Apply(g)
	g.InvalidateAnalyses()
	(&Cleanup{}).Apply(g)
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))
}

// Duplicate arithmetic in one block folds onto the first instance;
// commutative opcodes match operands unordered, subtraction does not.
func TestCseApplyInBlock(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p0 := gb.Parameter(ir.TypeUint64)
	p1 := gb.Parameter(ir.TypeUint64)

	gb.BasicBlock(2, -1)
	add := gb.Op(ir.OpAdd, ir.TypeUint64, p0, p1)
	sub := gb.Op(ir.OpSub, ir.TypeUint64, p1, p0)
	addRev := gb.Op(ir.OpAdd, ir.TypeUint64, p1, p0)
	subRev := gb.Op(ir.OpSub, ir.TypeUint64, p0, p1)
	mod := gb.Op(ir.OpMod, ir.TypeUint64, p0, p1)
	mod2 := gb.Op(ir.OpMod, ir.TypeUint64, p0, p1)
	ss := gb.SaveState()
	call := gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", add, sub, addRev, subRev, mod, mod2, ss)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &Cse{})

	// addRev and mod2 fold; both subs stay.
	assert.Equal(t, add, call.Input(0))
	assert.Equal(t, sub, call.Input(1))
	assert.Equal(t, add, call.Input(2))
	assert.Equal(t, subRev, call.Input(3))
	assert.Equal(t, mod, call.Input(4))
	assert.Equal(t, mod, call.Input(5))
	assert.Nil(t, addRev.Block())
	assert.Nil(t, mod2.Block())
	assert.NotNil(t, subRev.Block())
}

// Float arithmetic never commutes for redundancy elimination.
func TestCseFloatNotCommutative(t *testing.T) {
	gb := ir.NewGraphBuilder()
	f0 := gb.Parameter(ir.TypeFloat64)
	f1 := gb.Parameter(ir.TypeFloat64)

	gb.BasicBlock(2, -1)
	a := gb.Op(ir.OpAdd, ir.TypeFloat64, f0, f1)
	b := gb.Op(ir.OpAdd, ir.TypeFloat64, f1, f0)
	ss := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", a, b, ss)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &Cse{})

	assert.NotNil(t, a.Block())
	assert.NotNil(t, b.Block())
}

// A dominating instance reaches into dominated blocks.
func TestCseAcrossDominators(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p0 := gb.Parameter(ir.TypeUint64)
	p1 := gb.Parameter(ir.TypeUint64)

	gb.BasicBlock(2, 3, 4)
	top := gb.Op(ir.OpMul, ir.TypeUint64, p0, p1)
	cmp := gb.Compare(ir.CCEq, top, p0)
	gb.IfImm(ir.CCNe, 0, cmp)

	gb.BasicBlock(3, 5)
	dup := gb.Op(ir.OpMul, ir.TypeUint64, p1, p0)
	ss := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", dup, ss)

	gb.BasicBlock(4, 5)
	gb.BasicBlock(5, -1)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &Cse{})

	assert.Nil(t, dup.Block())
}

// Matching arithmetic in both predecessors of a join becomes a phi; the
// duplicate inside the join folds onto it.
func TestCsePhiSynthesis(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p0 := gb.Parameter(ir.TypeUint64)
	p1 := gb.Parameter(ir.TypeUint64)

	gb.BasicBlock(2, 3, 4)
	cmp := gb.Compare(ir.CCEq, p0, p1)
	gb.IfImm(ir.CCNe, 0, cmp)

	gb.BasicBlock(3, 5)
	left := gb.Op(ir.OpAdd, ir.TypeUint64, p0, p1)
	ssL := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", left, ssL)

	gb.BasicBlock(4, 5)
	right := gb.Op(ir.OpAdd, ir.TypeUint64, p0, p1)
	ssR := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", right, ssR)

	join := gb.BasicBlock(5, -1)
	dup := gb.Op(ir.OpAdd, ir.TypeUint64, p0, p1)
	gb.Op(ir.OpReturn, ir.TypeUint64, dup)
	g := gb.Finish()

	applyAndClean(t, g, &Cse{})

	require.Len(t, join.Phis(), 1)
	phi := join.Phis()[0]
	assert.ElementsMatch(t, []*ir.Inst{left, right}, phi.Inputs())
	assert.Nil(t, dup.Block())
	assert.Equal(t, ir.OpReturn, join.LastInst().Opcode())
	assert.Equal(t, phi, join.LastInst().Input(0))
}
