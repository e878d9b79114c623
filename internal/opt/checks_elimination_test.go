package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/ir"
)

// Constant-fold: BoundsCheck(10, 2) over a fresh 10-element array is
// removable; the load keeps the constant index.
func TestBoundsCheckConstantFold(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c10 := gb.IntConst(10)
	c2 := gb.IntConst(2)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	negc := gb.Op(ir.OpNegativeCheck, ir.TypeInt64, c10, ss)
	arr := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", negc, ss)
	ss2 := gb.SaveState(arr)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, arr, ss2)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	bc := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, c2, ss2)
	ld := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc)
	gb.Op(ir.OpReturn, ir.TypeInt32, ld)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, bc.Block())
	assert.Equal(t, c2, ld.Input(1))
	// the fresh allocation also discharges the null and negative checks
	assert.Nil(t, nc.Block())
	assert.Equal(t, arr, ld.Input(0))
	assert.Nil(t, negc.Block())
}

// Two null checks on the same value: the dominated one folds onto the
// dominating one and the store uses its result.
func TestNullCheckDedup(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeRef)
	idx := gb.IntConst(0)
	val := gb.IntConst(7)

	gb.BasicBlock(2, -1)
	ss1 := gb.SaveState(p)
	nc1 := gb.Op(ir.OpNullCheck, ir.TypeRef, p, ss1)
	ln1 := gb.Op(ir.OpLenArray, ir.TypeInt32, nc1)
	bc1 := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln1, idx, ss1)
	ld := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc1, bc1)
	ss2 := gb.SaveState(p, ld)
	nc2 := gb.Op(ir.OpNullCheck, ir.TypeRef, p, ss2)
	ln2 := gb.Op(ir.OpLenArray, ir.TypeInt32, nc2)
	bc2 := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln2, idx, ss2)
	st := gb.Op(ir.OpStoreArray, ir.TypeInt32, nc2, bc2, val)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, nc2.Block())
	assert.Equal(t, nc1, st.Input(0))
}

// A check on the null literal becomes an unconditional Deoptimize and the
// rest of the block is dropped.
func TestNullCheckOnNullConstant(t *testing.T) {
	gb := ir.NewGraphBuilder()
	null := gb.NullPtr()

	b2 := gb.BasicBlock(2, -1)
	ss := gb.SaveState(null)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, null, ss)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	gb.Op(ir.OpReturn, ir.TypeInt32, ln)
	g := gb.Finish()

	(&ChecksElimination{}).Apply(g)
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))

	var found bool
	for _, i := range b2.Insts() {
		if i.Opcode() == ir.OpDeoptimize {
			found = true
			assert.Equal(t, ir.DeoptNullCheck, i.DeoptReason())
		}
		assert.NotEqual(t, ir.OpReturn, i.Opcode())
		assert.NotEqual(t, ir.OpLenArray, i.Opcode())
	}
	assert.True(t, found)
}

func TestZeroCheckElimination(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeInt32)
	c4 := gb.IntConst(4)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	zc := gb.Op(ir.OpZeroCheck, ir.TypeInt64, c4, ss)
	div := gb.Op(ir.OpDiv, ir.TypeInt32, p, zc)
	gb.Op(ir.OpReturn, ir.TypeInt32, div)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, zc.Block())
	assert.Equal(t, c4, div.Input(1))
}

func TestZeroCheckOnZeroDeoptimizes(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeInt32)
	c0 := gb.IntConst(0)

	b2 := gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	zc := gb.Op(ir.OpZeroCheck, ir.TypeInt64, c0, ss)
	div := gb.Op(ir.OpDiv, ir.TypeInt32, p, zc)
	gb.Op(ir.OpReturn, ir.TypeInt32, div)
	g := gb.Finish()
	_ = div

	(&ChecksElimination{}).Apply(g)
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))

	var found bool
	for _, i := range b2.Insts() {
		if i.Opcode() == ir.OpDeoptimize {
			found = true
			assert.Equal(t, ir.DeoptZeroCheck, i.DeoptReason())
		}
	}
	assert.True(t, found)
}

// Abs guarantees a non-negative operand for the size check.
func TestNegativeCheckAfterAbs(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeInt32)

	gb.BasicBlock(2, -1)
	abs := gb.Op(ir.OpAbs, ir.TypeInt32, p)
	ss := gb.SaveState()
	negc := gb.Op(ir.OpNegativeCheck, ir.TypeInt32, abs, ss)
	arr := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", negc, ss)
	gb.Op(ir.OpReturn, ir.TypeRef, arr)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, negc.Block())
	assert.Equal(t, abs, arr.Input(0))
}

// Storing null never violates the array element type.
func TestRefTypeCheckOnNullStore(t *testing.T) {
	gb := ir.NewGraphBuilder()
	arr := gb.Parameter(ir.TypeRef)
	idx := gb.IntConst(0)
	null := gb.NullPtr()

	gb.BasicBlock(2, -1)
	ss := gb.SaveState(arr)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, arr, ss)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	bc := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, idx, ss)
	rtc := gb.Op(ir.OpRefTypeCheck, ir.TypeRef, nc, null, ss)
	st := gb.Op(ir.OpStoreArray, ir.TypeRef, nc, bc, rtc)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, rtc.Block())
	assert.Equal(t, null, st.Input(2))
}

// An index refined by the guarding comparison needs no bounds check.
func TestIfGuardedBoundsCheck(t *testing.T) {
	gb := ir.NewGraphBuilder()
	arr := gb.Parameter(ir.TypeRef)
	i := gb.Parameter(ir.TypeInt32)
	c10 := gb.IntConst(10)

	gb.BasicBlock(2, 3, 4)
	// i in [0, 10) on the true arm
	cmpLo := gb.Compare(ir.CCGe, i, gb.IntConst(0))
	gb.IfImm(ir.CCNe, 0, cmpLo)
	gb.BasicBlock(3, 5, 4)
	cmpHi := gb.Compare(ir.CCLt, i, c10)
	gb.IfImm(ir.CCNe, 0, cmpHi)
	gb.BasicBlock(5, 4)
	ss := gb.SaveState(arr)
	negc := gb.Op(ir.OpNegativeCheck, ir.TypeInt64, c10, ss)
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", negc, ss)
	ss2 := gb.SaveState(na)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, na, ss2)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	bc := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, i, ss2)
	ld := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc)
	ssc := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "use:()", ld, ssc)
	gb.BasicBlock(4, -1)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, bc.Block())
	assert.Equal(t, i, ld.Input(1))
}

// Grouped checks at i-1, i, i+1 collapse into two range guards.
func TestGroupedBoundsChecks(t *testing.T) {
	gb := ir.NewGraphBuilder()
	arr := gb.Parameter(ir.TypeRef)
	i := gb.Parameter(ir.TypeInt32)

	b2 := gb.BasicBlock(2, -1)
	ss := gb.SaveState(arr)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, arr, ss)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)

	im1 := gb.OpImm(ir.OpSubI, ir.TypeInt32, 1, i)
	ip1 := gb.OpImm(ir.OpAddI, ir.TypeInt32, 1, i)

	bc1 := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, im1, ss)
	ld1 := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc1)
	bc2 := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, i, ss)
	ld2 := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc2)
	bc3 := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, ip1, ss)
	ld3 := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc3)
	add := gb.Op(ir.OpAdd, ir.TypeInt32, ld1, ld2)
	sum := gb.Op(ir.OpAdd, ir.TypeInt32, add, ld3)
	gb.Op(ir.OpReturn, ir.TypeInt32, sum)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, bc1.Block())
	assert.Nil(t, bc2.Block())
	assert.Nil(t, bc3.Block())
	assert.Equal(t, im1, ld1.Input(1))
	assert.Equal(t, i, ld2.Input(1))
	assert.Equal(t, ip1, ld3.Input(1))

	deopts := 0
	for _, inst := range b2.Insts() {
		if inst.Opcode() == ir.OpDeoptimizeIf {
			deopts++
			assert.Equal(t, ir.DeoptBoundsCheck, inst.DeoptReason())
		}
	}
	assert.Equal(t, 2, deopts)
}

// A phi of two indices each proven in range on its predecessor is in range
// at the join.
func TestPhiMergedIndexInRange(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeInt32)
	c1 := gb.IntConst(1)
	c5 := gb.IntConst(5)
	c10 := gb.IntConst(10)

	gb.BasicBlock(2, 3, 4)
	cmp := gb.Compare(ir.CCEq, p, c1)
	gb.IfImm(ir.CCNe, 0, cmp)
	gb.BasicBlock(3, 5)
	gb.BasicBlock(4, 5)
	gb.BasicBlock(5, -1)
	phi := gb.Phi(ir.TypeInt32, ir.PhiIn{Pred: 3, Val: c1}, ir.PhiIn{Pred: 4, Val: c5})
	ss := gb.SaveState()
	negc := gb.Op(ir.OpNegativeCheck, ir.TypeInt64, c10, ss)
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", negc, ss)
	ss2 := gb.SaveState(na)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, na, ss2)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	bc := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, phi, ss2)
	ld := gb.Op(ir.OpLoadArray, ir.TypeInt32, nc, bc)
	gb.Op(ir.OpReturn, ir.TypeInt32, ld)
	g := gb.Finish()

	applyAndClean(t, g, &ChecksElimination{})

	assert.Nil(t, bc.Block())
	assert.Equal(t, phi, ld.Input(1))
}

// The loop scenario: for (i = 0; i < 10; i++) a[i] = 0 with an unknown
// array. The null and bounds checks leave the loop as preheader guards.
func TestLoopHoistedChecks(t *testing.T) {
	gb := ir.NewGraphBuilder()
	arr := gb.Parameter(ir.TypeRef)
	c0 := gb.IntConst(0)
	c1 := gb.IntConst(1)
	c10 := gb.IntConst(10)
	_ = c1

	pre := gb.BasicBlock(2, 3)
	gb.SaveStateDeoptimize(arr)

	gb.BasicBlock(3, 4, 5) // header
	phi := gb.Phi(ir.TypeInt32, ir.PhiIn{Pred: 2, Val: c0})
	cmp := gb.Compare(ir.CCLt, phi, c10)
	gb.IfImm(ir.CCNe, 0, cmp)

	body := gb.BasicBlock(4, 3)
	ss := gb.SaveState(arr, phi)
	nc := gb.Op(ir.OpNullCheck, ir.TypeRef, arr, ss)
	ln := gb.Op(ir.OpLenArray, ir.TypeInt32, nc)
	bc := gb.Op(ir.OpBoundsCheck, ir.TypeInt32, ln, phi, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, nc, bc, c0)
	inc := gb.OpImm(ir.OpAddI, ir.TypeInt32, 1, phi)
	gb.SetPhiInput(phi, 4, inc) // back edge

	gb.BasicBlock(5, -1)
	gb.Op(ir.OpReturnVoid, ir.TypeNone)
	g := gb.Finish()

	require.Empty(t, ir.CheckGraph(g))
	(&ChecksElimination{}).Apply(g)
	g.InvalidateAnalyses()
	(&Cleanup{}).Apply(g)
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))

	// both checks disappeared from the loop body
	for _, i := range body.Insts() {
		assert.NotEqual(t, ir.OpNullCheck, i.Opcode())
		assert.NotEqual(t, ir.OpBoundsCheck, i.Opcode())
	}
	// and the preheader carries the two guards
	var nullGuard, boundsGuard bool
	for _, i := range pre.Insts() {
		if i.Opcode() == ir.OpDeoptimizeIf {
			switch i.DeoptReason() {
			case ir.DeoptNullCheck:
				nullGuard = true
			case ir.DeoptBoundsCheck:
				boundsGuard = true
			}
		}
	}
	assert.True(t, nullGuard)
	assert.True(t, boundsGuard)
}
