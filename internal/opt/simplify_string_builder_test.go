package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/ir"
)

// StringBuilder(s).toString() with no appends is just s.
func TestSbUnnecessaryBuilderCollapses(t *testing.T) {
	gb := ir.NewGraphBuilder()
	s := gb.Parameter(ir.TypeRef)

	b2 := gb.BasicBlock(2, -1)
	ss := gb.SaveState(s)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss2 := gb.SaveState(s, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtorString, ir.TypeVoid, sb, s, ss2)
	ss3 := gb.SaveState(s, sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ss3)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, ts)
	g := gb.Finish()

	applyAndClean(t, g, &SimplifyStringBuilder{})

	assert.Equal(t, s, ret.Input(0))
	for _, i := range b2.Insts() {
		assert.NotEqual(t, ir.OpIntrinsic, i.Opcode())
		assert.NotEqual(t, ir.OpNewObject, i.Opcode())
	}
}

// Two appends and a toString become one concat intrinsic.
func TestSbConcatenationTwoArgs(t *testing.T) {
	gb := ir.NewGraphBuilder()
	a := gb.Parameter(ir.TypeRef)
	b := gb.Parameter(ir.TypeRef)

	blk := gb.BasicBlock(2, -1)
	ss := gb.SaveState(a, b)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss1 := gb.SaveState(a, b, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtor, ir.TypeVoid, sb, ss1)
	ss2 := gb.SaveState(a, b, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, a, ss2)
	ss3 := gb.SaveState(a, b, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, b, ss3)
	ss4 := gb.SaveState(a, b, sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ss4)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, ts)
	g := gb.Finish()

	applyAndClean(t, g, &SimplifyStringBuilder{})

	concat := ret.Input(0)
	require.Equal(t, ir.OpIntrinsic, concat.Opcode())
	assert.Equal(t, ir.IntrinsicStringConcat, concat.IntrinsicID())
	assert.Equal(t, a, concat.Input(0))
	assert.Equal(t, b, concat.Input(1))
	require.NotNil(t, concat.SaveStateInput())

	for _, i := range blk.Insts() {
		if i.Opcode() == ir.OpIntrinsic {
			assert.Equal(t, ir.IntrinsicStringConcat, i.IntrinsicID())
		}
		assert.NotEqual(t, ir.OpNewObject, i.Opcode())
	}
}

// Three operands nest left: Concat(Concat(a,b), c).
func TestSbConcatenationThreeArgs(t *testing.T) {
	gb := ir.NewGraphBuilder()
	a := gb.Parameter(ir.TypeRef)
	b := gb.Parameter(ir.TypeRef)
	c := gb.Parameter(ir.TypeRef)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState(a, b, c)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss1 := gb.SaveState(a, b, c, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtorString, ir.TypeVoid, sb, a, ss1)
	ss2 := gb.SaveState(a, b, c, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, b, ss2)
	ss3 := gb.SaveState(a, b, c, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, c, ss3)
	ss4 := gb.SaveState(a, b, c, sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ss4)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, ts)
	g := gb.Finish()

	applyAndClean(t, g, &SimplifyStringBuilder{})

	outer := ret.Input(0)
	require.Equal(t, ir.IntrinsicStringConcat, outer.IntrinsicID())
	inner := outer.Input(0)
	require.Equal(t, ir.IntrinsicStringConcat, inner.IntrinsicID())
	assert.Equal(t, a, inner.Input(0))
	assert.Equal(t, b, inner.Input(1))
	assert.Equal(t, c, outer.Input(1))
}

// Four operands balance: Concat(Concat(a,b), Concat(c,d)).
func TestSbConcatenationFourArgs(t *testing.T) {
	gb := ir.NewGraphBuilder()
	a := gb.Parameter(ir.TypeRef)
	b := gb.Parameter(ir.TypeRef)
	c := gb.Parameter(ir.TypeRef)
	d := gb.Parameter(ir.TypeRef)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState(a, b, c, d)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss1 := gb.SaveState(sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtor, ir.TypeVoid, sb, ss1)
	for _, arg := range []*ir.Inst{a, b, c, d} {
		ssN := gb.SaveState(sb)
		gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, arg, ssN)
	}
	ssT := gb.SaveState(sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ssT)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, ts)
	g := gb.Finish()

	applyAndClean(t, g, &SimplifyStringBuilder{})

	root := ret.Input(0)
	require.Equal(t, ir.IntrinsicStringConcat, root.IntrinsicID())
	left, right := root.Input(0), root.Input(1)
	require.Equal(t, ir.IntrinsicStringConcat, left.IntrinsicID())
	require.Equal(t, ir.IntrinsicStringConcat, right.IntrinsicID())
	assert.Equal(t, a, left.Input(0))
	assert.Equal(t, b, left.Input(1))
	assert.Equal(t, c, right.Input(0))
	assert.Equal(t, d, right.Input(1))
}

// Five or more operands stay untouched.
func TestSbConcatenationTooLong(t *testing.T) {
	gb := ir.NewGraphBuilder()
	a := gb.Parameter(ir.TypeRef)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState(a)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss1 := gb.SaveState(sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtor, ir.TypeVoid, sb, ss1)
	for n := 0; n < 5; n++ {
		ssN := gb.SaveState(sb)
		gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, a, ssN)
	}
	ssT := gb.SaveState(sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ssT)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, ts)
	g := gb.Finish()

	changed := (&SimplifyStringBuilder{}).Apply(g)
	assert.False(t, changed)
	assert.Equal(t, ts, ret.Input(0))
}

// Functions with try-catch are left alone.
func TestSbSkipsTryCatch(t *testing.T) {
	gb := ir.NewGraphBuilder()
	s := gb.Parameter(ir.TypeRef)

	blk := gb.BasicBlock(2, -1)
	ss := gb.SaveState(s)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ss)
	ss2 := gb.SaveState(s, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtorString, ir.TypeVoid, sb, s, ss2)
	ss3 := gb.SaveState(s, sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ss3)
	gb.Op(ir.OpReturn, ir.TypeRef, ts)
	blk.IsTry = true
	g := gb.Finish()

	assert.False(t, (&SimplifyStringBuilder{}).Apply(g))
}

// The accumulator loop: s = s + a per iteration. The builder construction
// hoists into the preheader, the toString into the post-exit, and the
// external reader of the accumulator sees the post-exit result.
func TestSbLoopHoisting(t *testing.T) {
	gb := ir.NewGraphBuilder()
	s0 := gb.Parameter(ir.TypeRef)
	delta := gb.Parameter(ir.TypeRef)
	n := gb.Parameter(ir.TypeInt32)
	c0 := gb.IntConst(0)

	pre := gb.BasicBlock(2, 3)
	gb.SaveStateDeoptimize(s0, delta, n)

	gb.BasicBlock(3, 4, 5) // header
	acc := gb.Phi(ir.TypeRef, ir.PhiIn{Pred: 2, Val: s0})
	i := gb.Phi(ir.TypeInt32, ir.PhiIn{Pred: 2, Val: c0})
	cmp := gb.Compare(ir.CCLt, i, n)
	gb.IfImm(ir.CCNe, 0, cmp)

	body := gb.BasicBlock(4, 3)
	ssNew := gb.SaveState(acc, delta)
	sb := gb.OpType(ir.OpNewObject, ir.TypeRef, "std.core.StringBuilder", ssNew)
	ssCtor := gb.SaveState(acc, delta, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderCtorString, ir.TypeVoid, sb, acc, ssCtor)
	ssApp := gb.SaveState(delta, sb)
	gb.Intrinsic(ir.IntrinsicStringBuilderAppendString, ir.TypeRef, sb, delta, ssApp)
	ssTs := gb.SaveState(sb)
	ts := gb.Intrinsic(ir.IntrinsicStringBuilderToString, ir.TypeRef, sb, ssTs)
	inc := gb.OpImm(ir.OpAddI, ir.TypeInt32, 1, i)
	gb.SetPhiInput(acc, 4, ts)
	gb.SetPhiInput(i, 4, inc)

	post := gb.BasicBlock(5, -1)
	ret := gb.Op(ir.OpReturn, ir.TypeRef, acc)
	g := gb.Finish()

	require.Empty(t, ir.CheckGraph(g))
	require.True(t, (&SimplifyStringBuilder{}).Apply(g))
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))

	// construction moved to the preheader
	var preHasNew, preHasCtor bool
	for _, inst := range pre.Insts() {
		if inst == sb {
			preHasNew = true
		}
		if isIntrinsic(inst, ir.IntrinsicStringBuilderCtorString) {
			preHasCtor = true
			assert.Equal(t, s0, inst.Input(1))
		}
	}
	assert.True(t, preHasNew)
	assert.True(t, preHasCtor)

	// toString moved past the loop and feeds the old accumulator readers
	assert.Equal(t, post, ts.Block())
	assert.Equal(t, ts, ret.Input(0))

	// the append stays inside the loop, against the hoisted instance
	var appendInBody bool
	for _, inst := range body.Insts() {
		if isIntrinsic(inst, ir.IntrinsicStringBuilderAppendString) {
			appendInBody = true
			assert.Equal(t, sb, inst.Input(0))
		}
		assert.False(t, isIntrinsic(inst, ir.IntrinsicStringBuilderToString))
	}
	assert.True(t, appendInBody)
}
