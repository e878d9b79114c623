package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/ir"
	"bytec/internal/program"
)

// NewArray(i32, 3) filled with the constants 1, 2, 3 moves into the
// literal-array table; the block keeps SaveState + LoadConstArray.
func TestConstArrayResolved(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c1 := gb.IntConst(1)
	c2 := gb.IntConst(2)
	c3 := gb.IntConst(3)
	c0 := gb.IntConst(0)

	b2 := gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", c3, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c0, c1)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c1, c2)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c2, c3)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	pass := &ConstArrayResolver{Program: prog}
	require.True(t, pass.Apply(g))
	g.InvalidateAnalyses()
	require.Empty(t, ir.CheckGraph(g))

	require.Equal(t, 1, prog.LiteralArrayCount())
	la := prog.GetLiteralArray("0")
	require.NotNil(t, la)
	tag, ok := la.ElementTag()
	require.True(t, ok)
	assert.Equal(t, program.TagArrayI32, tag)
	n, ok := la.Len()
	require.True(t, ok)
	assert.Equal(t, uint32(3), n)
	assert.Equal(t, int32(1), la.Literals[2].Value)
	assert.Equal(t, int32(2), la.Literals[3].Value)
	assert.Equal(t, int32(3), la.Literals[4].Value)

	// the block now loads the table entry instead of building the array
	var load *ir.Inst
	for _, i := range b2.Insts() {
		assert.NotEqual(t, ir.OpStoreArray, i.Opcode())
		assert.NotEqual(t, ir.OpNewArray, i.Opcode())
		if i.Opcode() == ir.OpLoadConstArray {
			load = i
		}
	}
	require.NotNil(t, load)
	assert.Equal(t, "0", load.TypeID())
	require.NotNil(t, load.SaveStateInput())
	assert.Equal(t, ir.OpReturn, b2.LastInst().Opcode())
	assert.Equal(t, load, b2.LastInst().Input(0))
}

func TestConstArrayTooSmall(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c1 := gb.IntConst(1)
	c0 := gb.IntConst(0)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", c1, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c0, c1)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	assert.False(t, (&ConstArrayResolver{Program: prog}).Apply(g))
	assert.Equal(t, 0, prog.LiteralArrayCount())
}

func TestConstArrayNonConstantElementAborts(t *testing.T) {
	gb := ir.NewGraphBuilder()
	p := gb.Parameter(ir.TypeInt32)
	c2 := gb.IntConst(2)
	c0 := gb.IntConst(0)
	c1 := gb.IntConst(1)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", c2, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c0, p) // not a constant
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c1, c1)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	assert.False(t, (&ConstArrayResolver{Program: prog}).Apply(g))
}

func TestConstArrayMultidimensionalSkipped(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c2 := gb.IntConst(2)
	c0 := gb.IntConst(0)
	c1 := gb.IntConst(1)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[][]", c2, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c0, c1)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c1, c1)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	assert.False(t, (&ConstArrayResolver{Program: prog}).Apply(g))
}

func TestConstArrayOfStrings(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c2 := gb.IntConst(2)
	c0 := gb.IntConst(0)
	c1 := gb.IntConst(1)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "std.core.String[]", c2, ss)
	s1 := gb.OpType(ir.OpLoadString, ir.TypeRef, "hello", ss)
	gb.Op(ir.OpStoreArray, ir.TypeRef, na, c0, s1)
	s2 := gb.OpType(ir.OpLoadString, ir.TypeRef, "world", ss)
	gb.Op(ir.OpStoreArray, ir.TypeRef, na, c1, s2)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	require.True(t, (&ConstArrayResolver{Program: prog}).Apply(g))

	la := prog.GetLiteralArray("0")
	require.NotNil(t, la)
	tag, _ := la.ElementTag()
	assert.Equal(t, program.TagArrayString, tag)
	assert.Equal(t, "hello", la.Literals[2].Value)
	assert.Equal(t, "world", la.Literals[3].Value)
	_, hasHello := prog.Strings["hello"]
	assert.True(t, hasHello)
}

// An interrupted patch (a call between the stores) is not resolvable.
func TestConstArrayInterruptedPatch(t *testing.T) {
	gb := ir.NewGraphBuilder()
	c2 := gb.IntConst(2)
	c0 := gb.IntConst(0)
	c1 := gb.IntConst(1)

	gb.BasicBlock(2, -1)
	ss := gb.SaveState()
	na := gb.OpType(ir.OpNewArray, ir.TypeRef, "i32[]", c2, ss)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c0, c1)
	ssc := gb.SaveState()
	gb.OpType(ir.OpCallStatic, ir.TypeInt32, "sideEffect:()", ssc)
	gb.Op(ir.OpStoreArray, ir.TypeInt32, na, c1, c1)
	gb.Op(ir.OpReturn, ir.TypeRef, na)
	g := gb.Finish()

	prog := program.NewProgram()
	assert.False(t, (&ConstArrayResolver{Program: prog}).Apply(g))
}
