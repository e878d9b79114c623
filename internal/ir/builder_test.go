package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/program"
	"bytec/internal/types"
)

func ins(op program.Opcode, regs ...uint16) *program.Ins {
	return &program.Ins{Opcode: op, Regs: regs}
}

func insImm(op program.Opcode, imm int64, regs ...uint16) *program.Ins {
	return &program.Ins{Opcode: op, Regs: regs, Imms: []program.Imm{program.IntImm(imm)}}
}

func insID(op program.Opcode, id string, regs ...uint16) *program.Ins {
	return &program.Ins{Opcode: op, Regs: regs, IDs: []string{id}}
}

func TestBuildStraightLine(t *testing.T) {
	fn := program.NewFunction("f")
	fn.ReturnType = types.New("i64", 0)
	fn.RegsNum = 3
	fn.AddInstruction(insImm(program.OpMovi, 1, 0))
	fn.AddInstruction(insImm(program.OpMovi, 2, 1))
	fn.AddInstruction(ins(program.OpAdd, 2, 0, 1))
	fn.AddInstruction(ins(program.OpReturn, 2))

	g, err := BuildGraph(fn)
	require.NoError(t, err)
	require.Empty(t, CheckGraph(g))

	body := g.StartBlock().Succs()[0]
	insts := body.Insts()
	require.Len(t, insts, 2)
	assert.Equal(t, OpAdd, insts[0].Opcode())
	assert.Equal(t, OpReturn, insts[1].Opcode())
	// both add inputs are pooled constants
	assert.True(t, insts[0].Input(0).IsConst())
	assert.True(t, insts[0].Input(1).IsConst())
}

func TestBuildExpandsCheckedArrayOps(t *testing.T) {
	// newarr v0, v1, i32[]; starr v0, v2, v3 — the builder must expand the
	// guards around the raw memory operations.
	fn := program.NewFunction("arr")
	fn.ReturnType = types.New("void", 0)
	fn.RegsNum = 4
	fn.AddInstruction(insImm(program.OpMovi, 10, 1))
	fn.AddInstruction(insImm(program.OpMovi, 2, 2))
	fn.AddInstruction(insImm(program.OpMovi, 5, 3))
	fn.AddInstruction(insID(program.OpNewarr, "i32[]", 0, 1))
	fn.AddInstruction(ins(program.OpStarr, 0, 2, 3))
	fn.AddInstruction(ins(program.OpReturnVoid))

	g, err := BuildGraph(fn)
	require.NoError(t, err)
	require.Empty(t, CheckGraph(g))

	var ops []Opcode
	for _, i := range g.StartBlock().Succs()[0].Insts() {
		ops = append(ops, i.Opcode())
	}
	assert.Equal(t, []Opcode{
		OpSaveState, OpNegativeCheck, OpNewArray,
		OpSaveState, OpNullCheck, OpLenArray, OpBoundsCheck, OpStoreArray,
		OpReturnVoid,
	}, ops)
}

func TestBuildDiamondPlacesPhi(t *testing.T) {
	// if (a0 != 0) v0 = 1 else v0 = 2; return v0
	fn := program.NewFunction("sel")
	fn.ReturnType = types.New("i64", 0)
	fn.Params = []program.Parameter{program.NewParameter(types.New("i64", 0))}
	fn.RegsNum = 1

	thenIns := insImm(program.OpMovi, 1, 0)
	joinIns := ins(program.OpReturn, 0)
	joinIns.SetLabel("join")
	elseIns := insImm(program.OpMovi, 2, 0)
	elseIns.SetLabel("else")

	jnez := insID(program.OpJnez, "then", 1)
	fn.AddInstruction(jnez)
	fn.AddInstruction(elseIns)
	fn.AddInstruction(insID(program.OpJmp, "join"))
	thenIns.SetLabel("then")
	fn.AddInstruction(thenIns)
	fn.AddInstruction(joinIns)

	g, err := BuildGraph(fn)
	require.NoError(t, err)
	require.Empty(t, CheckGraph(g))

	var phis int
	for _, b := range g.BlocksRPO() {
		phis += len(b.Phis())
	}
	assert.Equal(t, 1, phis)
}

func TestBuildLoopPhi(t *testing.T) {
	// v0 = 0; loop: v0 = addi v0, 1; jlt v0, a0 -> loop; return v0
	fn := program.NewFunction("count")
	fn.ReturnType = types.New("i64", 0)
	fn.Params = []program.Parameter{program.NewParameter(types.New("i64", 0))}
	fn.RegsNum = 1

	fn.AddInstruction(insImm(program.OpMovi, 0, 0))
	inc := insImm(program.OpAddi, 1, 0, 0)
	inc.SetLabel("loop")
	fn.AddInstruction(inc)
	fn.AddInstruction(insID(program.OpJlt, "loop", 0, 1))
	fn.AddInstruction(ins(program.OpReturn, 0))

	g, err := BuildGraph(fn)
	require.NoError(t, err)
	require.Empty(t, CheckGraph(g))

	lt := g.LoopAnalysis()
	require.Len(t, lt.Loops, 1)
	header := lt.Loops[0].Header
	require.Len(t, header.Phis(), 1)
	phi := header.Phis()[0]
	assert.Equal(t, 2, phi.InputsCount())
}

func TestBuildUndefinedLabel(t *testing.T) {
	fn := program.NewFunction("bad")
	fn.ReturnType = types.New("void", 0)
	fn.AddInstruction(insID(program.OpJmp, "nowhere"))
	fn.AddInstruction(ins(program.OpReturnVoid))

	_, err := BuildGraph(fn)
	assert.Error(t, err)
}

func TestLowerRoundTrip(t *testing.T) {
	fn := program.NewFunction("f")
	fn.ReturnType = types.New("i64", 0)
	fn.RegsNum = 3
	fn.AddInstruction(insImm(program.OpMovi, 1, 0))
	fn.AddInstruction(insImm(program.OpMovi, 2, 1))
	fn.AddInstruction(ins(program.OpAdd, 2, 0, 1))
	fn.AddInstruction(ins(program.OpReturn, 2))

	g, err := BuildGraph(fn)
	require.NoError(t, err)

	out := program.NewFunction("f")
	out.ReturnType = types.New("i64", 0)
	require.NoError(t, LowerGraph(g, out))

	// Rebuild from the lowered list and compare structurally.
	g2, err := BuildGraph(out)
	require.NoError(t, err)
	require.Empty(t, CheckGraph(g2))
	assert.True(t, CompareGraphs(g, g2))
}
