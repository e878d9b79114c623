package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeByName(t *testing.T) {
	op, ok := OpcodeByName("starr")
	require.True(t, ok)
	assert.Equal(t, OpStarr, op)

	_, ok = OpcodeByName("frobnicate")
	assert.False(t, ok)
}

func TestInsFlags(t *testing.T) {
	div := &Ins{Opcode: OpDiv}
	assert.True(t, div.CanThrow())
	assert.False(t, div.IsJump())

	add := &Ins{Opcode: OpAdd}
	assert.False(t, add.CanThrow())

	jeq := &Ins{Opcode: OpJeq}
	assert.True(t, jeq.IsJump())
	assert.True(t, jeq.IsConditionalJump())
	assert.True(t, jeq.IsTerminator())

	jmp := &Ins{Opcode: OpJmp}
	assert.True(t, jmp.IsJump())
	assert.False(t, jmp.IsConditionalJump())

	call := &Ins{Opcode: OpCallShort}
	assert.True(t, call.IsCall())
	assert.True(t, call.CanThrow())

	ret := &Ins{Opcode: OpReturnVoid}
	assert.True(t, ret.IsReturn())
	assert.True(t, ret.IsTerminator())
}

func TestInsUsesAndDef(t *testing.T) {
	// add v0, v1, v2 defines v0 and uses v1, v2
	add := &Ins{Opcode: OpAdd, Regs: []uint16{0, 1, 2}}
	def, ok := add.Def()
	require.True(t, ok)
	assert.Equal(t, uint16(0), def)
	assert.Equal(t, []uint16{1, 2}, add.Uses())

	// starr v3, v4, v5 defines nothing and uses all three
	starr := &Ins{Opcode: OpStarr, Regs: []uint16{3, 4, 5}}
	_, ok = starr.Def()
	assert.False(t, ok)
	assert.Equal(t, []uint16{3, 4, 5}, starr.Uses())
}

func TestInsClone(t *testing.T) {
	ins := &Ins{
		Opcode: OpLdaStr,
		Regs:   []uint16{7},
		IDs:    []string{"hello"},
		Debug:  DebugIns{LineNumber: 12, ColumnNumber: 3},
	}
	ins.SetLabel("start")

	c := ins.Clone()
	assert.Equal(t, ins.Opcode, c.Opcode)
	assert.Equal(t, ins.Regs, c.Regs)
	assert.Equal(t, ins.IDs, c.IDs)
	assert.Equal(t, ins.Debug, c.Debug)
	require.True(t, c.HasLabel())
	assert.Equal(t, "start", c.Label())

	// The clone owns its operand storage.
	c.Regs[0] = 9
	assert.Equal(t, uint16(7), ins.Regs[0])
}

func TestInsString(t *testing.T) {
	ins := &Ins{Opcode: OpAdd, Regs: []uint16{0, 1, 2}}
	assert.Equal(t, "add v0, v1, v2", ins.String())

	ldstr := &Ins{Opcode: OpLdaStr, Regs: []uint16{3}, IDs: []string{"hi"}}
	assert.Equal(t, `lda.str v3, "hi"`, ldstr.String())

	movi := &Ins{Opcode: OpMovi, Regs: []uint16{1}, Imms: []Imm{IntImm(42)}}
	assert.Equal(t, "movi v1, 42", movi.String())

	labeled := &Ins{Opcode: OpReturnVoid}
	labeled.SetLabel("done")
	assert.Equal(t, "done: return.void", labeled.String())
}

func TestInsValidToEmit(t *testing.T) {
	narrow := &Ins{Opcode: OpAdd, Regs: []uint16{0, 255, 256}}
	assert.False(t, narrow.IsValidToEmit())

	wide := &Ins{Opcode: OpMov, Regs: []uint16{300, 4000}}
	assert.True(t, wide.IsValidToEmit())
}
