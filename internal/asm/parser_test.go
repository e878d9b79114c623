package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/errors"
	"bytec/internal/program"
)

const sample = `# a small unit
.record pkg.Point {
	i32 x
	i32 y
}

.record pkg.Ext <external>

.function i32 sum(i32 a0, i32 a1) <static> {
	add v0, a0, a1
	return v0
}

.function void main() <static> {
	movi v0, 3
	movi v1, 4
	call.short v2, sum:(i32,i32), v0, v1
	lda.str v3, "done"
	return.void
}
`

func TestParseSample(t *testing.T) {
	prog, diags := ParseSource("sample.pa", sample)
	require.Empty(t, diags)
	require.NotNil(t, prog)

	assert.Equal(t, []string{"pkg.Point", "pkg.Ext"}, prog.RecordNames())
	point := prog.GetRecord("pkg.Point")
	require.NotNil(t, point)
	require.Len(t, point.FieldList, 2)
	assert.Equal(t, "x", point.FieldList[0].Name)
	assert.Equal(t, "i32", point.FieldList[0].Type.Name())

	ext := prog.GetRecord("pkg.Ext")
	require.NotNil(t, ext)
	assert.True(t, ext.Metadata.IsForeign())

	sum := prog.GetFunction("sum:(i32,i32)")
	require.NotNil(t, sum)
	assert.True(t, sum.IsStatic())
	assert.Equal(t, uint32(1), sum.RegsNum)
	require.Len(t, sum.Ins, 2)
	// a0/a1 map above the local registers
	assert.Equal(t, []uint16{0, 1, 2}, sum.Ins[0].Regs)

	main := prog.GetFunction("main:()")
	require.NotNil(t, main)
	call := main.Ins[2]
	assert.Equal(t, program.OpCallShort, call.Opcode)
	assert.Equal(t, []string{"sum:(i32,i32)"}, call.IDs)

	_, ok := prog.Strings["done"]
	assert.True(t, ok)
}

func TestParseLabelsAndJumps(t *testing.T) {
	src := `.function i32 count(i32 a0) <static> {
	movi v0, 0
loop: addi v0, v0, 1
	jlt v0, a0, loop
	return v0
}
`
	prog, diags := ParseSource("t.pa", src)
	require.Empty(t, diags)
	fn := prog.GetFunction("count:(i32)")
	require.NotNil(t, fn)
	assert.Contains(t, fn.LabelTable, "loop")
	assert.True(t, fn.Ins[1].HasLabel())
	assert.Equal(t, "loop", fn.Ins[2].JumpTarget())
}

func TestParseCatchDirective(t *testing.T) {
	src := `.function void risky() <static> {
try_begin: movi v0, 1
try_end: movi v0, 2
handler: movi v0, 3
	return.void
	.catch pkg.Exc, try_begin, try_end, handler
}
`
	prog, diags := ParseSource("t.pa", src)
	require.Empty(t, diags)
	fn := prog.GetFunction("risky:()")
	require.NotNil(t, fn)
	require.Len(t, fn.CatchBlocks, 1)
	assert.Equal(t, "pkg.Exc", fn.CatchBlocks[0].ExceptionRecord)
	assert.Equal(t, "try_begin", fn.CatchBlocks[0].TryBeginLabel)
}

func TestParseReportsUnknownMnemonic(t *testing.T) {
	src := `.function void f() <static> {
	frobnicate v0
	return.void
}
`
	_, diags := ParseSource("t.pa", src)
	require.Len(t, diags, 1)
	assert.Equal(t, errors.ErrorUnknownOpcode, diags[0].Code)
	assert.Equal(t, 2, diags[0].Position.Line)
}

func TestParseReportsUndefinedLabel(t *testing.T) {
	src := `.function void f() <static> {
	jmp nowhere
	return.void
}
`
	_, diags := ParseSource("t.pa", src)
	require.NotEmpty(t, diags)
	assert.Equal(t, errors.ErrorUndefinedLabel, diags[0].Code)
}

func TestParseReportsDuplicates(t *testing.T) {
	src := `.record A
.record A
`
	_, diags := ParseSource("t.pa", src)
	require.Len(t, diags, 1)
	assert.Equal(t, errors.ErrorDuplicateSymbol, diags[0].Code)
}

func TestParseSyntaxError(t *testing.T) {
	_, diags := ParseSource("t.pa", ".function {{{")
	require.NotEmpty(t, diags)
	assert.Equal(t, errors.ErrorBadDirective, diags[0].Code)
}

func TestJsonDumpLocations(t *testing.T) {
	prog, diags := ParseSource("sample.pa", sample)
	require.Empty(t, diags)
	dump := prog.JsonDump()
	assert.Contains(t, dump, `"name": "sum"`)
	assert.Contains(t, dump, `"bodyLocation"`)
}

func TestEmitRoundTrip(t *testing.T) {
	prog, diags := ParseSource("sample.pa", sample)
	require.Empty(t, diags)

	text := EmitText(prog)
	prog2, diags2 := ParseSource("sample2.pa", text)
	require.Empty(t, diags2, "emitted text must re-parse: %s", text)

	assert.ElementsMatch(t, prog.RecordNames(), prog2.RecordNames())
	assert.ElementsMatch(t, prog.FunctionNames(), prog2.FunctionNames())

	f1 := prog.GetFunction("sum:(i32,i32)")
	f2 := prog2.GetFunction("sum:(i32,i32)")
	require.NotNil(t, f2)
	require.Equal(t, len(f1.Ins), len(f2.Ins))
	for i := range f1.Ins {
		assert.Equal(t, f1.Ins[i].Opcode, f2.Ins[i].Opcode)
		assert.Equal(t, f1.Ins[i].Regs, f2.Ins[i].Regs)
		assert.Equal(t, f1.Ins[i].IDs, f2.Ins[i].IDs)
	}
}
