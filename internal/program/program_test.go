package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bytec/internal/types"
)

func TestProgramTablesKeepInsertionOrder(t *testing.T) {
	p := NewProgram()
	require.True(t, p.AddRecord(NewRecord("B")))
	require.True(t, p.AddRecord(NewRecord("A")))
	assert.False(t, p.AddRecord(NewRecord("A")))

	assert.Equal(t, []string{"B", "A"}, p.RecordNames())

	f1 := NewFunction("main")
	f1.ReturnType = types.New("void", 0)
	f2 := NewFunction("helper")
	f2.ReturnType = types.New("i32", 0)
	f2.Params = []Parameter{NewParameter(types.New("i32", 0))}
	require.True(t, p.AddFunction(f1))
	require.True(t, p.AddFunction(f2))

	assert.Equal(t, []string{"main:()", "helper:(i32)"}, p.FunctionNames())
	assert.Same(t, f2, p.GetFunction("helper:(i32)"))
	assert.Nil(t, p.GetFunction("helper:()"))
}

func TestJsonDump(t *testing.T) {
	p := NewProgram()

	f := NewFunction("foo")
	f.ReturnType = types.New("void", 0)
	f.FileLocation = FileLocation{IsDefined: true}
	f.BodyLocation = SourceLocation{
		Begin: SourcePosition{Line: 1, Column: 1},
		End:   SourcePosition{Line: 3, Column: 2},
	}
	require.True(t, p.AddFunction(f))

	r := NewRecord("R")
	require.True(t, p.AddRecord(r))

	want := `{ "functions": [ { "name": "foo", "bodyLocation": ` +
		`{ "begin": { "line": 1, "column": 1 }, "end": { "line": 3, "column": 2 } } } ], ` +
		`"records": [ { "name": "R" } ] }`
	assert.Equal(t, want, p.JsonDump())
}

func TestJsonDumpEmpty(t *testing.T) {
	p := NewProgram()
	assert.Equal(t, `{ "functions": [  ], "records": [  ] }`, p.JsonDump())
}

func TestLiteralArrayIntro(t *testing.T) {
	la := &LiteralArray{Literals: []Literal{
		{Tag: TagArrayI32, Value: int32(1)},
		{Tag: TagArrayI32, Value: int32(2)},
		{Tag: TagArrayI32, Value: int32(3)},
	}}
	la.AddIntro()

	require.Len(t, la.Literals, 5)
	tag, ok := la.ElementTag()
	require.True(t, ok)
	assert.Equal(t, TagArrayI32, tag)
	n, ok := la.Len()
	require.True(t, ok)
	assert.Equal(t, uint32(3), n)
}

func TestArrayTagForComponent(t *testing.T) {
	tag, ok := ArrayTagForComponent(types.IDU1)
	require.True(t, ok)
	assert.Equal(t, TagArrayU1, tag)

	tag, ok = ArrayTagForComponent(types.IDI32)
	require.True(t, ok)
	assert.Equal(t, TagArrayI32, tag)

	_, ok = ArrayTagForComponent(types.IDReference)
	assert.False(t, ok)
}

func TestFunctionHelpers(t *testing.T) {
	f := NewFunction("f")
	f.ReturnType = types.New("void", 0)
	f.RegsNum = 2
	f.AddInstruction(&Ins{Opcode: OpMovi, Regs: []uint16{0}, Imms: []Imm{IntImm(1)}})
	f.AddInstruction(&Ins{Opcode: OpReturnVoid})

	assert.False(t, f.CanThrow())
	assert.False(t, f.HasDebugInfo())
	assert.True(t, f.IsParameterReg(2))
	assert.False(t, f.IsParameterReg(1))

	f.AddInstruction(&Ins{Opcode: OpDiv, Regs: []uint16{0, 0, 1}, Debug: DebugIns{LineNumber: 4}})
	assert.True(t, f.CanThrow())
	assert.True(t, f.HasDebugInfo())
	assert.Equal(t, uint32(4), f.GetLineNumber(2))
}

func TestMetadata(t *testing.T) {
	m := NewMetadata()
	m.SetAccessFlags(AccStatic | AccPublic)
	m.SetAttribute("external")
	m.SetAttributeValue("interface", "I1")
	m.SetAttributeValue("interface", "I2")

	assert.True(t, m.IsStatic())
	assert.True(t, m.IsForeign())
	assert.False(t, m.HasImplementation())
	assert.Equal(t, []string{"I1", "I2"}, m.GetAttributeValues("interface"))

	c := m.Clone()
	c.RemoveAttribute("external")
	assert.True(t, m.IsForeign())
	assert.False(t, c.IsForeign())
}
