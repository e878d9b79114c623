package program

import (
	"fmt"
	"strings"

	"bytec/internal/types"
)

// Field is one member of a record.
type Field struct {
	Name     string
	Type     types.Type
	Metadata *Metadata

	FileLocation FileLocation
	LineOfDef    uint32
}

func NewField(name string, ty types.Type) *Field {
	return &Field{Name: name, Type: ty, Metadata: NewMetadata()}
}

// Record is a class-like entity owning an ordered field list.
type Record struct {
	Name       string
	SourceFile string
	FieldList  []*Field
	Metadata   *Metadata

	FileLocation FileLocation
	BodyLocation SourceLocation
	BodyPresence bool
}

func NewRecord(name string) *Record {
	return &Record{Name: name, Metadata: NewMetadata()}
}

func (r *Record) HasImplementation() bool { return !r.Metadata.IsForeign() }

// Field looks up a field by name.
func (r *Record) Field(name string) *Field {
	for _, f := range r.FieldList {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Label marks a position in the instruction list.
type Label struct {
	Name string
	FileLocation FileLocation
}

// CatchBlock describes one catch handler attached to a try range.
type CatchBlock struct {
	WholeLine       string
	ExceptionRecord string
	TryBeginLabel   string
	TryEndLabel     string
	CatchBeginLabel string
	CatchEndLabel   string
}

// Parameter is one typed function parameter.
type Parameter struct {
	Type     types.Type
	Metadata *Metadata
}

func NewParameter(ty types.Type) Parameter {
	return Parameter{Type: ty, Metadata: NewMetadata()}
}

// Function owns the textual instruction list of one method plus everything
// the optimizer and emitter need around it.
type Function struct {
	Name       string
	SourceFile string
	SourceCode string

	ReturnType types.Type
	Params     []Parameter

	Ins         []*Ins
	LabelTable  map[string]Label
	CatchBlocks []CatchBlock

	LocalVariableDebug []LocalVariable

	Metadata *Metadata

	FileLocation FileLocation
	BodyLocation SourceLocation
	BodyPresence bool

	RegsNum uint32
}

func NewFunction(name string) *Function {
	return &Function{
		Name:       name,
		LabelTable: make(map[string]Label),
		Metadata:   NewMetadata(),
	}
}

func (f *Function) ParamsNum() int { return len(f.Params) }

// TotalRegs counts the local registers; parameter registers follow them.
func (f *Function) TotalRegs() int { return int(f.RegsNum) }

// IsParameterReg reports whether a register number addresses a parameter.
func (f *Function) IsParameterReg(reg uint16) bool { return uint32(reg) >= f.RegsNum }

func (f *Function) IsStatic() bool { return f.Metadata.IsStatic() }

func (f *Function) HasImplementation() bool { return f.Metadata.HasImplementation() }

func (f *Function) AddInstruction(ins *Ins) { f.Ins = append(f.Ins, ins) }

func (f *Function) CanThrow() bool {
	for _, ins := range f.Ins {
		if ins.CanThrow() {
			return true
		}
	}
	return false
}

func (f *Function) HasDebugInfo() bool {
	for _, ins := range f.Ins {
		if ins.HasDebugInfo() {
			return true
		}
	}
	return false
}

// MangledName is the function's lookup key across programs.
func (f *Function) MangledName() string {
	paramTypes := make([]types.Type, len(f.Params))
	for i, p := range f.Params {
		paramTypes[i] = p.Type
	}
	return types.MangleFunctionName(types.UnmangledName(f.Name), paramTypes)
}

// GetLineNumber returns the source line of instruction i, or 0.
func (f *Function) GetLineNumber(i int) uint32 {
	if i < 0 || i >= len(f.Ins) {
		return 0
	}
	return f.Ins[i].Debug.LineNumber
}

// GetColumnNumber returns the source column of instruction i, or 0.
func (f *Function) GetColumnNumber(i int) uint32 {
	if i < 0 || i >= len(f.Ins) {
		return 0
	}
	return f.Ins[i].Debug.ColumnNumber
}

// DebugDump renders the function body for troubleshooting.
func (f *Function) DebugDump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".function %s %s(", f.ReturnType.Name(), f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s a%d", p.Type.Name(), i)
	}
	sb.WriteString(") {\n")
	for _, ins := range f.Ins {
		sb.WriteString("\t")
		sb.WriteString(ins.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}
