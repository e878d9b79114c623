// Package asm parses the textual bytecode dialect into the program model
// and renders programs back to text.
package asm

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"

	"bytec/internal/errors"
	"bytec/internal/program"
	"bytec/internal/types"
)

var fileParser = participle.MustBuild[File](
	participle.Lexer(AsmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(3),
)

// ParseSource parses one unit. Structural problems are reported as
// diagnostics; a non-empty diagnostic list means the program is unusable.
func ParseSource(filename, source string) (*program.Program, []errors.CompilerError) {
	file, err := fileParser.ParseString(filename, source)
	if err != nil {
		return nil, []errors.CompilerError{parseError(err)}
	}
	c := &converter{prog: program.NewProgram(), source: source}
	for _, item := range file.Items {
		switch {
		case item.Record != nil:
			c.convertRecord(item.Record)
		case item.Function != nil:
			c.convertFunction(item.Function)
		}
	}
	return c.prog, c.diags
}

func parseError(err error) errors.CompilerError {
	ce := errors.CompilerError{
		Level:   errors.Error,
		Code:    errors.ErrorBadDirective,
		Message: err.Error(),
	}
	if pe, ok := err.(participle.Error); ok {
		ce.Message = pe.Message()
		ce.Position = errors.Position{Line: pe.Position().Line, Column: pe.Position().Column}
	}
	return ce
}

type converter struct {
	prog   *program.Program
	source string
	diags  []errors.CompilerError
}

func (c *converter) errorAt(code, msg string, line, col int) {
	c.diags = append(c.diags, errors.CompilerError{
		Level:    errors.Error,
		Code:     code,
		Message:  msg,
		Position: errors.Position{Line: line, Column: col},
	})
}

func attrsToMetadata(attrs []string, md *program.Metadata) {
	for _, a := range attrs {
		switch a {
		case "static":
			md.SetAccessFlags(md.AccessFlags() | program.AccStatic)
		case "final":
			md.SetAccessFlags(md.AccessFlags() | program.AccFinal)
		default:
			md.SetAttribute(a)
		}
	}
}

func (c *converter) typeOf(t *TypeRef) types.Type {
	ty := types.FromName(t.Text())
	if ty.IsArray() {
		c.prog.AddArrayType(ty)
	}
	return ty
}

func (c *converter) convertRecord(decl *RecordDecl) {
	rec := program.NewRecord(decl.Name)
	attrsToMetadata(decl.Attrs, rec.Metadata)
	rec.FileLocation = program.FileLocation{
		LineStart: uint32(decl.Pos.Line),
		LineEnd:   uint32(decl.EndPos.Line),
		IsDefined: true,
	}
	rec.BodyLocation = program.SourceLocation{
		Begin: program.SourcePosition{Line: uint32(decl.Pos.Line), Column: uint32(decl.Pos.Column)},
		End:   program.SourcePosition{Line: uint32(decl.EndPos.Line), Column: uint32(decl.EndPos.Column)},
	}
	rec.BodyPresence = len(decl.Fields) > 0

	for _, f := range decl.Fields {
		if rec.Field(f.Name) != nil {
			c.errorAt(errors.ErrorDuplicateSymbol, "duplicate field "+f.Name, f.Pos.Line, f.Pos.Column)
			continue
		}
		field := program.NewField(f.Name, c.typeOf(f.Type))
		attrsToMetadata(f.Attrs, field.Metadata)
		field.LineOfDef = uint32(f.Pos.Line)
		rec.FieldList = append(rec.FieldList, field)
	}

	if !c.prog.AddRecord(rec) {
		c.errorAt(errors.ErrorDuplicateSymbol, "duplicate record "+decl.Name, decl.Pos.Line, decl.Pos.Column)
	}
}

func (c *converter) convertFunction(decl *FunctionDecl) {
	fn := program.NewFunction(decl.Name)
	fn.ReturnType = c.typeOf(decl.Ret)
	attrsToMetadata(decl.Attrs, fn.Metadata)
	fn.FileLocation = program.FileLocation{
		LineStart: uint32(decl.Pos.Line),
		LineEnd:   uint32(decl.EndPos.Line),
		IsDefined: true,
	}
	fn.BodyLocation = program.SourceLocation{
		Begin: program.SourcePosition{Line: uint32(decl.Pos.Line), Column: uint32(decl.Pos.Column)},
		End:   program.SourcePosition{Line: uint32(decl.EndPos.Line), Column: uint32(decl.EndPos.Column)},
	}
	fn.BodyPresence = len(decl.Body) > 0

	for _, p := range decl.Params {
		fn.Params = append(fn.Params, program.NewParameter(c.typeOf(p.Type)))
	}

	// First pass sizes the register file: locals are the v-registers the
	// body mentions, parameters sit above them.
	maxV := -1
	for _, stmt := range decl.Body {
		if stmt.Ins == nil {
			continue
		}
		for _, op := range stmt.Ins.Operands {
			if op.ID != nil && len(op.ID.Ranks) == 0 {
				if n, ok := regIndex(op.ID.Name, 'v'); ok && n > maxV {
					maxV = n
				}
			}
		}
	}
	fn.RegsNum = uint32(maxV + 1)

	for _, stmt := range decl.Body {
		switch {
		case stmt.Catch != nil:
			fn.CatchBlocks = append(fn.CatchBlocks, program.CatchBlock{
				ExceptionRecord: stmt.Catch.Record.Text(),
				TryBeginLabel:   stmt.Catch.TryBegin,
				TryEndLabel:     stmt.Catch.TryEnd,
				CatchBeginLabel: stmt.Catch.CatchBegin,
			})
		case stmt.Ins != nil:
			if ins := c.convertIns(fn, stmt.Ins); ins != nil {
				fn.AddInstruction(ins)
			}
		}
	}

	// Labels must resolve inside the function.
	for _, ins := range fn.Ins {
		if ins.IsJump() {
			if _, ok := fn.LabelTable[ins.JumpTarget()]; !ok {
				c.errorAt(errors.ErrorUndefinedLabel, "undefined label "+ins.JumpTarget(),
					int(ins.Debug.LineNumber), 1)
			}
		}
	}

	if !c.prog.AddFunction(fn) {
		c.errorAt(errors.ErrorDuplicateSymbol, "duplicate function "+fn.MangledName(), decl.Pos.Line, decl.Pos.Column)
	}
}

func regIndex(name string, prefix byte) (int, bool) {
	if len(name) < 2 || name[0] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c *converter) convertIns(fn *program.Function, line *InsLine) *program.Ins {
	op, ok := program.OpcodeByName(line.Mnemonic)
	if !ok {
		c.errorAt(errors.ErrorUnknownOpcode, "unknown mnemonic "+line.Mnemonic, line.Pos.Line, line.Pos.Column)
		return nil
	}
	ins := &program.Ins{Opcode: op}
	ins.Debug = program.DebugIns{
		LineNumber:   uint32(line.Pos.Line),
		ColumnNumber: uint32(line.Pos.Column),
		WholeLine:    c.sourceLine(line.Pos.Line),
	}
	if line.Label != nil {
		ins.SetLabel(*line.Label)
		fn.LabelTable[*line.Label] = program.Label{Name: *line.Label}
	}

	for _, operand := range line.Operands {
		switch {
		case operand.Str != nil:
			s, err := strconv.Unquote(*operand.Str)
			if err != nil {
				s = strings.Trim(*operand.Str, `"`)
			}
			ins.IDs = append(ins.IDs, s)
			c.prog.AddString(s)
		case operand.Float != nil:
			v, _ := strconv.ParseFloat(*operand.Float, 64)
			ins.Imms = append(ins.Imms, program.FloatImm(v))
		case operand.Int != nil && ins.HasFlag(program.FlagLitArrID):
			// literal-array ids are numeric keys into the program table
			ins.IDs = append(ins.IDs, *operand.Int)
		case operand.Int != nil:
			v, err := strconv.ParseInt(*operand.Int, 0, 64)
			if err != nil {
				c.errorAt(errors.ErrorBadOperands, "bad immediate "+*operand.Int, operand.Pos.Line, operand.Pos.Column)
			}
			ins.Imms = append(ins.Imms, program.IntImm(v))
		case operand.Ref != nil:
			ins.IDs = append(ins.IDs, operand.Ref.Text())
		case operand.ID != nil:
			name := operand.ID.Text()
			if n, ok := regIndex(name, 'v'); ok {
				if n >= program.MaxRegsNum {
					c.errorAt(errors.ErrorRegisterOutOfRange, "register "+name+" out of range", operand.Pos.Line, operand.Pos.Column)
					continue
				}
				ins.Regs = append(ins.Regs, uint16(n))
			} else if n, ok := regIndex(name, 'a'); ok {
				ins.Regs = append(ins.Regs, uint16(int(fn.RegsNum)+n))
			} else {
				ins.IDs = append(ins.IDs, name)
			}
		}
	}
	return ins
}

func (c *converter) sourceLine(n int) string {
	lines := strings.Split(c.source, "\n")
	if n >= 1 && n <= len(lines) {
		return strings.TrimSpace(lines[n-1])
	}
	return ""
}
