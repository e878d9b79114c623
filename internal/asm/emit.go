package asm

import (
	"fmt"
	"strings"

	"bytec/internal/program"
)

// EmitText renders a program back into its textual form. Parsing the output
// yields an equivalent program; table order follows the program's own
// insertion order.
func EmitText(p *program.Program) string {
	var sb strings.Builder

	for _, name := range p.RecordNames() {
		emitRecord(&sb, p.GetRecord(name))
		sb.WriteString("\n")
	}
	for _, name := range p.FunctionNames() {
		emitFunction(&sb, p.GetFunction(name))
		sb.WriteString("\n")
	}
	return sb.String()
}

func emitAttrs(sb *strings.Builder, md *program.Metadata) {
	if md.IsStatic() {
		sb.WriteString(" <static>")
	}
	if md.IsFinal() {
		sb.WriteString(" <final>")
	}
	names := md.AttributeNames()
	// deterministic attribute order
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	for _, a := range names {
		sb.WriteString(" <" + a + ">")
	}
}

func emitRecord(sb *strings.Builder, r *program.Record) {
	sb.WriteString(".record " + r.Name)
	emitAttrs(sb, r.Metadata)
	if len(r.FieldList) == 0 {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	for _, f := range r.FieldList {
		fmt.Fprintf(sb, "\t%s %s", f.Type.Name(), f.Name)
		emitAttrs(sb, f.Metadata)
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
}

func emitFunction(sb *strings.Builder, f *program.Function) {
	fmt.Fprintf(sb, ".function %s %s(", f.ReturnType.Name(), f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%s a%d", p.Type.Name(), i)
	}
	sb.WriteString(")")
	emitAttrs(sb, f.Metadata)
	if len(f.Ins) == 0 && len(f.CatchBlocks) == 0 {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	for _, ins := range f.Ins {
		sb.WriteString("\t")
		sb.WriteString(insText(f, ins))
		sb.WriteString("\n")
	}
	for _, cb := range f.CatchBlocks {
		fmt.Fprintf(sb, "\t.catch %s, %s, %s, %s\n",
			cb.ExceptionRecord, cb.TryBeginLabel, cb.TryEndLabel, cb.CatchBeginLabel)
	}
	sb.WriteString("}\n")
}

// insText renders registers with the parameter alias above the local file.
func insText(f *program.Function, ins *program.Ins) string {
	var sb strings.Builder
	if ins.HasLabel() {
		sb.WriteString(ins.Label())
		sb.WriteString(": ")
	}
	sb.WriteString(ins.Opcode.String())
	first := true
	sep := func() {
		if first {
			sb.WriteByte(' ')
			first = false
		} else {
			sb.WriteString(", ")
		}
	}
	for _, r := range ins.Regs {
		sep()
		if f.IsParameterReg(r) {
			fmt.Fprintf(&sb, "a%d", uint32(r)-f.RegsNum)
		} else {
			fmt.Fprintf(&sb, "v%d", r)
		}
	}
	for _, id := range ins.IDs {
		sep()
		if ins.HasFlag(program.FlagStringID) {
			fmt.Fprintf(&sb, "%q", id)
		} else {
			sb.WriteString(id)
		}
	}
	for _, im := range ins.Imms {
		sep()
		if im.IsFloat() && !strings.ContainsAny(im.String(), ".eE") {
			sb.WriteString(im.String() + ".0")
		} else {
			sb.WriteString(im.String())
		}
	}
	return sb.String()
}
