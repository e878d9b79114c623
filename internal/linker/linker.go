// Package linker merges compiled units: foreign symbols resolve against the
// union of definitions, duplicate definitions deduplicate, partial classes
// merge field-wise, and the output is emitted deterministically.
package linker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"bytec/internal/program"
)

var log = commonlog.GetLogger("bytec.linker")

// Config is the linker configuration; the CLI flags map onto it directly.
type Config struct {
	Partial        map[string]bool // classes whose fields may merge across inputs
	RemainsPartial map[string]bool // classes whose unresolved references are tolerated
	StripDebugInfo bool
}

func DefaultConfig() Config {
	return Config{
		Partial:        map[string]bool{},
		RemainsPartial: map[string]bool{},
	}
}

// Stats counts what the linker folded away.
type Stats struct {
	DeduplicatedForeigners int
	DebugCount             int
}

// Result carries the merged program plus the per-input error list.
type Result struct {
	Errors  []string
	Stats   Stats
	Program *program.Program
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Link merges the inputs in a deterministic way: the same set of inputs
// produces the same output regardless of argument order.
func Link(cfg Config, inputs []*program.Program) Result {
	res := Result{Program: program.NewProgram()}
	lc := &context{cfg: cfg, res: &res}

	for _, in := range inputs {
		lc.collect(in)
	}
	lc.resolve()
	lc.emit()

	if len(res.Errors) > 0 {
		log.Errorf("link failed with %d errors", len(res.Errors))
	}
	return res
}

type context struct {
	cfg Config
	res *Result

	records   map[string][]*program.Record
	functions map[string][]*program.Function
	litArrays map[string]*program.LiteralArray
	strings   map[string]struct{}
}

func (lc *context) collect(in *program.Program) {
	if lc.records == nil {
		lc.records = map[string][]*program.Record{}
		lc.functions = map[string][]*program.Function{}
		lc.litArrays = map[string]*program.LiteralArray{}
		lc.strings = map[string]struct{}{}
	}
	for _, name := range in.RecordNames() {
		lc.records[name] = append(lc.records[name], in.GetRecord(name))
	}
	for _, name := range in.FunctionNames() {
		lc.functions[name] = append(lc.functions[name], in.GetFunction(name))
	}
	for _, name := range in.LiteralArrayNames() {
		if _, dup := lc.litArrays[name]; !dup {
			lc.litArrays[name] = in.GetLiteralArray(name)
		}
	}
	for s := range in.Strings {
		lc.strings[s] = struct{}{}
	}
}

// owningClass extracts the record a mangled function name belongs to.
func owningClass(mangled string) string {
	name := mangled
	if i := strings.Index(name, ":("); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

func (lc *context) resolve() {
	for _, name := range sortedKeys(lc.records) {
		lc.records[name] = []*program.Record{lc.mergeRecords(name, lc.records[name])}
	}
	for _, name := range sortedKeys(lc.functions) {
		lc.functions[name] = []*program.Function{lc.mergeFunctions(name, lc.functions[name])}
	}
}

func (lc *context) mergeRecords(name string, defs []*program.Record) *program.Record {
	var impl *program.Record
	var foreign *program.Record
	for _, r := range defs {
		if !r.HasImplementation() {
			foreign = r
			continue
		}
		if impl == nil {
			impl = r
			continue
		}
		switch {
		case recordsIdentical(impl, r):
			lc.res.Stats.DeduplicatedForeigners++
		case lc.cfg.Partial[name]:
			if err := mergeFields(impl, r); err != nil {
				lc.res.errorf("record %s: %v", name, err)
			}
		default:
			lc.res.errorf("record %s: conflicting definitions", name)
		}
	}
	if impl != nil {
		return impl
	}
	// A reference with no definition anywhere: allowed only for classes the
	// caller declared remains-partial.
	if foreign != nil && !lc.cfg.RemainsPartial[name] {
		lc.res.errorf("record %s: unresolved reference", name)
	}
	return foreign
}

func recordsIdentical(a, b *program.Record) bool {
	if len(a.FieldList) != len(b.FieldList) {
		return false
	}
	for i, f := range a.FieldList {
		g := b.FieldList[i]
		if f.Name != g.Name || !f.Type.Equal(g.Type) {
			return false
		}
	}
	return a.Metadata.AccessFlags() == b.Metadata.AccessFlags()
}

func mergeFields(dst, src *program.Record) error {
	for _, f := range src.FieldList {
		if existing := dst.Field(f.Name); existing != nil {
			// Partial classes tolerate the same field arriving from several
			// inputs, as long as the types agree.
			if !existing.Type.Equal(f.Type) {
				return fmt.Errorf("field %s: overlapping definitions with different types", f.Name)
			}
			continue
		}
		dst.FieldList = append(dst.FieldList, f)
	}
	// Fields merge deterministically by name.
	sort.Slice(dst.FieldList, func(i, j int) bool {
		return dst.FieldList[i].Name < dst.FieldList[j].Name
	})
	return nil
}

func (lc *context) mergeFunctions(mangled string, defs []*program.Function) *program.Function {
	var impl *program.Function
	var foreign *program.Function
	for _, f := range defs {
		if !f.HasImplementation() {
			foreign = f
			continue
		}
		if impl == nil {
			impl = f
			continue
		}
		if functionsIdentical(impl, f) {
			lc.res.Stats.DeduplicatedForeigners++
			if impl.HasDebugInfo() && f.HasDebugInfo() {
				lc.res.Stats.DebugCount++
			}
			continue
		}
		if !signaturesCompatible(impl, f) {
			lc.res.errorf("function %s: incompatible signatures", mangled)
		} else {
			lc.res.errorf("function %s: conflicting definitions", mangled)
		}
	}
	if impl != nil {
		return impl
	}
	cls := owningClass(mangled)
	if foreign != nil && !lc.cfg.RemainsPartial[cls] {
		lc.res.errorf("function %s: unresolved reference", mangled)
	}
	return foreign
}

func signaturesCompatible(a, b *program.Function) bool {
	if !a.ReturnType.Equal(b.ReturnType) || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if !a.Params[i].Type.Equal(b.Params[i].Type) {
			return false
		}
	}
	return true
}

func functionsIdentical(a, b *program.Function) bool {
	if !signaturesCompatible(a, b) || len(a.Ins) != len(b.Ins) {
		return false
	}
	for i := range a.Ins {
		x, y := a.Ins[i], b.Ins[i]
		if x.Opcode != y.Opcode || len(x.Regs) != len(y.Regs) ||
			len(x.IDs) != len(y.IDs) || len(x.Imms) != len(y.Imms) {
			return false
		}
		for n := range x.Regs {
			if x.Regs[n] != y.Regs[n] {
				return false
			}
		}
		for n := range x.IDs {
			if x.IDs[n] != y.IDs[n] {
				return false
			}
		}
		for n := range x.Imms {
			if x.Imms[n] != y.Imms[n] {
				return false
			}
		}
		if x.HasLabel() != y.HasLabel() || (x.HasLabel() && x.Label() != y.Label()) {
			return false
		}
	}
	return true
}

// emit fills the output program with all tables sorted by canonical name,
// which is what makes the output independent of input order.
func (lc *context) emit() {
	out := lc.res.Program
	for _, name := range sortedKeys(lc.records) {
		if r := lc.records[name][0]; r != nil {
			out.AddRecord(r)
		}
	}
	for _, name := range sortedKeys(lc.functions) {
		f := lc.functions[name][0]
		if f == nil {
			continue
		}
		if lc.cfg.StripDebugInfo {
			for _, ins := range f.Ins {
				ins.Debug = program.DebugIns{}
			}
			f.LocalVariableDebug = nil
		}
		out.AddFunction(f)
	}
	for _, name := range sortedKeys(lc.litArrays) {
		out.AddLiteralArray(name, lc.litArrays[name])
	}
	for _, s := range sortedKeysSet(lc.strings) {
		out.AddString(s)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysSet(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
