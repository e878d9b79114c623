package program

import (
	"strings"

	"bytec/internal/types"
)

// Program is the in-memory form of one compiled unit: record, function and
// literal-array tables plus the string and array-type pools. Table iteration
// follows insertion order; JsonDump exposes that order as a public contract.
type Program struct {
	recordTable   map[string]*Record
	recordOrder   []string
	functionTable map[string]*Function
	functionOrder []string

	literalArrayTable map[string]*LiteralArray
	literalArrayOrder []string

	Strings    map[string]struct{}
	ArrayTypes map[string]types.Type
}

func NewProgram() *Program {
	return &Program{
		recordTable:       make(map[string]*Record),
		functionTable:     make(map[string]*Function),
		literalArrayTable: make(map[string]*LiteralArray),
		Strings:           make(map[string]struct{}),
		ArrayTypes:        make(map[string]types.Type),
	}
}

// AddRecord registers a record; the first registration wins and ok reports
// whether the name was fresh.
func (p *Program) AddRecord(r *Record) bool {
	if _, exists := p.recordTable[r.Name]; exists {
		return false
	}
	p.recordTable[r.Name] = r
	p.recordOrder = append(p.recordOrder, r.Name)
	return true
}

func (p *Program) GetRecord(name string) *Record { return p.recordTable[name] }

// RecordNames returns record names in insertion order.
func (p *Program) RecordNames() []string { return p.recordOrder }

func (p *Program) RemoveRecord(name string) {
	if _, ok := p.recordTable[name]; !ok {
		return
	}
	delete(p.recordTable, name)
	p.recordOrder = removeName(p.recordOrder, name)
}

func (p *Program) AddFunction(f *Function) bool {
	key := f.MangledName()
	if _, exists := p.functionTable[key]; exists {
		return false
	}
	p.functionTable[key] = f
	p.functionOrder = append(p.functionOrder, key)
	return true
}

// GetFunction looks a function up by mangled name.
func (p *Program) GetFunction(mangled string) *Function { return p.functionTable[mangled] }

// FunctionNames returns mangled function names in insertion order.
func (p *Program) FunctionNames() []string { return p.functionOrder }

func (p *Program) RemoveFunction(mangled string) {
	if _, ok := p.functionTable[mangled]; !ok {
		return
	}
	delete(p.functionTable, mangled)
	p.functionOrder = removeName(p.functionOrder, mangled)
}

func (p *Program) AddLiteralArray(key string, la *LiteralArray) bool {
	if _, exists := p.literalArrayTable[key]; exists {
		return false
	}
	p.literalArrayTable[key] = la
	p.literalArrayOrder = append(p.literalArrayOrder, key)
	return true
}

func (p *Program) GetLiteralArray(key string) *LiteralArray { return p.literalArrayTable[key] }

func (p *Program) LiteralArrayNames() []string { return p.literalArrayOrder }

// LiteralArrayCount is used by ConstArrayResolver to mint fresh integer keys.
func (p *Program) LiteralArrayCount() int { return len(p.literalArrayOrder) }

func (p *Program) AddString(s string) { p.Strings[s] = struct{}{} }

func (p *Program) AddArrayType(t types.Type) { p.ArrayTypes[t.Name()] = t }

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}

// JsonDump returns the program structure with body locations as a JSON
// string: { "functions": [...], "records": [...] }. Entry order is table
// insertion order; bodyLocation appears only for items with a defined file
// location. The shape is a public contract used by IDE tooling and tests.
func (p *Program) JsonDump() string {
	var sb strings.Builder
	sb.WriteString(`{ "functions": `)
	jsonSerializeItems(&sb, p.functionOrder, func(name string) (string, FileLocation, SourceLocation) {
		f := p.functionTable[name]
		return f.Name, f.FileLocation, f.BodyLocation
	})
	sb.WriteString(`, "records": `)
	jsonSerializeItems(&sb, p.recordOrder, func(name string) (string, FileLocation, SourceLocation) {
		r := p.recordTable[name]
		return r.Name, r.FileLocation, r.BodyLocation
	})
	sb.WriteString(` }`)
	return sb.String()
}

func jsonSerializeItems(sb *strings.Builder, order []string, get func(string) (string, FileLocation, SourceLocation)) {
	sb.WriteString("[ ")
	for i, key := range order {
		if i > 0 {
			sb.WriteString(", ")
		}
		name, fileLoc, bodyLoc := get(key)
		sb.WriteString(`{ "name": "` + name + `"`)
		if fileLoc.IsDefined {
			sb.WriteString(`, "bodyLocation": ` + bodyLoc.jsonSerialize() + ` }`)
		} else {
			sb.WriteString(` }`)
		}
	}
	sb.WriteString(" ]")
}
