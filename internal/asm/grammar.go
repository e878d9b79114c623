package asm

import "github.com/alecthomas/participle/v2/lexer"

// The grammar mirrors the file structure: top-level .record and .function
// directives, one instruction per line inside a function body.

type File struct {
	Items []*Item `(EOL* @@)* EOL*`
}

type Item struct {
	Record   *RecordDecl   `  @@`
	Function *FunctionDecl `| @@`
}

type TypeRef struct {
	Name  string   `@Ident`
	Ranks []string `("[" @"]")*`
}

// Text reassembles the pandasm type name, e.g. "i32[][]".
func (t *TypeRef) Text() string {
	name := t.Name
	for range t.Ranks {
		name += "[]"
	}
	return name
}

type RecordDecl struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Name   string       `".record" @Ident`
	Attrs  []string     `("<" @Ident ">")*`
	Fields []*FieldDecl `[ "{" EOL* (@@ EOL*)* "}" ]`
}

type FieldDecl struct {
	Pos lexer.Position

	Type  *TypeRef `@@`
	Name  string   `@Ident`
	Attrs []string `("<" @Ident ">")*`
}

type FunctionDecl struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Ret    *TypeRef     `".function" @@`
	Name   string       `@Ident`
	Params []*ParamDecl `"(" [ @@ ("," @@)* ] ")"`
	Attrs  []string     `("<" @Ident ">")*`
	Body   []*Stmt      `[ "{" EOL* @@* "}" ]`
}

type ParamDecl struct {
	Type *TypeRef `@@`
	Name string   `[ @Ident ]`
}

type Stmt struct {
	Catch *CatchDecl `  @@ EOL+`
	Ins   *InsLine   `| @@ EOL+`
}

type CatchDecl struct {
	Pos lexer.Position

	Record     *TypeRef `".catch" @@`
	TryBegin   string   `"," @Ident`
	TryEnd     string   `"," @Ident`
	CatchBegin string   `"," @Ident`
}

type InsLine struct {
	Pos lexer.Position

	Label    *string    `[ @Ident ":" ]`
	Mnemonic string     `@Ident`
	Operands []*Operand `[ @@ ("," @@)* ]`
}

type Operand struct {
	Pos lexer.Position

	Str   *string    `  @String`
	Float *string    `| @Float`
	Int   *string    `| @Integer`
	Ref   *MethodRef `| @@`
	ID    *TypeRef   `| @@`
}

// MethodRef is a mangled method reference: name:(<param-types>).
type MethodRef struct {
	Name   string     `@Ident ":" "("`
	Params []*TypeRef `[ @@ ("," @@)* ] ")"`
}

// Text reassembles the mangled form.
func (m *MethodRef) Text() string {
	out := m.Name + ":("
	for i, p := range m.Params {
		if i > 0 {
			out += ","
		}
		out += p.Text()
	}
	return out + ")"
}
