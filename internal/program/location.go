package program

import "fmt"

// SourcePosition is a 1-based line/column pair inside a source file.
type SourcePosition struct {
	Line   uint32
	Column uint32
}

func (p SourcePosition) jsonSerialize() string {
	return fmt.Sprintf(`{ "line": %d, "column": %d }`, p.Line, p.Column)
}

// SourceLocation is the begin/end span of a declaration body.
type SourceLocation struct {
	Begin SourcePosition
	End   SourcePosition
}

func (l SourceLocation) jsonSerialize() string {
	return fmt.Sprintf(`{ "begin": %s, "end": %s }`, l.Begin.jsonSerialize(), l.End.jsonSerialize())
}

// FileLocation records where a top-level item appears in its source file.
// IsDefined distinguishes parsed items from synthesised ones.
type FileLocation struct {
	LineStart    uint32
	LineEnd      uint32
	WholeLine    string
	IsDefined    bool
}
