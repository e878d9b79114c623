package program

// DebugIns carries per-instruction debug info: the source coordinates and the
// raw line the instruction came from.
type DebugIns struct {
	LineNumber   uint32
	ColumnNumber uint32
	WholeLine    string
	BoundLeft    uint32
	BoundRight   uint32
}

func (d DebugIns) Clone() DebugIns { return d }

// IsDefined reports whether any debug info was attached.
func (d DebugIns) IsDefined() bool { return d.LineNumber != 0 }

// LocalVariable is one entry of the local-variable debug table.
type LocalVariable struct {
	Name           string
	Signature      string
	SignatureType  string
	Reg            int
	Start          uint32 // first instruction order covered
	Length         uint32
}
