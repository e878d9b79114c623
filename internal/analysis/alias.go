package analysis

import "bytec/internal/ir"

// AliasKind is the verdict of a pairwise memory query.
type AliasKind int

const (
	NoAlias AliasKind = iota
	MayAlias
	MustAlias
)

// AliasAnalysis classifies memory operations into disjoint classes so CSE
// and hoisting can decide whether two accesses can touch the same location.
type AliasAnalysis struct {
	g *ir.Graph
}

func NewAliasAnalysis(g *ir.Graph) *AliasAnalysis {
	return &AliasAnalysis{g: g}
}

// origin strips the guard instructions off a reference.
func origin(v *ir.Inst) *ir.Inst {
	for {
		switch v.Opcode() {
		case ir.OpNullCheck, ir.OpRefTypeCheck:
			v = v.Input(0)
		default:
			return v
		}
	}
}

// Query reports whether two memory instructions may address the same
// location.
func (aa *AliasAnalysis) Query(a, b *ir.Inst) AliasKind {
	if isFieldAccess(a) && isFieldAccess(b) {
		// Field accesses alias only on the same field of possibly the same
		// object.
		if a.TypeID() != b.TypeID() {
			return NoAlias
		}
		return aa.objectsAlias(origin(a.Input(0)), origin(b.Input(0)))
	}
	if isStaticAccess(a) && isStaticAccess(b) {
		if a.TypeID() != b.TypeID() {
			return NoAlias
		}
		return MustAlias
	}
	if isArrayAccess(a) && isArrayAccess(b) {
		arrA, arrB := origin(a.Input(0)), origin(b.Input(0))
		switch aa.objectsAlias(arrA, arrB) {
		case NoAlias:
			return NoAlias
		case MustAlias:
			ia, ib := index(a), index(b)
			if ia != nil && ib != nil && ia.IsConst() && ib.IsConst() {
				if ia.IntValue() != ib.IntValue() {
					return NoAlias
				}
				return MustAlias
			}
		}
		return MayAlias
	}
	if isMemoryAccess(a) != isMemoryAccess(b) {
		return NoAlias
	}
	return MayAlias
}

func (aa *AliasAnalysis) objectsAlias(a, b *ir.Inst) AliasKind {
	if a == b {
		return MustAlias
	}
	// A fresh allocation cannot alias a distinct value.
	if a.HasFlag(ir.FlagAlloc) || b.HasFlag(ir.FlagAlloc) {
		return NoAlias
	}
	return MayAlias
}

func index(access *ir.Inst) *ir.Inst {
	idx := access.Input(1)
	if idx.Opcode() == ir.OpBoundsCheck {
		idx = idx.Input(1)
	}
	return idx
}

func isFieldAccess(i *ir.Inst) bool {
	return i.Opcode() == ir.OpLoadObject || i.Opcode() == ir.OpStoreObject
}

func isStaticAccess(i *ir.Inst) bool {
	return i.Opcode() == ir.OpLoadStatic || i.Opcode() == ir.OpStoreStatic
}

func isArrayAccess(i *ir.Inst) bool {
	return i.Opcode() == ir.OpLoadArray || i.Opcode() == ir.OpStoreArray
}

func isMemoryAccess(i *ir.Inst) bool {
	return isFieldAccess(i) || isStaticAccess(i) || isArrayAccess(i)
}
