package ir

// CompareGraphs structurally compares two graphs: blocks are paired in RPO,
// instructions positionally within each block, and every data edge must
// connect paired instructions. Used by pass tests to assert a transformed
// graph against a hand-built expectation.
func CompareGraphs(a, b *Graph) bool {
	rpoA := a.BlocksRPO()
	rpoB := b.BlocksRPO()
	if len(rpoA) != len(rpoB) {
		return false
	}

	pair := make(map[*Inst]*Inst)
	type deferred struct{ x, y *Inst }
	var phiEdges []deferred

	match := func(x, y *Inst) bool {
		if x.Opcode() != y.Opcode() || x.Type() != y.Type() {
			return false
		}
		if x.IntImm() != y.IntImm() || x.FloatImm() != y.FloatImm() || x.ImmIsFloat() != y.ImmIsFloat() {
			return false
		}
		if x.TypeID() != y.TypeID() || x.CC() != y.CC() {
			return false
		}
		if x.DeoptReason() != y.DeoptReason() || x.IntrinsicID() != y.IntrinsicID() {
			return false
		}
		if x.IsMonitorExit() != y.IsMonitorExit() || x.OmitNullCheck() != y.OmitNullCheck() {
			return false
		}
		if len(x.Inputs()) != len(y.Inputs()) {
			return false
		}
		return true
	}

	inputOK := func(inX, inY *Inst) bool {
		if p, ok := pair[inX]; ok {
			return p == inY
		}
		// Constants may appear in different pool order; pair them by value.
		if inX.IsConst() && inY.IsConst() && match(inX, inY) {
			pair[inX] = inY
			return true
		}
		return false
	}

	for n := range rpoA {
		ba, bb := rpoA[n], rpoB[n]
		if len(ba.Phis()) != len(bb.Phis()) {
			return false
		}
		for k, px := range ba.Phis() {
			py := bb.Phis()[k]
			if !match(px, py) {
				return false
			}
			pair[px] = py
			for m := range px.Inputs() {
				phiEdges = append(phiEdges, deferred{px.Input(m), py.Input(m)})
			}
		}
		// Constants live in the start block in creation order, which is not
		// part of the contract; they are paired by value where used.
		skipConsts := func(i *Inst) *Inst {
			for i != nil && i.IsConst() {
				i = i.Next()
			}
			return i
		}
		ia, ib := ba.FirstInst(), bb.FirstInst()
		if ba.IsStart() {
			ia, ib = skipConsts(ia), skipConsts(ib)
		}
		for ia != nil && ib != nil {
			if !match(ia, ib) {
				return false
			}
			pair[ia] = ib
			for m := range ia.Inputs() {
				if !inputOK(ia.Input(m), ib.Input(m)) {
					return false
				}
			}
			ia, ib = ia.Next(), ib.Next()
			if ba.IsStart() {
				ia, ib = skipConsts(ia), skipConsts(ib)
			}
		}
		if ia != nil || ib != nil {
			return false
		}
	}

	for _, d := range phiEdges {
		if !inputOK(d.x, d.y) {
			return false
		}
	}
	return true
}
