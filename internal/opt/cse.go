package opt

import (
	"bytec/internal/ir"
)

// Cse is the lighter arithmetic redundancy pass: block-local by default,
// extending into the dominator region when safe, plus phi synthesis at
// joins whose predecessors both compute the expression.
type Cse struct{}

func (c *Cse) Name() string { return "Cse" }

func (c *Cse) Description() string {
	return "Arithmetic common-subexpression elimination with dominator reach"
}

var cseOpcodes = map[ir.Opcode]bool{
	ir.OpAdd: true, ir.OpSub: true, ir.OpMul: true, ir.OpDiv: true,
	ir.OpMod: true, ir.OpMin: true, ir.OpMax: true, ir.OpShl: true,
	ir.OpShr: true, ir.OpAShr: true, ir.OpAnd: true, ir.OpOr: true,
	ir.OpXor: true,
}

type cseKey struct {
	op   ir.Opcode
	typ  ir.DataType
	lhs  int
	rhs  int
}

func cseKeyOf(i *ir.Inst) (cseKey, bool) {
	if !cseOpcodes[i.Opcode()] || i.HasFlag(ir.FlagNoCSE) || i.InputsCount() != 2 {
		return cseKey{}, false
	}
	k := cseKey{op: i.Opcode(), typ: i.Type(), lhs: i.Input(0).ID(), rhs: i.Input(1).ID()}
	if i.HasFlag(ir.FlagCommutative) && !i.Type().IsFloat() && k.lhs > k.rhs {
		k.lhs, k.rhs = k.rhs, k.lhs
	}
	return k, true
}

func (c *Cse) Apply(g *ir.Graph) bool {
	changed := false
	dom := g.DominatorTree()

	// Dominator-region elimination: pre-order scoped tables, as in value
	// numbering but restricted to plain arithmetic.
	children := make(map[*ir.BasicBlock][]*ir.BasicBlock)
	for _, b := range dom.ReachableOrder() {
		if b == g.StartBlock() {
			continue
		}
		children[dom.IDom(b)] = append(children[dom.IDom(b)], b)
	}
	var walk func(b *ir.BasicBlock, avail map[cseKey]*ir.Inst)
	walk = func(b *ir.BasicBlock, avail map[cseKey]*ir.Inst) {
		for _, i := range b.Insts() {
			k, ok := cseKeyOf(i)
			if !ok {
				continue
			}
			if prev, hit := avail[k]; hit && !prev.IsNop() && dom.InstDominates(prev, i) &&
				!crossesTry(prev.Block(), b) {
				i.ReplaceUsers(prev)
				i.MakeNop()
				changed = true
				continue
			}
			avail[k] = i
		}
		for _, ch := range children[b] {
			inner := make(map[cseKey]*ir.Inst, len(avail))
			for k, v := range avail {
				inner[k] = v
			}
			walk(ch, inner)
		}
	}
	walk(g.StartBlock(), make(map[cseKey]*ir.Inst))

	changed = c.phiSynthesis(g, dom) || changed
	return changed
}

func crossesTry(from, to *ir.BasicBlock) bool {
	if from == to {
		return false
	}
	return from.IsTry || from.IsCatch || to.IsTry || to.IsCatch
}

// phiSynthesis: a join block whose two predecessors each carry a matching
// arithmetic instruction gets a phi over the two instances; the duplicate
// inside the join folds onto the phi.
func (c *Cse) phiSynthesis(g *ir.Graph, dom *ir.DomTree) bool {
	changed := false
	for _, b := range g.BlocksRPO() {
		if len(b.Preds()) != 2 || b.IsTry || b.IsCatch {
			continue
		}
		if b.Pred(0).IsTry || b.Pred(0).IsCatch || b.Pred(1).IsTry || b.Pred(1).IsCatch {
			continue
		}
		for _, i := range b.Insts() {
			k, ok := cseKeyOf(i)
			if !ok {
				continue
			}
			lhs := findCseInBlock(b.Pred(0), k)
			rhs := findCseInBlock(b.Pred(1), k)
			if lhs == nil || rhs == nil || lhs == i || rhs == i {
				continue
			}
			phi := g.NewInst(ir.OpPhi, i.Type())
			b.AddPhi(phi)
			phi.AddInput(lhs)
			phi.AddInput(rhs)
			i.ReplaceUsers(phi)
			i.MakeNop()
			changed = true
		}
	}
	return changed
}

func findCseInBlock(b *ir.BasicBlock, k cseKey) *ir.Inst {
	for _, i := range b.Insts() {
		ik, ok := cseKeyOf(i)
		if ok && ik == k {
			return i
		}
	}
	return nil
}
