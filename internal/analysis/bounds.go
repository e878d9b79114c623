// Package analysis hosts the data-flow analyses the optimizer passes
// consume: integer value ranges, alias classes, monitor reachability and
// the SaveState bridge builder.
package analysis

import (
	"math"

	"bytec/internal/ir"
)

// Range is a closed int64 interval. The zero value is the exact range
// [0, 0]; the unknown range is FullRange().
type Range struct {
	Min int64
	Max int64
}

// FullRange covers every representable value.
func FullRange() Range { return Range{Min: math.MinInt64, Max: math.MaxInt64} }

func ExactRange(v int64) Range { return Range{Min: v, Max: v} }

func (r Range) IsExact() bool { return r.Min == r.Max }

func (r Range) IsNonNegative() bool { return r.Min >= 0 }

func (r Range) IsNegative() bool { return r.Max < 0 }

// Within reports whether the whole range fits inside [lo, hi].
func (r Range) Within(lo, hi int64) bool { return r.Min >= lo && r.Max <= hi }

func (r Range) union(o Range) Range {
	return Range{Min: min64(r.Min, o.Min), Max: max64(r.Max, o.Max)}
}

// Shift adds a constant with explicit overflow detection; ok is false when
// either bound overflows.
func (r Range) Shift(k int64) (Range, bool) { return r.shift(k) }

func (r Range) shift(k int64) (Range, bool) {
	lo, ok1 := addOverflow(r.Min, k)
	hi, ok2 := addOverflow(r.Max, k)
	if !ok1 || !ok2 {
		return FullRange(), false
	}
	return Range{Min: lo, Max: hi}, true
}

func addOverflow(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MaxArrayLen bounds LenArray results.
const MaxArrayLen = math.MaxInt32

// BoundsAnalysis derives per-instruction integer ranges on demand, refined
// by the conditions dominating the point of use.
type BoundsAnalysis struct {
	g   *ir.Graph
	dom *ir.DomTree
}

func NewBoundsAnalysis(g *ir.Graph) *BoundsAnalysis {
	return &BoundsAnalysis{g: g, dom: g.DominatorTree()}
}

// RangeOf computes the range of inst as observed at block at.
func (ba *BoundsAnalysis) RangeOf(inst *ir.Inst, at *ir.BasicBlock) Range {
	visiting := make(map[*ir.Inst]bool)
	r := ba.rangeOf(inst, visiting)
	return ba.refineByConditions(inst, at, r)
}

func (ba *BoundsAnalysis) rangeOf(inst *ir.Inst, visiting map[*ir.Inst]bool) Range {
	if visiting[inst] {
		return FullRange() // phi cycle
	}
	visiting[inst] = true
	defer delete(visiting, inst)

	switch inst.Opcode() {
	case ir.OpConstant:
		if inst.ImmIsFloat() {
			return FullRange()
		}
		return ExactRange(inst.IntValue())
	case ir.OpLenArray:
		// The length of a freshly allocated array is its size operand.
		arr := inst.Input(0)
		for arr.Opcode() == ir.OpNullCheck {
			arr = arr.Input(0)
		}
		if arr.Opcode() == ir.OpNewArray {
			size := arr.Input(0)
			for size.Opcode() == ir.OpNegativeCheck {
				size = size.Input(0)
			}
			if size.Opcode() == ir.OpConstant && !size.ImmIsFloat() {
				return ExactRange(size.IntValue())
			}
		}
		return Range{Min: 0, Max: MaxArrayLen}
	case ir.OpPhi:
		r := ba.rangeOf(inst.Input(0), visiting)
		for n := 1; n < inst.InputsCount(); n++ {
			r = r.union(ba.rangeOf(inst.Input(n), visiting))
		}
		return r
	case ir.OpAddI:
		r, ok := ba.rangeOf(inst.Input(0), visiting).shift(inst.IntImm())
		if !ok {
			return FullRange()
		}
		return r
	case ir.OpSubI:
		r, ok := ba.rangeOf(inst.Input(0), visiting).shift(-inst.IntImm())
		if !ok {
			return FullRange()
		}
		return r
	case ir.OpAdd:
		a := ba.rangeOf(inst.Input(0), visiting)
		b := ba.rangeOf(inst.Input(1), visiting)
		if b.IsExact() {
			r, ok := a.shift(b.Min)
			if ok {
				return r
			}
		}
		if a.IsExact() {
			r, ok := b.shift(a.Min)
			if ok {
				return r
			}
		}
		return FullRange()
	case ir.OpSub:
		a := ba.rangeOf(inst.Input(0), visiting)
		b := ba.rangeOf(inst.Input(1), visiting)
		if b.IsExact() {
			r, ok := a.shift(-b.Min)
			if ok {
				return r
			}
		}
		return FullRange()
	case ir.OpMod:
		// Mod by a constant m bounds the result to (-|m|, |m|); a
		// non-negative dividend tightens it to [0, |m|-1].
		m := inst.Input(1)
		if m.Opcode() == ir.OpConstant && !m.ImmIsFloat() && m.IntValue() != 0 {
			am := m.IntValue()
			if am < 0 {
				am = -am
			}
			x := ba.rangeOf(inst.Input(0), visiting)
			if x.IsNonNegative() {
				return Range{Min: 0, Max: am - 1}
			}
			return Range{Min: -am + 1, Max: am - 1}
		}
		return FullRange()
	case ir.OpAbs:
		return Range{Min: 0, Max: math.MaxInt64}
	case ir.OpZeroCheck, ir.OpNegativeCheck, ir.OpBoundsCheck:
		// checks forward the guarded value
		if inst.Opcode() == ir.OpBoundsCheck {
			return ba.rangeOf(inst.Input(1), visiting)
		}
		return ba.rangeOf(inst.Input(0), visiting)
	}
	return FullRange()
}

// refineByConditions narrows r using every Compare+IfImm whose taken arm
// dominates `at`.
func (ba *BoundsAnalysis) refineByConditions(inst *ir.Inst, at *ir.BasicBlock, r Range) Range {
	if at == nil {
		return r
	}
	for b := at; b != nil; {
		idom := ba.dom.IDom(b)
		if idom == nil || idom == b {
			break
		}
		if idom.IsConditional() {
			iff := idom.LastInst()
			cond := iff.Input(0)
			if cond.Opcode() == ir.OpCompare && iff.IntImm() == 0 {
				// Which arm leads (and keeps leading) to `at`?
				var taken bool
				var arm *ir.BasicBlock
				if ba.dom.Dominates(idom.TrueSucc(), at) && idom.TrueSucc() != idom {
					arm, taken = idom.TrueSucc(), true
				} else if ba.dom.Dominates(idom.FalseSucc(), at) && idom.FalseSucc() != idom {
					arm, taken = idom.FalseSucc(), false
				}
				if arm != nil {
					r = ba.applyCompare(inst, cond, iff.CC(), taken, r)
				}
			}
		}
		b = idom
	}
	return r
}

func (ba *BoundsAnalysis) applyCompare(inst, cmp *ir.Inst, branchCC ir.ConditionCode, taken bool, r Range) Range {
	// The branch fires when `cmp <branchCC> 0`; for the canonical NE-0 form
	// the taken arm asserts the compare itself.
	holds := cmp.CC()
	if branchCC == ir.CCEq {
		taken = !taken
	} else if branchCC != ir.CCNe {
		return r
	}
	if !taken {
		holds = holds.Negated()
	}

	lhs, rhs := cmp.Input(0), cmp.Input(1)
	if lhs != inst && rhs != inst {
		return r
	}
	if rhs == inst {
		lhs, rhs = rhs, lhs
		holds = holds.Swapped()
	}
	other := ba.rangeOf(rhs, map[*ir.Inst]bool{})

	switch holds {
	case ir.CCLt:
		if other.Max != math.MaxInt64 {
			r.Max = min64(r.Max, other.Max-1)
		}
	case ir.CCLe:
		r.Max = min64(r.Max, other.Max)
	case ir.CCGt:
		if other.Min != math.MinInt64 {
			r.Min = max64(r.Min, other.Min+1)
		}
	case ir.CCGe:
		r.Min = max64(r.Min, other.Min)
	case ir.CCEq:
		if other.IsExact() {
			return other
		}
	}
	if r.Min > r.Max {
		// contradictory path; keep the refinement conservative
		return FullRange()
	}
	return r
}
