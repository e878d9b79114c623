package ir

import (
	"fmt"
	"math"
	"strings"
)

// BridgeVReg marks a SaveState input injected to keep a reference alive
// across the safepoint without a real virtual register.
const BridgeVReg = -1

// Inst is one IR instruction. Instructions are owned by their basic block
// and linked into its instruction list; data dependencies are explicit
// input edges with reverse user edges kept in sync by every mutation.
type Inst struct {
	id     int
	opcode Opcode
	typ    DataType
	block  *BasicBlock
	prev   *Inst
	next   *Inst

	inputs []*Inst
	users  []*Inst // multiset: one entry per using edge

	flags InstFlags

	// payload, interpreted per opcode
	immInt      int64
	immFloat    float64
	immIsFloat  bool
	typeID      string
	cc          ConditionCode
	deoptReason DeoptReason
	intrinsicID IntrinsicID
	vregs       []int // SaveState: virtual register per input
	monitorExit bool
	omitNull    bool
	likely      bool
	unlikely    bool
	ptr         uint64 // embedded pointer payload
}

func (i *Inst) ID() int            { return i.id }
func (i *Inst) Opcode() Opcode     { return i.opcode }
func (i *Inst) Type() DataType     { return i.typ }
func (i *Inst) SetType(t DataType) { i.typ = t }
func (i *Inst) Block() *BasicBlock { return i.block }

func (i *Inst) Prev() *Inst { return i.prev }
func (i *Inst) Next() *Inst { return i.next }

func (i *Inst) Flags() InstFlags         { return i.flags }
func (i *Inst) HasFlag(f InstFlags) bool { return i.flags&f != 0 }
func (i *Inst) SetFlag(f InstFlags)      { i.flags |= f }
func (i *Inst) ClearFlag(f InstFlags)    { i.flags &^= f }

func (i *Inst) IsPhi() bool       { return i.opcode == OpPhi }
func (i *Inst) IsConst() bool     { return i.opcode == OpConstant || i.opcode == OpNullPtr }
func (i *Inst) IsSaveState() bool { return i.opcode.IsSaveStateOpcode() }
func (i *Inst) IsNop() bool       { return i.opcode == OpNop }

// IsCheck covers the removable runtime guards.
func (i *Inst) IsCheck() bool {
	switch i.opcode {
	case OpNullCheck, OpBoundsCheck, OpZeroCheck, OpNegativeCheck, OpRefTypeCheck:
		return true
	}
	return false
}

func (i *Inst) IsMovableObject() bool { return i.HasFlag(FlagMovableObject) }
func (i *Inst) RequiresState() bool   { return i.HasFlag(FlagRequireState) }

func (i *Inst) IsReferenceOrAny() bool { return i.typ == TypeRef || i.typ == TypeAny }

// Immediates

func (i *Inst) IntImm() int64     { return i.immInt }
func (i *Inst) FloatImm() float64 { return i.immFloat }
func (i *Inst) ImmIsFloat() bool  { return i.immIsFloat }
func (i *Inst) SetIntImm(v int64) { i.immInt = v; i.immIsFloat = false }
func (i *Inst) SetFloatImm(v float64) {
	i.immFloat = v
	i.immIsFloat = true
}

// Constant value accessors

func (i *Inst) IntValue() int64 { return i.immInt }

func (i *Inst) FloatValue() float64 {
	if i.immIsFloat {
		return i.immFloat
	}
	return float64(i.immInt)
}

// IsNullConstant reports whether this is the null reference constant.
func (i *Inst) IsNullConstant() bool {
	return i.opcode == OpNullPtr || (i.opcode == OpConstant && i.typ == TypeRef && i.immInt == 0)
}

func (i *Inst) TypeID() string         { return i.typeID }
func (i *Inst) SetTypeID(id string)    { i.typeID = id }
func (i *Inst) CC() ConditionCode      { return i.cc }
func (i *Inst) SetCC(cc ConditionCode) { i.cc = cc }

func (i *Inst) DeoptReason() DeoptReason      { return i.deoptReason }
func (i *Inst) SetDeoptReason(r DeoptReason)  { i.deoptReason = r }
func (i *Inst) IntrinsicID() IntrinsicID      { return i.intrinsicID }
func (i *Inst) SetIntrinsicID(id IntrinsicID) { i.intrinsicID = id }

// Monitor direction: entry or exit.
func (i *Inst) IsMonitorEntry() bool  { return i.opcode == OpMonitor && !i.monitorExit }
func (i *Inst) IsMonitorExit() bool   { return i.opcode == OpMonitor && i.monitorExit }
func (i *Inst) SetMonitorExit(b bool) { i.monitorExit = b }

// OmitNullCheck is set on CheckCast/IsInstance once a dominating guard
// proves the receiver non-null.
func (i *Inst) OmitNullCheck() bool     { return i.omitNull }
func (i *Inst) SetOmitNullCheck(b bool) { i.omitNull = b }

func (i *Inst) Likely() bool   { return i.likely }
func (i *Inst) Unlikely() bool { return i.unlikely }
func (i *Inst) SetLikely()     { i.likely = true; i.unlikely = false }
func (i *Inst) SetUnlikely()   { i.unlikely = true; i.likely = false }

func (i *Inst) Ptr() uint64     { return i.ptr }
func (i *Inst) SetPtr(p uint64) { i.ptr = p }

// Inputs and users

func (i *Inst) Inputs() []*Inst   { return i.inputs }
func (i *Inst) InputsCount() int  { return len(i.inputs) }
func (i *Inst) Input(n int) *Inst { return i.inputs[n] }

func (i *Inst) addUser(u *Inst) { i.users = append(i.users, u) }
func (i *Inst) removeUser(u *Inst) {
	for n, x := range i.users {
		if x == u {
			i.users[n] = i.users[len(i.users)-1]
			i.users = i.users[:len(i.users)-1]
			return
		}
	}
}

// Users returns a snapshot of the using instructions (one entry per edge).
func (i *Inst) Users() []*Inst { return append([]*Inst(nil), i.users...) }

func (i *Inst) HasUsers() bool { return len(i.users) > 0 }

// HasUser reports whether u uses i through at least one edge.
func (i *Inst) HasUser(u *Inst) bool {
	for _, x := range i.users {
		if x == u {
			return true
		}
	}
	return false
}

// AddInput appends a data edge.
func (i *Inst) AddInput(in *Inst) {
	i.inputs = append(i.inputs, in)
	in.addUser(i)
	if i.IsSaveState() {
		i.vregs = append(i.vregs, BridgeVReg)
	}
}

// AppendVRegInput appends a SaveState input carrying a virtual register.
func (i *Inst) AppendVRegInput(in *Inst, vreg int) {
	i.inputs = append(i.inputs, in)
	in.addUser(i)
	i.vregs = append(i.vregs, vreg)
}

// SetInput rewires the n-th input edge.
func (i *Inst) SetInput(n int, in *Inst) {
	old := i.inputs[n]
	if old == in {
		return
	}
	old.removeUser(i)
	i.inputs[n] = in
	in.addUser(i)
}

// RemoveInput drops the n-th input edge, shifting the rest down.
func (i *Inst) RemoveInput(n int) {
	i.inputs[n].removeUser(i)
	i.inputs = append(i.inputs[:n], i.inputs[n+1:]...)
	if i.IsSaveState() && n < len(i.vregs) {
		i.vregs = append(i.vregs[:n], i.vregs[n+1:]...)
	}
}

// RemoveInputs drops every input edge.
func (i *Inst) RemoveInputs() {
	for _, in := range i.inputs {
		in.removeUser(i)
	}
	i.inputs = i.inputs[:0]
	i.vregs = i.vregs[:0]
}

// ReplaceInput swaps every edge to old for an edge to new.
func (i *Inst) ReplaceInput(old, new *Inst) {
	for n, in := range i.inputs {
		if in == old {
			i.SetInput(n, new)
		}
	}
}

// ReplaceUsers re-points every user of i to other.
func (i *Inst) ReplaceUsers(other *Inst) {
	for _, u := range i.Users() {
		u.ReplaceInput(i, other)
	}
}

// VRegs exposes the SaveState register list (parallel to inputs).
func (i *Inst) VRegs() []int { return i.vregs }

func (i *Inst) SetVReg(n, vreg int) { i.vregs[n] = vreg }

// SaveStateInput returns the SaveState anchoring this instruction.
func (i *Inst) SaveStateInput() *Inst {
	if !i.RequiresState() || len(i.inputs) == 0 {
		return nil
	}
	last := i.inputs[len(i.inputs)-1]
	if !last.IsSaveState() {
		return nil
	}
	return last
}

// DataInputs returns the inputs without the trailing SaveState anchor.
func (i *Inst) DataInputs() []*Inst {
	if i.SaveStateInput() != nil {
		return i.inputs[:len(i.inputs)-1]
	}
	return i.inputs
}

// HasInput reports whether in appears among the inputs.
func (i *Inst) HasInput(in *Inst) bool {
	for _, x := range i.inputs {
		if x == in {
			return true
		}
	}
	return false
}

// MakeNop strips the instruction down to a placeholder. The id and the list
// position are kept so later patching can still address it; Cleanup sweeps
// the husk.
func (i *Inst) MakeNop() {
	i.RemoveInputs()
	i.opcode = OpNop
	i.typ = TypeNone
	i.flags = 0
}

// Precedes reports whether i comes before other inside the same block.
func (i *Inst) Precedes(other *Inst) bool {
	if i.block != other.block {
		return false
	}
	if i.IsPhi() && !other.IsPhi() {
		return true
	}
	if !i.IsPhi() && other.IsPhi() {
		return false
	}
	for x := i.next; x != nil; x = x.next {
		if x == other {
			return true
		}
	}
	return false
}

// InsertBefore links a detached instruction right before i in i's block.
func (i *Inst) InsertBefore(detached *Inst) {
	i.block.InsertBefore(detached, i)
}

// InsertAfter links a detached instruction right after i in i's block.
func (i *Inst) InsertAfter(detached *Inst) {
	i.block.InsertAfter(detached, i)
}

// Clone copies the instruction payload without block, inputs or users.
func (i *Inst) Clone(g *Graph) *Inst {
	c := g.newInst(i.opcode, i.typ)
	c.flags = i.flags
	c.immInt = i.immInt
	c.immFloat = i.immFloat
	c.immIsFloat = i.immIsFloat
	c.typeID = i.typeID
	c.cc = i.cc
	c.deoptReason = i.deoptReason
	c.intrinsicID = i.intrinsicID
	c.monitorExit = i.monitorExit
	c.omitNull = i.omitNull
	c.likely = i.likely
	c.unlikely = i.unlikely
	c.ptr = i.ptr
	return c
}

func (i *Inst) String() string {
	var sb strings.Builder
	if i.typ != TypeNone {
		fmt.Fprintf(&sb, "%d.%s %s", i.id, i.typ, i.opcode)
	} else {
		fmt.Fprintf(&sb, "%d. %s", i.id, i.opcode)
	}
	if i.opcode == OpConstant {
		if i.immIsFloat {
			fmt.Fprintf(&sb, " %v", i.immFloat)
		} else {
			fmt.Fprintf(&sb, " %d", i.immInt)
		}
	}
	if i.typeID != "" {
		fmt.Fprintf(&sb, " %s", i.typeID)
	}
	if i.opcode == OpCompare || i.opcode == OpIfImm || i.opcode == OpDeoptimizeIf {
		fmt.Fprintf(&sb, " %s", i.cc)
	}
	if len(i.inputs) > 0 {
		sb.WriteString(" (")
		for n, in := range i.inputs {
			if n > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "v%d", in.id)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// constKey identifies a pooled constant.
type constKey struct {
	typ  DataType
	bits uint64
}

func keyForConst(typ DataType, isFloat bool, i int64, f float64) constKey {
	if isFloat {
		return constKey{typ: typ, bits: math.Float64bits(f)}
	}
	return constKey{typ: typ, bits: uint64(i)}
}
