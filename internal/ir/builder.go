package ir

import (
	"fmt"
	"sort"

	"bytec/internal/program"
	"bytec/internal/types"
)

// DataTypeOf maps an assembler type to the IR value type.
func DataTypeOf(t types.Type) DataType {
	if t.IsObject() {
		return TypeRef
	}
	switch t.ID() {
	case types.IDU1:
		return TypeBool
	case types.IDI8:
		return TypeInt8
	case types.IDU8:
		return TypeUint8
	case types.IDI16:
		return TypeInt16
	case types.IDU16:
		return TypeUint16
	case types.IDI32:
		return TypeInt32
	case types.IDU32:
		return TypeUint32
	case types.IDI64:
		return TypeInt64
	case types.IDU64:
		return TypeUint64
	case types.IDF32:
		return TypeFloat32
	case types.IDF64:
		return TypeFloat64
	case types.IDTagged:
		return TypeAny
	case types.IDVoid:
		return TypeVoid
	}
	return TypeRef
}

// Builder turns one function's textual instruction list into a graph.
// Register values are promoted to SSA with phis placed on demand; checked
// memory operations expand into their guard + access instruction pairs.
type Builder struct {
	fn *program.Function
	g  *Graph

	blockAt   map[int]*BasicBlock // leader instruction index -> block
	labels    map[string]int      // label -> instruction index
	blockInss map[*BasicBlock][]int

	currentDef     map[*BasicBlock]map[int]*Inst
	sealed         map[*BasicBlock]bool
	filled         map[*BasicBlock]bool
	incompletePhis map[*BasicBlock]map[int]*Inst
}

// BuildGraph constructs the CFG of fn and translates its instructions.
func BuildGraph(fn *program.Function) (*Graph, error) {
	b := &Builder{
		fn:             fn,
		g:              NewGraph(),
		blockAt:        make(map[int]*BasicBlock),
		labels:         make(map[string]int),
		blockInss:      make(map[*BasicBlock][]int),
		currentDef:     make(map[*BasicBlock]map[int]*Inst),
		sealed:         make(map[*BasicBlock]bool),
		filled:         make(map[*BasicBlock]bool),
		incompletePhis: make(map[*BasicBlock]map[int]*Inst),
	}
	b.g.Method = fn.MangledName()
	b.g.VRegsCount = fn.TotalRegs()
	if err := b.splitBlocks(); err != nil {
		return nil, err
	}
	b.createParameters()
	if err := b.fillBlocks(); err != nil {
		return nil, err
	}
	b.markTryCatch()
	b.g.CompactBlockIDs()
	return b.g, nil
}

func (b *Builder) splitBlocks() error {
	ins := b.fn.Ins
	for i, in := range ins {
		if in.HasLabel() {
			b.labels[in.Label()] = i
		}
	}
	leaders := map[int]bool{0: true}
	for i, in := range ins {
		if in.IsJump() {
			target, ok := b.labels[in.JumpTarget()]
			if !ok {
				return fmt.Errorf("undefined label %q", in.JumpTarget())
			}
			leaders[target] = true
		}
		if in.IsTerminator() && i+1 < len(ins) {
			leaders[i+1] = true
		}
		if in.HasLabel() {
			leaders[i] = true
		}
	}
	var cur *BasicBlock
	for i := range ins {
		if leaders[i] {
			cur = b.g.NewBlock()
			b.blockAt[i] = cur
		}
		b.blockInss[cur] = append(b.blockInss[cur], i)
	}
	if len(ins) > 0 {
		b.g.StartBlock().AddSucc(b.blockAt[0])
	} else {
		b.g.StartBlock().AddSucc(b.g.EndBlock())
	}
	for _, bb := range b.orderedBlocks() {
		idxs := b.blockInss[bb]
		lastIdx := idxs[len(idxs)-1]
		last := ins[lastIdx]
		next, hasNext := b.blockAt[lastIdx+1]
		switch {
		case last.IsConditionalJump():
			bb.AddSucc(b.blockAt[b.labels[last.JumpTarget()]]) // true edge
			if !hasNext {
				return fmt.Errorf("conditional jump at end of function")
			}
			bb.AddSucc(next) // false edge
		case last.IsJump():
			bb.AddSucc(b.blockAt[b.labels[last.JumpTarget()]])
		case last.IsReturn() || last.Opcode == program.OpThrow || last.Opcode == program.OpDeopt:
			bb.AddSucc(b.g.EndBlock())
		default:
			if !hasNext {
				return fmt.Errorf("function falls off its end")
			}
			bb.AddSucc(next)
		}
	}
	return nil
}

func (b *Builder) orderedBlocks() []*BasicBlock {
	var out []*BasicBlock
	for i := range b.fn.Ins {
		if bb, ok := b.blockAt[i]; ok {
			out = append(out, bb)
		}
	}
	return out
}

func (b *Builder) createParameters() {
	start := b.g.StartBlock()
	b.sealed[start] = true
	b.filled[start] = true
	b.currentDef[start] = make(map[int]*Inst)
	for i, p := range b.fn.Params {
		param := b.g.NewInst(OpParameter, DataTypeOf(p.Type))
		start.AppendInst(param)
		// Parameter registers sit above the local registers.
		b.writeVariable(start, b.fn.TotalRegs()+i, param)
	}
}

func (b *Builder) fillBlocks() error {
	for _, bb := range b.orderedBlocks() {
		b.trySeal(bb)
		for _, idx := range b.blockInss[bb] {
			if err := b.translate(bb, b.fn.Ins[idx]); err != nil {
				return fmt.Errorf("%s: %w", b.fn.Ins[idx].String(), err)
			}
		}
		b.filled[bb] = true
		for _, s := range bb.Succs() {
			b.trySeal(s)
		}
	}
	for _, bb := range b.g.Blocks() {
		if !b.sealed[bb] {
			b.seal(bb)
		}
	}
	return nil
}

func (b *Builder) trySeal(bb *BasicBlock) {
	if b.sealed[bb] {
		return
	}
	for _, p := range bb.Preds() {
		if !b.filled[p] && p != b.g.StartBlock() {
			return
		}
	}
	b.seal(bb)
}

func (b *Builder) seal(bb *BasicBlock) {
	b.sealed[bb] = true
	for reg, phi := range b.incompletePhis[bb] {
		b.addPhiOperands(bb, reg, phi)
	}
	delete(b.incompletePhis, bb)
}

func (b *Builder) writeVariable(bb *BasicBlock, reg int, val *Inst) {
	defs := b.currentDef[bb]
	if defs == nil {
		defs = make(map[int]*Inst)
		b.currentDef[bb] = defs
	}
	defs[reg] = val
}

func (b *Builder) readVariable(bb *BasicBlock, reg int) *Inst {
	if v, ok := b.currentDef[bb][reg]; ok {
		return v
	}
	return b.readVariableRecursive(bb, reg)
}

func (b *Builder) readVariableRecursive(bb *BasicBlock, reg int) *Inst {
	var val *Inst
	switch {
	case !b.sealed[bb]:
		phi := b.g.NewInst(OpPhi, TypeNone)
		bb.AddPhi(phi)
		if b.incompletePhis[bb] == nil {
			b.incompletePhis[bb] = make(map[int]*Inst)
		}
		b.incompletePhis[bb][reg] = phi
		val = phi
	case len(bb.Preds()) == 1:
		val = b.readVariable(bb.Pred(0), reg)
	case len(bb.Preds()) == 0:
		// Reading a never-written register: surface a zero constant.
		val = b.g.FindOrCreateConstant(TypeInt64, 0)
	default:
		phi := b.g.NewInst(OpPhi, TypeNone)
		bb.AddPhi(phi)
		b.writeVariable(bb, reg, phi)
		val = b.addPhiOperands(bb, reg, phi)
	}
	b.writeVariable(bb, reg, val)
	return val
}

func (b *Builder) addPhiOperands(bb *BasicBlock, reg int, phi *Inst) *Inst {
	for _, p := range bb.Preds() {
		in := b.readVariable(p, reg)
		phi.AddInput(in)
		if phi.Type() == TypeNone {
			phi.SetType(in.Type())
		}
	}
	return b.tryRemoveTrivialPhi(bb, phi)
}

// tryRemoveTrivialPhi folds phis all of whose inputs agree.
func (b *Builder) tryRemoveTrivialPhi(bb *BasicBlock, phi *Inst) *Inst {
	var same *Inst
	for _, in := range phi.Inputs() {
		if in == same || in == phi {
			continue
		}
		if same != nil {
			return phi
		}
		same = in
	}
	if same == nil {
		return phi
	}
	phi.ReplaceUsers(same)
	bb.RemovePhi(phi)
	for blk := range b.currentDef {
		for reg, v := range b.currentDef[blk] {
			if v == phi {
				b.currentDef[blk][reg] = same
			}
		}
	}
	return same
}

// newSaveState snapshots the currently bound registers of the block.
func (b *Builder) newSaveState(bb *BasicBlock) *Inst {
	ss := b.g.NewInst(OpSaveState, TypeNone)
	regs := make([]int, 0, len(b.currentDef[bb]))
	for reg := range b.currentDef[bb] {
		regs = append(regs, reg)
	}
	sort.Ints(regs)
	for _, reg := range regs {
		ss.AppendVRegInput(b.currentDef[bb][reg], reg)
	}
	bb.AppendInst(ss)
	return ss
}

var binops = map[program.Opcode]Opcode{
	program.OpAdd: OpAdd, program.OpSub: OpSub, program.OpMul: OpMul,
	program.OpMin: OpMin, program.OpMax: OpMax,
	program.OpShl: OpShl, program.OpShr: OpShr, program.OpAshr: OpAShr,
	program.OpAnd: OpAnd, program.OpOr: OpOr, program.OpXor: OpXor,
}

var jumpCCs = map[program.Opcode]ConditionCode{
	program.OpJeq: CCEq, program.OpJne: CCNe, program.OpJlt: CCLt,
	program.OpJle: CCLe, program.OpJgt: CCGt, program.OpJge: CCGe,
	program.OpJeqz: CCEq, program.OpJnez: CCNe, program.OpJltz: CCLt,
	program.OpJlez: CCLe, program.OpJgtz: CCGt, program.OpJgez: CCGe,
}

func (b *Builder) translate(bb *BasicBlock, in *program.Ins) error {
	reg := func(n int) int { return int(in.Regs[n]) }
	read := func(n int) *Inst { return b.readVariable(bb, reg(n)) }
	write := func(n int, v *Inst) { b.writeVariable(bb, reg(n), v) }
	app := func(i *Inst) *Inst { bb.AppendInst(i); return i }

	switch in.Opcode {
	case program.OpNop, program.OpJmp:

	case program.OpMov:
		write(0, read(1))
	case program.OpMovi:
		write(0, b.g.FindOrCreateConstant(TypeInt64, in.Imms[0].Int()))
	case program.OpFmovi:
		write(0, b.g.FindOrCreateFloatConstant(TypeFloat64, in.Imms[0].Float()))
	case program.OpLdaNull:
		write(0, b.g.GetNullPtr())
	case program.OpLdaStr:
		ss := b.newSaveState(bb)
		ld := b.g.NewInstWithInputs(OpLoadString, TypeRef, ss)
		ld.SetTypeID(in.IDs[0])
		write(0, app(ld))
	case program.OpLdaConst:
		ss := b.newSaveState(bb)
		ld := b.g.NewInstWithInputs(OpLoadConstArray, TypeRef, ss)
		ld.SetTypeID(in.IDs[0])
		write(0, app(ld))

	case program.OpAdd, program.OpSub, program.OpMul, program.OpMin, program.OpMax,
		program.OpShl, program.OpShr, program.OpAshr, program.OpAnd, program.OpOr, program.OpXor:
		l, r := read(1), read(2)
		write(0, app(b.g.NewInstWithInputs(binops[in.Opcode], l.Type(), l, r)))
	case program.OpDiv, program.OpMod:
		l, r := read(1), read(2)
		ss := b.newSaveState(bb)
		zc := app(b.g.NewInstWithInputs(OpZeroCheck, r.Type(), r, ss))
		op := OpDiv
		if in.Opcode == program.OpMod {
			op = OpMod
		}
		write(0, app(b.g.NewInstWithInputs(op, l.Type(), l, zc)))
	case program.OpAddi, program.OpSubi:
		v := read(1)
		op := OpAddI
		if in.Opcode == program.OpSubi {
			op = OpSubI
		}
		i := b.g.NewInstWithInputs(op, v.Type(), v)
		i.SetIntImm(in.Imms[0].Int())
		write(0, app(i))
	case program.OpNeg:
		v := read(1)
		write(0, app(b.g.NewInstWithInputs(OpNeg, v.Type(), v)))
	case program.OpAbs:
		v := read(1)
		write(0, app(b.g.NewInstWithInputs(OpAbs, v.Type(), v)))
	case program.OpNot:
		v := read(1)
		write(0, app(b.g.NewInstWithInputs(OpNot, v.Type(), v)))
	case program.OpCast:
		v := read(1)
		c := b.g.NewInstWithInputs(OpCast, DataTypeOf(types.FromName(in.IDs[0])), v)
		c.SetTypeID(in.IDs[0])
		write(0, app(c))
	case program.OpCmp:
		write(0, app(b.g.NewInstWithInputs(OpCmp, TypeInt32, read(1), read(2))))
	case program.OpScmp:
		c := b.g.NewInstWithInputs(OpCompare, TypeBool, read(1), read(2))
		c.SetCC(ConditionCode(in.Imms[0].Int()))
		write(0, app(c))

	case program.OpNewarr:
		size := read(1)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNegativeCheck, size.Type(), size, ss))
		na := b.g.NewInstWithInputs(OpNewArray, TypeRef, nc, ss)
		na.SetTypeID(in.IDs[0])
		write(0, app(na))
	case program.OpLenarr:
		arr := read(1)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, arr, ss))
		write(0, app(b.g.NewInstWithInputs(OpLenArray, TypeInt32, nc)))
	case program.OpLdarr:
		arr, idx := read(1), read(2)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, arr, ss))
		ln := app(b.g.NewInstWithInputs(OpLenArray, TypeInt32, nc))
		bc := app(b.g.NewInstWithInputs(OpBoundsCheck, TypeInt32, ln, idx, ss))
		write(0, app(b.g.NewInstWithInputs(OpLoadArray, TypeInt32, nc, bc)))
	case program.OpStarr:
		arr, idx, val := read(0), read(1), read(2)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, arr, ss))
		ln := app(b.g.NewInstWithInputs(OpLenArray, TypeInt32, nc))
		bc := app(b.g.NewInstWithInputs(OpBoundsCheck, TypeInt32, ln, idx, ss))
		stored := val
		if val.Type() == TypeRef {
			stored = app(b.g.NewInstWithInputs(OpRefTypeCheck, TypeRef, nc, val, ss))
		}
		app(b.g.NewInstWithInputs(OpStoreArray, stored.Type(), nc, bc, stored))

	case program.OpNewobj:
		ss := b.newSaveState(bb)
		no := b.g.NewInstWithInputs(OpNewObject, TypeRef, ss)
		no.SetTypeID(in.IDs[0])
		write(0, app(no))
	case program.OpLdobj:
		obj := read(1)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, obj, ss))
		ld := b.g.NewInstWithInputs(OpLoadObject, TypeInt32, nc)
		ld.SetTypeID(in.IDs[0])
		write(0, app(ld))
	case program.OpStobj:
		obj, val := read(0), read(1)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, obj, ss))
		st := b.g.NewInstWithInputs(OpStoreObject, val.Type(), nc, val)
		st.SetTypeID(in.IDs[0])
		app(st)
	case program.OpLdstatic:
		ss := b.newSaveState(bb)
		ld := b.g.NewInstWithInputs(OpLoadStatic, TypeInt32, ss)
		ld.SetTypeID(in.IDs[0])
		write(0, app(ld))
	case program.OpStstatic:
		val := read(0)
		ss := b.newSaveState(bb)
		st := b.g.NewInstWithInputs(OpStoreStatic, val.Type(), val, ss)
		st.SetTypeID(in.IDs[0])
		app(st)

	case program.OpIsinstance:
		obj := read(1)
		ss := b.newSaveState(bb)
		is := b.g.NewInstWithInputs(OpIsInstance, TypeBool, obj, ss)
		is.SetTypeID(in.IDs[0])
		write(0, app(is))
	case program.OpCheckcast:
		obj := read(0)
		ss := b.newSaveState(bb)
		cc := b.g.NewInstWithInputs(OpCheckCast, TypeNone, obj, ss)
		cc.SetTypeID(in.IDs[0])
		app(cc)
	case program.OpInitclass:
		ss := b.newSaveState(bb)
		ic := b.g.NewInstWithInputs(OpInitClass, TypeNone, ss)
		ic.SetTypeID(in.IDs[0])
		app(ic)

	case program.OpCallShort, program.OpCall:
		args := make([]*Inst, 0, len(in.Regs)-1)
		for n := 1; n < len(in.Regs); n++ {
			args = append(args, read(n))
		}
		ss := b.newSaveState(bb)
		write(0, app(b.newCall(in.IDs[0], args, ss, false)))
	case program.OpCallVirt:
		obj := read(1)
		ss := b.newSaveState(bb)
		nc := app(b.g.NewInstWithInputs(OpNullCheck, TypeRef, obj, ss))
		args := []*Inst{nc}
		for n := 2; n < len(in.Regs); n++ {
			args = append(args, b.readVariable(bb, reg(n)))
		}
		write(0, app(b.newCall(in.IDs[0], args, ss, true)))

	case program.OpMonitorEnter, program.OpMonitorExit:
		obj := read(0)
		ss := b.newSaveState(bb)
		m := b.g.NewInstWithInputs(OpMonitor, TypeVoid, obj, ss)
		m.SetMonitorExit(in.Opcode == program.OpMonitorExit)
		app(m)

	case program.OpJeq, program.OpJne, program.OpJlt, program.OpJle, program.OpJgt, program.OpJge:
		cmp := b.g.NewInstWithInputs(OpCompare, TypeBool, read(0), read(1))
		cmp.SetCC(jumpCCs[in.Opcode])
		app(cmp)
		iff := b.g.NewInstWithInputs(OpIfImm, TypeNone, cmp)
		iff.SetCC(CCNe)
		app(iff)
	case program.OpJeqz, program.OpJnez, program.OpJltz, program.OpJlez, program.OpJgtz, program.OpJgez:
		iff := b.g.NewInstWithInputs(OpIfImm, TypeNone, read(0))
		iff.SetCC(jumpCCs[in.Opcode])
		app(iff)

	case program.OpReturn:
		v := read(0)
		app(b.g.NewInstWithInputs(OpReturn, v.Type(), v))
	case program.OpReturnVoid:
		app(b.g.NewInst(OpReturnVoid, TypeNone))
	case program.OpThrow:
		obj := read(0)
		ss := b.newSaveState(bb)
		app(b.g.NewInstWithInputs(OpThrow, TypeNone, obj, ss))
	case program.OpDeopt:
		ss := b.newSaveState(bb)
		d := b.g.NewInstWithInputs(OpDeoptimize, TypeNone, ss)
		d.SetDeoptReason(DeoptReason(in.Imms[0].Int()))
		app(d)

	default:
		return fmt.Errorf("unsupported opcode %s", in.Opcode)
	}
	return nil
}

var intrinsicMethods = map[string]IntrinsicID{
	"std.core.StringBuilder.<ctor>:()":                         IntrinsicStringBuilderCtor,
	"std.core.StringBuilder.<ctor>:(std.core.String)":          IntrinsicStringBuilderCtorString,
	"std.core.StringBuilder.append:(std.core.String)":          IntrinsicStringBuilderAppendString,
	"std.core.StringBuilder.toString:()":                       IntrinsicStringBuilderToString,
	"std.core.String.concat:(std.core.String,std.core.String)": IntrinsicStringConcat,
}

func (b *Builder) newCall(method string, args []*Inst, ss *Inst, virtual bool) *Inst {
	if id, ok := intrinsicMethods[method]; ok {
		call := b.g.NewInst(OpIntrinsic, TypeRef)
		call.SetIntrinsicID(id)
		call.SetTypeID(method)
		for _, a := range args {
			call.AddInput(a)
		}
		call.AddInput(ss)
		return call
	}
	op := OpCallStatic
	if virtual {
		op = OpCallVirtual
	}
	call := b.g.NewInst(op, TypeInt32)
	call.SetTypeID(method)
	for _, a := range args {
		call.AddInput(a)
	}
	call.AddInput(ss)
	return call
}

func (b *Builder) markTryCatch() {
	for _, cb := range b.fn.CatchBlocks {
		begin, okB := b.labels[cb.TryBeginLabel]
		end, okE := b.labels[cb.TryEndLabel]
		if okB && okE {
			for i := begin; i <= end; i++ {
				if bb, ok := b.blockAt[i]; ok {
					bb.IsTry = true
				}
			}
		}
		if catch, ok := b.labels[cb.CatchBeginLabel]; ok {
			if bb, ok := b.blockAt[catch]; ok {
				bb.IsCatch = true
			}
		}
	}
}
