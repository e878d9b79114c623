package opt

import (
	"strconv"

	"bytec/internal/ir"
	"bytec/internal/program"
	"bytec/internal/types"
)

const minArrayElementsAmount = 2

// ConstArrayResolver detects a NewArray followed by an uninterrupted run of
// constant StoreArrays filling it completely, moves the contents into the
// program's literal-array table and replaces the initialisation with a
// single LoadConstArray.
type ConstArrayResolver struct {
	Program *program.Program

	fills map[*ir.Inst][]*ir.Inst // NewArray -> stores to delete
	inits map[string]*ir.Inst     // literal-array id -> NewArray
}

func (car *ConstArrayResolver) Name() string { return "ConstArrayResolver" }

func (car *ConstArrayResolver) Description() string {
	return "Rewrites constant array initialisation into literal-array loads"
}

func (car *ConstArrayResolver) Apply(g *ir.Graph) bool {
	if car.Program == nil {
		return false
	}
	car.fills = make(map[*ir.Inst][]*ir.Inst)
	car.inits = make(map[string]*ir.Inst)

	if !car.findConstantArrays(g) {
		return false
	}
	car.removeArraysFill()
	car.insertLoadConstArrayInsts(g)
	return true
}

func isPatchAllowedOpcode(op ir.Opcode) bool {
	switch op {
	case ir.OpStoreArray, ir.OpLoadString, ir.OpConstant, ir.OpCast, ir.OpSaveState:
		return true
	}
	return false
}

// storedArray resolves the array operand of a StoreArray through its guard.
func storedArray(store *ir.Inst) *ir.Inst {
	arr := store.Input(0)
	for arr.Opcode() == ir.OpNullCheck || arr.Opcode() == ir.OpRefTypeCheck {
		arr = arr.Input(0)
	}
	return arr
}

// constantIfPossible looks through casts down to a constant operand.
func constantIfPossible(i *ir.Inst) *ir.Inst {
	if i.Opcode() == ir.OpCast {
		in := i.Input(0)
		if in.Opcode() == ir.OpNullPtr || in.Opcode() != ir.OpConstant {
			return nil
		}
		return in
	}
	if i.Opcode() == ir.OpConstant {
		return i
	}
	return nil
}

func (car *ConstArrayResolver) findConstantArrays(g *ir.Graph) bool {
	initSize := car.Program.LiteralArrayCount()

	for _, bb := range g.BlocksRPO() {
		// Walk backwards until a store starting a fill patch shows up.
		insts := bb.Insts()
		for n := len(insts) - 1; n >= 0; n-- {
			inst := insts[n]
			if inst.Opcode() != ir.OpStoreArray {
				continue
			}
			arrayInst := storedArray(inst)
			if arrayInst.Opcode() != ir.OpNewArray {
				continue
			}
			if arrayInst.Block() != bb {
				continue
			}
			if _, done := car.fills[arrayInst]; done {
				continue
			}

			arrayType := types.FromName(arrayInst.TypeID())
			if arrayType.Rank() > 1 {
				continue // multidimensional arrays are not encodable
			}

			sizeInst := constantIfPossible(newArraySize(arrayInst))
			if sizeInst == nil {
				continue
			}
			size := sizeInst.IntValue()
			if size < minArrayElementsAmount {
				continue
			}

			literals, stores := car.fillLiteralArray(arrayInst, arrayType, size)
			if literals == nil {
				continue
			}

			la := &program.LiteralArray{Literals: literals}
			la.AddIntro()
			id := strconv.Itoa(car.Program.LiteralArrayCount())
			car.Program.AddLiteralArray(id, la)

			car.fills[arrayInst] = stores
			car.inits[id] = arrayInst
		}
	}
	return initSize < car.Program.LiteralArrayCount()
}

// newArraySize resolves the size operand through the negative-size guard.
func newArraySize(newArray *ir.Inst) *ir.Inst {
	size := newArray.Input(0)
	if size.Opcode() == ir.OpNegativeCheck {
		size = size.Input(0)
	}
	return size
}

// fillLiteralArray collects the uninterrupted fill patch after the
// NewArray; it fails when the patch is broken by a disallowed opcode, an
// unencodable element or an incomplete fill.
func (car *ConstArrayResolver) fillLiteralArray(newArray *ir.Inst, arrayType types.Type, size int64) ([]program.Literal, []*ir.Inst) {
	var literals []program.Literal
	var stores []*ir.Inst

	index := int64(0)
	for next := newArray.Next(); next != nil && index < size; next = next.Next() {
		if !isPatchAllowedOpcode(next.Opcode()) {
			break
		}
		if next.Opcode() != ir.OpStoreArray {
			continue
		}
		if storedArray(next) != newArray {
			break
		}
		lit, ok := car.fillLiteral(next, arrayType)
		if !ok {
			return nil, nil
		}
		literals = append(literals, lit)
		stores = append(stores, next)
		index++
	}

	if index < size || int64(len(stores)) < minArrayElementsAmount {
		return nil, nil
	}
	return literals, stores
}

func (car *ConstArrayResolver) fillLiteral(store *ir.Inst, arrayType types.Type) (program.Literal, bool) {
	rawElem := store.Input(2)
	componentName := arrayType.ComponentNames()[0]

	if types.IsPrimitiveName(componentName) {
		valueInst := constantIfPossible(rawElem)
		if valueInst == nil {
			return program.Literal{}, false
		}
		return fillPrimitiveLiteral(arrayType.ComponentType(), valueInst)
	}

	if rawElem.Opcode() == ir.OpLoadString && types.IsStringType(componentName) {
		car.Program.AddString(rawElem.TypeID())
		return program.Literal{Tag: program.TagArrayString, Value: rawElem.TypeID()}, true
	}

	return program.Literal{}, false
}

func fillPrimitiveLiteral(component types.Type, value *ir.Inst) (program.Literal, bool) {
	tag, ok := program.ArrayTagForComponent(component.ID())
	if !ok {
		return program.Literal{}, false
	}
	switch tag {
	case program.TagArrayU1:
		return program.Literal{Tag: tag, Value: value.IntValue() != 0}, true
	case program.TagArrayU8, program.TagArrayI8:
		return program.Literal{Tag: tag, Value: uint8(value.IntValue())}, true
	case program.TagArrayU16, program.TagArrayI16:
		return program.Literal{Tag: tag, Value: uint16(value.IntValue())}, true
	case program.TagArrayU32, program.TagArrayI32:
		return program.Literal{Tag: tag, Value: int32(value.IntValue())}, true
	case program.TagArrayU64, program.TagArrayI64:
		return program.Literal{Tag: tag, Value: value.IntValue()}, true
	case program.TagArrayF32:
		return program.Literal{Tag: tag, Value: float32(value.FloatValue())}, true
	case program.TagArrayF64:
		return program.Literal{Tag: tag, Value: value.FloatValue()}, true
	}
	return program.Literal{}, false
}

func (car *ConstArrayResolver) removeArraysFill() {
	for _, stores := range car.fills {
		for _, store := range stores {
			store.Block().RemoveInst(store)
		}
	}
}

func (car *ConstArrayResolver) insertLoadConstArrayInsts(g *ir.Graph) {
	for id, newArray := range car.inits {
		load := g.NewInst(ir.OpLoadConstArray, ir.TypeRef)
		load.SetTypeID(id)

		newArray.ReplaceUsers(load)

		ss := g.NewInst(ir.OpSaveState, ir.TypeNone)
		load.AddInput(ss)

		newArray.InsertBefore(ss)
		newArray.Block().ReplaceInst(newArray, load)
	}
}
