package program

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode enumerates the textual bytecode dialect. The dialect is
// three-address: destination register first, sources after, then ids and
// immediates.
type Opcode uint16

const (
	OpInvalid Opcode = iota
	OpNop
	OpMov
	OpMovi
	OpFmovi
	OpLdaStr
	OpLdaNull
	OpLdaConst
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMin
	OpMax
	OpShl
	OpShr
	OpAshr
	OpAnd
	OpOr
	OpXor
	OpAddi
	OpSubi
	OpNeg
	OpAbs
	OpNot
	OpCast
	OpCmp
	OpNewarr
	OpLenarr
	OpLdarr
	OpStarr
	OpNewobj
	OpLdobj
	OpStobj
	OpLdstatic
	OpStstatic
	OpIsinstance
	OpCheckcast
	OpInitclass
	OpCallShort
	OpCall
	OpCallVirt
	OpMonitorEnter
	OpMonitorExit
	OpJmp
	OpJeq
	OpJne
	OpJlt
	OpJle
	OpJgt
	OpJge
	OpJeqz
	OpJnez
	OpJltz
	OpJlez
	OpJgtz
	OpJgez
	OpReturn
	OpReturnVoid
	OpThrow
	OpScmp
	OpDeopt
	numOpcodes
)

// InstFlags drive the generic instruction predicates; every opcode's flags
// live in the static properties table.
type InstFlags uint32

const (
	FlagNone     InstFlags = 0
	FlagJump     InstFlags = 1 << 0
	FlagCond     InstFlags = 1 << 1
	FlagCall     InstFlags = 1 << 2
	FlagReturn   InstFlags = 1 << 3
	FlagAccRead  InstFlags = 1 << 4
	FlagAccWrite InstFlags = 1 << 5
	FlagPseudo   InstFlags = 1 << 6
	FlagThrowing InstFlags = 1 << 7
	FlagMethodID InstFlags = 1 << 8
	FlagFieldID  InstFlags = 1 << 9
	FlagTypeID   InstFlags = 1 << 10
	FlagStringID InstFlags = 1 << 11
	FlagLitArrID InstFlags = 1 << 12
)

const invalidRegIdx = -1

// MaxRegsNum bounds the register file of one function.
const MaxRegsNum = 1 << 16

type opcodeProp struct {
	name    string
	flags   InstFlags
	width   int // register encoding width in bits
	defIdx  int // position of the defined register, or invalidRegIdx
	useIdxs []int
	numImms int
	numIDs  int
}

var opcodeProps = [numOpcodes]opcodeProp{
	OpInvalid:      {name: "<invalid>", defIdx: invalidRegIdx},
	OpNop:          {name: "nop", defIdx: invalidRegIdx},
	OpMov:          {name: "mov", width: 16, defIdx: 0, useIdxs: []int{1}},
	OpMovi:         {name: "movi", width: 16, defIdx: 0, numImms: 1},
	OpFmovi:        {name: "fmovi", width: 16, defIdx: 0, numImms: 1},
	OpLdaStr:       {name: "lda.str", flags: FlagStringID, width: 16, defIdx: 0, numIDs: 1},
	OpLdaNull:      {name: "lda.null", width: 16, defIdx: 0},
	OpLdaConst:     {name: "lda.const", flags: FlagLitArrID, width: 16, defIdx: 0, numIDs: 1},
	OpAdd:          {name: "add", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpSub:          {name: "sub", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpMul:          {name: "mul", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpDiv:          {name: "div", flags: FlagThrowing, width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpMod:          {name: "mod", flags: FlagThrowing, width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpMin:          {name: "min", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpMax:          {name: "max", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpShl:          {name: "shl", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpShr:          {name: "shr", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpAshr:         {name: "ashr", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpAnd:          {name: "and", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpOr:           {name: "or", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpXor:          {name: "xor", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpAddi:         {name: "addi", width: 8, defIdx: 0, useIdxs: []int{1}, numImms: 1},
	OpSubi:         {name: "subi", width: 8, defIdx: 0, useIdxs: []int{1}, numImms: 1},
	OpNeg:          {name: "neg", width: 8, defIdx: 0, useIdxs: []int{1}},
	OpAbs:          {name: "abs", width: 8, defIdx: 0, useIdxs: []int{1}},
	OpNot:          {name: "not", width: 8, defIdx: 0, useIdxs: []int{1}},
	OpCast:         {name: "cast", flags: FlagTypeID, width: 8, defIdx: 0, useIdxs: []int{1}, numIDs: 1},
	OpCmp:          {name: "cmp", width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpNewarr:       {name: "newarr", flags: FlagThrowing | FlagTypeID, width: 8, defIdx: 0, useIdxs: []int{1}, numIDs: 1},
	OpLenarr:       {name: "lenarr", flags: FlagThrowing, width: 8, defIdx: 0, useIdxs: []int{1}},
	OpLdarr:        {name: "ldarr", flags: FlagThrowing, width: 8, defIdx: 0, useIdxs: []int{1, 2}},
	OpStarr:        {name: "starr", flags: FlagThrowing, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1, 2}},
	OpNewobj:       {name: "newobj", flags: FlagThrowing | FlagTypeID, width: 8, defIdx: 0, numIDs: 1},
	OpLdobj:        {name: "ldobj", flags: FlagThrowing | FlagFieldID, width: 8, defIdx: 0, useIdxs: []int{1}, numIDs: 1},
	OpStobj:        {name: "stobj", flags: FlagThrowing | FlagFieldID, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}, numIDs: 1},
	OpLdstatic:     {name: "ldstatic", flags: FlagThrowing | FlagFieldID, width: 8, defIdx: 0, numIDs: 1},
	OpStstatic:     {name: "ststatic", flags: FlagThrowing | FlagFieldID, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}, numIDs: 1},
	OpIsinstance:   {name: "isinstance", flags: FlagTypeID, width: 8, defIdx: 0, useIdxs: []int{1}, numIDs: 1},
	OpCheckcast:    {name: "checkcast", flags: FlagThrowing | FlagTypeID, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}, numIDs: 1},
	OpInitclass:    {name: "initclass", flags: FlagThrowing | FlagTypeID, width: 8, defIdx: invalidRegIdx, numIDs: 1},
	OpCallShort:    {name: "call.short", flags: FlagCall | FlagThrowing | FlagMethodID, width: 8, defIdx: 0, useIdxs: []int{1, 2}, numIDs: 1},
	OpCall:         {name: "call", flags: FlagCall | FlagThrowing | FlagMethodID, width: 8, defIdx: 0, useIdxs: []int{1, 2, 3, 4}, numIDs: 1},
	OpCallVirt:     {name: "call.virt", flags: FlagCall | FlagThrowing | FlagMethodID, width: 8, defIdx: 0, useIdxs: []int{1, 2, 3, 4}, numIDs: 1},
	OpMonitorEnter: {name: "monitor.enter", flags: FlagThrowing, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpMonitorExit:  {name: "monitor.exit", flags: FlagThrowing, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJmp:          {name: "jmp", flags: FlagJump, defIdx: invalidRegIdx},
	OpJeq:          {name: "jeq", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJne:          {name: "jne", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJlt:          {name: "jlt", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJle:          {name: "jle", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJgt:          {name: "jgt", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJge:          {name: "jge", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0, 1}},
	OpJeqz:         {name: "jeqz", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJnez:         {name: "jnez", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJltz:         {name: "jltz", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJlez:         {name: "jlez", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJgtz:         {name: "jgtz", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpJgez:         {name: "jgez", flags: FlagJump | FlagCond, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpReturn:       {name: "return", flags: FlagReturn, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpReturnVoid:   {name: "return.void", flags: FlagReturn, defIdx: invalidRegIdx},
	OpThrow:        {name: "throw", flags: FlagThrowing, width: 8, defIdx: invalidRegIdx, useIdxs: []int{0}},
	OpScmp:         {name: "scmp", width: 8, defIdx: 0, useIdxs: []int{1, 2}, numImms: 1},
	OpDeopt:        {name: "deopt", flags: FlagThrowing | FlagPseudo, defIdx: invalidRegIdx, numImms: 1},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, numOpcodes)
	for op := Opcode(1); op < numOpcodes; op++ {
		m[opcodeProps[op].name] = op
	}
	return m
}()

// OpcodeByName resolves a mnemonic; ok is false for unknown mnemonics.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

func (o Opcode) String() string {
	if o >= numOpcodes {
		return "<invalid>"
	}
	return opcodeProps[o].name
}

// Imm is a tagged int64/float64 immediate.
type Imm struct {
	isFloat bool
	i       int64
	f       float64
}

func IntImm(v int64) Imm     { return Imm{i: v} }
func FloatImm(v float64) Imm { return Imm{isFloat: true, f: v} }

func (im Imm) IsFloat() bool  { return im.isFloat }
func (im Imm) Int() int64     { return im.i }
func (im Imm) Float() float64 { return im.f }

func (im Imm) String() string {
	if im.isFloat {
		return strconv.FormatFloat(im.f, 'g', -1, 64)
	}
	return strconv.FormatInt(im.i, 10)
}

// Ins is one textual instruction: opcode plus register, id and immediate
// operand lists, an optional leading label and debug info.
type Ins struct {
	Opcode Opcode
	Regs   []uint16
	IDs    []string
	Imms   []Imm

	Debug DebugIns

	label    string
	hasLabel bool
}

func (i *Ins) HasLabel() bool { return i.hasLabel }

func (i *Ins) Label() string { return i.label }

func (i *Ins) SetLabel(l string) {
	i.label = l
	i.hasLabel = true
}

func (i *Ins) RemoveLabel() {
	i.label = ""
	i.hasLabel = false
}

func (i *Ins) HasFlag(f InstFlags) bool {
	if i.Opcode == OpInvalid {
		return false
	}
	return opcodeProps[i.Opcode].flags&f != 0
}

func (i *Ins) CanThrow() bool {
	return i.HasFlag(FlagThrowing) || i.HasFlag(FlagMethodID) || i.HasFlag(FlagFieldID) ||
		i.HasFlag(FlagTypeID) || i.HasFlag(FlagStringID)
}

func (i *Ins) IsJump() bool            { return i.HasFlag(FlagJump) }
func (i *Ins) IsConditionalJump() bool { return i.IsJump() && i.HasFlag(FlagCond) }
func (i *Ins) IsCall() bool            { return i.HasFlag(FlagCall) }
func (i *Ins) IsReturn() bool          { return i.HasFlag(FlagReturn) }
func (i *Ins) IsTerminator() bool      { return i.IsJump() || i.IsReturn() || i.Opcode == OpThrow }

func (i *Ins) HasDebugInfo() bool { return i.Debug.IsDefined() }

// JumpTarget returns the label operand of a jump.
func (i *Ins) JumpTarget() string {
	if !i.IsJump() || len(i.IDs) == 0 {
		return ""
	}
	return i.IDs[len(i.IDs)-1]
}

// Uses lists the registers the instruction reads.
func (i *Ins) Uses() []uint16 {
	if i.Opcode == OpInvalid {
		return nil
	}
	prop := &opcodeProps[i.Opcode]
	res := make([]uint16, 0, len(prop.useIdxs))
	for _, idx := range prop.useIdxs {
		if idx >= len(i.Regs) {
			break
		}
		res = append(res, i.Regs[idx])
	}
	return res
}

// Def returns the register defined by this instruction, if any.
func (i *Ins) Def() (uint16, bool) {
	if i.Opcode == OpInvalid {
		return 0, false
	}
	idx := opcodeProps[i.Opcode].defIdx
	if idx == invalidRegIdx || idx >= len(i.Regs) {
		return 0, false
	}
	return i.Regs[idx], true
}

func (i *Ins) MaxRegEncodingWidth() int {
	if i.Opcode == OpInvalid {
		return 0
	}
	return opcodeProps[i.Opcode].width
}

// IsValidToEmit checks register operands against the encoding width.
func (i *Ins) IsValidToEmit() bool {
	limit := uint32(1) << i.MaxRegEncodingWidth()
	for _, r := range i.Regs {
		if uint32(r) >= limit {
			return false
		}
	}
	return true
}

// Clone returns an identical copy of the instruction.
func (i *Ins) Clone() *Ins {
	c := &Ins{
		Opcode: i.Opcode,
		Regs:   append([]uint16(nil), i.Regs...),
		IDs:    append([]string(nil), i.IDs...),
		Imms:   append([]Imm(nil), i.Imms...),
		Debug:  i.Debug.Clone(),
	}
	if i.hasLabel {
		c.SetLabel(i.label)
	}
	return c
}

// String renders the instruction the way the parser reads it back.
func (i *Ins) String() string {
	var sb strings.Builder
	if i.hasLabel {
		sb.WriteString(i.label)
		sb.WriteString(": ")
	}
	sb.WriteString(i.Opcode.String())
	first := true
	sep := func() {
		if first {
			sb.WriteByte(' ')
			first = false
		} else {
			sb.WriteString(", ")
		}
	}
	for _, r := range i.Regs {
		sep()
		fmt.Fprintf(&sb, "v%d", r)
	}
	for _, id := range i.IDs {
		sep()
		if i.HasFlag(FlagStringID) {
			fmt.Fprintf(&sb, "%q", id)
		} else {
			sb.WriteString(id)
		}
	}
	for _, im := range i.Imms {
		sep()
		sb.WriteString(im.String())
	}
	return sb.String()
}
