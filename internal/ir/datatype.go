package ir

// DataType tags the result and operand types of IR instructions.
type DataType uint8

const (
	TypeNone DataType = iota
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeRef
	TypeAny
	TypeVoid
)

var dataTypeNames = [...]string{
	TypeNone:    "none",
	TypeBool:    "b",
	TypeInt8:    "i8",
	TypeUint8:   "u8",
	TypeInt16:   "i16",
	TypeUint16:  "u16",
	TypeInt32:   "i32",
	TypeUint32:  "u32",
	TypeInt64:   "i64",
	TypeUint64:  "u64",
	TypeFloat32: "f32",
	TypeFloat64: "f64",
	TypeRef:     "ref",
	TypeAny:     "any",
	TypeVoid:    "void",
}

func (t DataType) String() string { return dataTypeNames[t] }

func (t DataType) IsFloat() bool { return t == TypeFloat32 || t == TypeFloat64 }

func (t DataType) IsInt() bool {
	switch t {
	case TypeBool, TypeInt8, TypeUint8, TypeInt16, TypeUint16, TypeInt32, TypeUint32, TypeInt64, TypeUint64:
		return true
	}
	return false
}

func (t DataType) IsSigned() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

func (t DataType) IsReference() bool { return t == TypeRef }
