package types

import (
	"fmt"
	"sort"
	"strings"
)

// TypeID classifies a type the way the file format does: one id per
// primitive, one for tagged values and one shared id for every reference.
type TypeID int

const (
	IDVoid TypeID = iota
	IDU1
	IDI8
	IDU8
	IDI16
	IDU16
	IDI32
	IDU32
	IDI64
	IDU64
	IDF32
	IDF64
	IDTagged
	IDReference
)

const (
	unionPrefix    = "{U"
	unionPrefixLen = 2
	rankStep       = 2 // each rank adds "[]" to the name
)

var primitiveDescriptors = map[string]string{
	"u1": "Z", "i8": "B", "u8": "H", "i16": "S", "u16": "C", "i32": "I", "u32": "U",
	"f32": "F", "f64": "D", "i64": "J", "u64": "Q", "void": "V", "any": "A",
}

var reversePrimitiveDescriptors = map[string]string{
	"Z": "u1", "B": "i8", "H": "u8", "S": "i16", "C": "u16", "I": "i32", "U": "u32",
	"F": "f32", "D": "f64", "J": "i64", "Q": "u64", "V": "void", "A": "any",
}

var primitiveIDs = map[string]TypeID{
	"u1": IDU1, "i8": IDI8, "u8": IDU8, "i16": IDI16, "u16": IDU16,
	"i32": IDI32, "u32": IDU32, "i64": IDI64, "u64": IDU64,
	"f32": IDF32, "f64": IDF64, "void": IDVoid, "any": IDTagged,
}

// Type is a primitive, reference, union or array type. The zero value is
// invalid; use New, FromName or FromDescriptor.
type Type struct {
	componentNames []string
	rank           int
	name           string
	id             TypeID
}

// New builds a type from a component name (which may itself carry a union)
// and an array rank.
func New(componentName string, rank int) Type {
	t := Type{rank: rank}
	t.name = nameOf(componentName, rank)
	t.id = idOf(t.name)
	t.fillComponentNames(componentName)
	t.Canonicalize()
	return t
}

// NewArrayOf lifts a component type by the given extra rank.
func NewArrayOf(component Type, rank int) Type {
	return New(component.componentName(), component.rank+rank)
}

func nameOf(componentName string, rank int) string {
	var sb strings.Builder
	sb.WriteString(componentName)
	for ; rank > 0; rank-- {
		sb.WriteString("[]")
	}
	return sb.String()
}

func idOf(name string) TypeID {
	if id, ok := primitiveIDs[name]; ok {
		return id
	}
	return IDReference
}

func (t *Type) fillComponentNames(componentNames string) {
	if !isUnionName(componentNames) {
		t.componentNames = []string{componentNames}
		return
	}
	body := componentNames[unionPrefixLen : len(componentNames)-1]
	for body != "" {
		component, n := splitComponentName(body)
		t.componentNames = append(t.componentNames, component)
		if n >= len(body) || body[n] != ',' {
			break
		}
		body = body[n+1:]
	}
}

func isUnionName(name string) bool {
	return strings.HasPrefix(name, unionPrefix) && strings.HasSuffix(name, "}")
}

// skipUnion returns the length of the leading "{U...}" group, honoring
// nested unions.
func skipUnion(name string) int {
	n := unionPrefixLen
	for name[n] != '}' {
		if name[n] == '{' {
			n += skipUnion(name[n:])
			continue
		}
		n++
	}
	return n + 1
}

func splitComponentName(name string) (string, int) {
	if name[0] != '{' {
		if i := strings.IndexByte(name, ','); i >= 0 {
			return name[:i], i
		}
		return name, len(name)
	}
	n := skipUnion(name)
	for n+1 < len(name) && name[n] == '[' && name[n+1] == ']' {
		n += rankStep
	}
	return name[:n], n
}

// Name returns the pandasm-style name, e.g. "i32[]" or "{Uf64,std.core.String}".
func (t Type) Name() string { return t.name }

// PandasmName returns the name with slashes rewritten to dots.
func (t Type) PandasmName() string {
	return strings.ReplaceAll(t.name, "/", ".")
}

// NameWithoutRank strips the trailing "[]" pairs from the name.
func (t Type) NameWithoutRank() string {
	i := len(t.name)
	for i >= rankStep && t.name[i-1] == ']' {
		i -= rankStep
	}
	return t.name[:i]
}

func (t Type) componentName() string {
	if len(t.componentNames) == 1 {
		return t.componentNames[0]
	}
	return unionPrefix + strings.Join(t.componentNames, ",") + "}"
}

// ComponentNames exposes the union constituents (or the single component).
func (t Type) ComponentNames() []string { return t.componentNames }

// Rank is the array rank; zero for scalars.
func (t Type) Rank() int { return t.rank }

// ComponentType returns the element type of an array, dropping one rank.
func (t Type) ComponentType() Type {
	rank := t.rank
	if rank > 0 {
		rank--
	}
	return New(t.componentNames[0], rank)
}

// ID returns the file-format type id.
func (t Type) ID() TypeID { return t.id }

func (t Type) IsValid() bool  { return len(t.componentNames) > 0 }
func (t Type) IsArray() bool  { return t.rank > 0 }
func (t Type) IsObject() bool { return t.id == IDReference }
func (t Type) IsTagged() bool { return t.id == IDTagged }
func (t Type) IsVoid() bool   { return t.id == IDVoid }

func (t Type) IsUnion() bool { return isUnionName(t.name) }

func (t Type) IsIntegral() bool {
	switch t.id {
	case IDU1, IDU8, IDI8, IDU16, IDI16, IDU32, IDI32, IDU64, IDI64:
		return true
	}
	return false
}

func (t Type) FitsInto32() bool {
	switch t.id {
	case IDU1, IDU8, IDI8, IDU16, IDI16, IDU32, IDI32:
		return true
	}
	return false
}

func (t Type) IsFloat32() bool { return t.id == IDF32 }
func (t Type) IsFloat64() bool { return t.id == IDF64 }

func (t Type) IsPrim32() bool { return (t.IsIntegral() && t.FitsInto32()) || t.IsFloat32() }
func (t Type) IsPrim64() bool { return (t.IsIntegral() && !t.FitsInto32()) || t.IsFloat64() }

func (t Type) IsPrimitive() bool { return t.IsPrim32() || t.IsPrim64() }

// IsArrayOfPrimitives reports whether the array element is a primitive type.
func (t Type) IsArrayOfPrimitives() bool {
	return idOf(t.componentNames[0]) != IDReference
}

func (t Type) String() string { return t.name }

func (t Type) Equal(o Type) bool { return t.name == o.name }

func (t Type) Less(o Type) bool { return t.name < o.name }

// Descriptor renders the wire descriptor: '[' per rank, one-letter codes for
// primitives, "L<slash-name>;" for references, "{U...}" for unions.
func (t Type) Descriptor() string {
	var sb strings.Builder
	for i := 0; i < t.rank; i++ {
		sb.WriteByte('[')
	}
	if len(t.componentNames) == 1 {
		sb.WriteString(componentDescriptor(t.componentNames[0]))
		return sb.String()
	}
	sb.WriteString(unionPrefix)
	for _, c := range t.componentNames {
		sb.WriteString(componentDescriptor(c))
	}
	sb.WriteByte('}')
	return sb.String()
}

func componentDescriptor(componentName string) string {
	if d, ok := primitiveDescriptors[componentName]; ok {
		return d
	}
	raw := FromName(componentName)
	scalar := New(raw.NameWithoutRank(), 0)
	prefix := strings.Repeat("[", raw.Rank())
	if scalar.IsUnion() {
		return prefix + scalar.Descriptor()
	}
	if d, ok := primitiveDescriptors[scalar.componentName()]; ok {
		return prefix + d
	}
	return prefix + "L" + strings.ReplaceAll(scalar.componentName(), ".", "/") + ";"
}

// Canonicalize sorts and deduplicates union constituents, recursively
// canonicalising each component first. Non-unions are left untouched.
func (t *Type) Canonicalize() {
	if !t.IsUnion() {
		return
	}
	for i, componentName := range t.componentNames {
		raw := FromName(componentName)
		scalar := New(raw.NameWithoutRank(), 0)
		t.componentNames[i] = New(scalar.Name(), raw.Rank()).Name()
	}
	sort.Strings(t.componentNames)
	t.componentNames = dedupSorted(t.componentNames)
	t.name = nameOf(t.componentName(), t.rank)
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// CanonicalizeDescriptor is the descriptor-level fixpoint of Canonicalize.
func CanonicalizeDescriptor(descriptor string) (string, error) {
	t, err := FromDescriptor(descriptor)
	if err != nil {
		return "", err
	}
	t.Canonicalize()
	return t.Descriptor(), nil
}

// FromName parses a pandasm name like "i32[][]" or "{Ui8,f64}[]".
func FromName(name string) Type {
	i := 0
	for len(name)-i-1 >= 0 && name[len(name)-i-1] == ']' {
		i += rankStep
	}
	return New(name[:len(name)-i], i/rankStep)
}

// FromPrimitiveID returns the primitive type for a given file-format id.
func FromPrimitiveID(id TypeID) Type {
	for name, pid := range primitiveIDs {
		if pid == id {
			return New(name, 0)
		}
	}
	panic(fmt.Sprintf("no primitive type for id %d", id))
}

// FromDescriptor parses a wire descriptor.
func FromDescriptor(descriptor string) (Type, error) {
	rank := 0
	for rank < len(descriptor) && descriptor[rank] == '[' {
		rank++
	}
	name, _, err := nameFromDescriptor(descriptor[rank:])
	if err != nil {
		return Type{}, err
	}
	return New(name, rank), nil
}

func nameFromDescriptor(descriptor string) (string, int, error) {
	if descriptor == "" {
		return "", 0, fmt.Errorf("empty descriptor")
	}
	if descriptor[0] != '{' {
		return componentFromDescriptor(descriptor)
	}
	if !strings.HasPrefix(descriptor, unionPrefix) {
		return "", 0, fmt.Errorf("malformed union descriptor %q", descriptor)
	}
	var sb strings.Builder
	sb.WriteString(unionPrefix)
	consumed := unionPrefixLen
	rest := descriptor[unionPrefixLen:]
	first := true
	for rest != "" && rest[0] != '}' {
		rank := 0
		for rank < len(rest) && rest[rank] == '[' {
			rank++
		}
		consumed += rank
		rest = rest[rank:]
		component, n, err := nameFromDescriptor(rest)
		if err != nil {
			return "", 0, err
		}
		consumed += n
		rest = rest[n:]
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(component)
		for ; rank > 0; rank-- {
			sb.WriteString("[]")
		}
	}
	if rest == "" {
		return "", 0, fmt.Errorf("unterminated union descriptor %q", descriptor)
	}
	sb.WriteByte('}')
	return sb.String(), consumed + 1, nil
}

func componentFromDescriptor(descriptor string) (string, int, error) {
	if descriptor[0] == 'L' {
		end := strings.IndexByte(descriptor, ';')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated reference descriptor %q", descriptor)
		}
		return strings.ReplaceAll(descriptor[1:end], "/", "."), end + 1, nil
	}
	if name, ok := reversePrimitiveDescriptors[descriptor[:1]]; ok {
		return name, 1, nil
	}
	return "", 0, fmt.Errorf("unknown descriptor %q", descriptor)
}

// IsPrimitiveName reports whether name denotes a primitive type.
func IsPrimitiveName(name string) bool {
	_, ok := primitiveDescriptors[name]
	return ok
}

// StringClassName is the reference type used for string literals.
const StringClassName = "std.core.String"

// IsStringType reports whether name denotes the builtin string class.
func IsStringType(name string) bool {
	return name == StringClassName
}
