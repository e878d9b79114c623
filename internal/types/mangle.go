package types

import (
	"fmt"
	"strings"
)

// Method mangling: the unqualified name followed by ":(" and the
// comma-separated parameter type names, e.g. "foo:(i32,std.core.String)".

// MangleFunctionName builds the mangled lookup key for a function.
func MangleFunctionName(name string, params []Type) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(":(")
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Name())
	}
	sb.WriteByte(')')
	return sb.String()
}

// IsMangled reports whether a name already carries a signature suffix.
func IsMangled(name string) bool {
	return strings.Contains(name, ":(")
}

// UnmangledName strips the signature suffix, if present.
func UnmangledName(name string) string {
	if i := strings.Index(name, ":("); i >= 0 {
		return name[:i]
	}
	return name
}

// Textual-ANI mangling: the FFI layer describes types in a compact new-syntax
// form; the functions below rewrite it into classic descriptors.

const objectDescriptor = "Lstd/core/Object;"

// ConvertDescriptor rewrites a new-syntax class descriptor (dot-separated
// name, or "A{...}" when allowArray is set) into a classic descriptor.
func ConvertDescriptor(descriptor string, allowArray bool) (string, error) {
	if descriptor == "" || strings.HasSuffix(descriptor, ";") {
		return "", fmt.Errorf("incorrect mangling: %q", descriptor)
	}
	if allowArray && len(descriptor) >= 3 && descriptor[0] == 'A' && descriptor[1] == '{' {
		var sb strings.Builder
		if _, err := parseArrayBody(descriptor[1:], &sb); err != nil {
			return "", fmt.Errorf("incorrect mangling: %q", descriptor)
		}
		return sb.String(), nil
	}
	var sb strings.Builder
	sb.WriteByte('L')
	for i := 0; i < len(descriptor); i++ {
		if descriptor[i] == '/' {
			return "", fmt.Errorf("incorrect mangling: %q", descriptor)
		}
		if descriptor[i] == '.' {
			sb.WriteByte('/')
		} else {
			sb.WriteByte(descriptor[i])
		}
	}
	sb.WriteByte(';')
	return sb.String(), nil
}

// ConvertSignature rewrites a new-syntax method signature
// ("<param-types>:<return-type>") into the classic colon form; an empty
// return type becomes "V".
func ConvertSignature(descriptor string) (string, error) {
	var sb strings.Builder
	nr := -1
	k := -1
	for i := 0; i < len(descriptor); i++ {
		if descriptor[i] == ':' {
			sb.WriteByte(':')
			nr = 0
			k = 1
			continue
		}
		n, err := parseType(descriptor[i], descriptor[i:], &sb)
		if err != nil {
			return "", fmt.Errorf("incorrect mangling: %q", descriptor)
		}
		i += n - 1
		nr += k
	}
	if k == -1 {
		return "", fmt.Errorf("incorrect mangling: %q (missing ':')", descriptor)
	}
	if nr == 0 {
		sb.WriteByte('V')
	}
	return sb.String(), nil
}

const minBodySize = 3 // '{' + at least one char + '}'

func parseType(kind byte, data string, sb *strings.Builder) (int, error) {
	switch kind {
	case 'z':
		sb.WriteByte('Z')
		return 1, nil
	case 'c':
		sb.WriteByte('C')
		return 1, nil
	case 'b':
		sb.WriteByte('B')
		return 1, nil
	case 's':
		sb.WriteByte('S')
		return 1, nil
	case 'i':
		sb.WriteByte('I')
		return 1, nil
	case 'l':
		sb.WriteByte('J')
		return 1, nil
	case 'f':
		sb.WriteByte('F')
		return 1, nil
	case 'd':
		sb.WriteByte('D')
		return 1, nil
	case 'Y', 'N', 'U':
		sb.WriteString(objectDescriptor)
		return 1, nil
	case 'A':
		n, err := parseArrayBody(data[1:], sb)
		if err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 'X':
		n, err := parseUnionBody(data[1:], sb)
		if err != nil {
			return 0, err
		}
		return 1 + n, nil
	case 'C', 'E', 'P':
		n, err := parseBody(kind, data[1:], sb)
		if err != nil {
			return 0, err
		}
		return 1 + n, nil
	}
	return 0, fmt.Errorf("not a new-format descriptor")
}

func parseArrayBody(data string, sb *strings.Builder) (int, error) {
	if len(data) < minBodySize || data[0] != '{' {
		return 0, fmt.Errorf("malformed array body")
	}
	sb.WriteByte('[')
	n, err := parseType(data[1], data[1:], sb)
	if err != nil {
		return 0, err
	}
	if 1+n >= len(data) || data[1+n] != '}' {
		return 0, fmt.Errorf("malformed array body")
	}
	return 1 + n + 1, nil
}

func parseUnionBody(data string, sb *strings.Builder) (int, error) {
	if len(data) < minBodySize || data[0] != '{' {
		return 0, fmt.Errorf("malformed union body")
	}
	var union strings.Builder
	union.WriteString(unionPrefix)

	previous := ""
	n := 1
	for n < len(data) && data[n] != '}' {
		sub := data[n:]
		sz, err := parseType(data[n], sub, &union)
		if err != nil {
			return 0, err
		}
		parsed := sub[:sz]
		// Constituent types must arrive in ascending order of their encodings.
		if previous > parsed {
			return 0, fmt.Errorf("union constituents out of order")
		}
		previous = parsed
		n += sz
	}
	if n >= len(data) || data[n] != '}' {
		return 0, fmt.Errorf("unterminated union body")
	}
	union.WriteByte('}')

	canonical, err := CanonicalizeDescriptor(union.String())
	if err != nil {
		return 0, err
	}
	sb.WriteString(canonical)
	return n + 1, nil
}

func parseBody(kind byte, data string, sb *strings.Builder) (int, error) {
	if len(data) < minBodySize || data[0] != '{' {
		return 0, fmt.Errorf("malformed body")
	}
	end := strings.IndexByte(data[1:], '}')
	if end < 0 {
		return 0, fmt.Errorf("unterminated body")
	}
	end++
	var name strings.Builder
	name.WriteByte('L')
	for pos := 1; pos < end; pos++ {
		if data[pos] == '/' || data[pos] == ':' {
			return 0, fmt.Errorf("invalid character in name")
		}
		if data[pos] == '.' {
			name.WriteByte('/')
		} else {
			name.WriteByte(data[pos])
		}
	}
	s := name.String()
	if kind == 'P' {
		// e.g. "La/b/c/X" -> "La/b/c/%%partial-X"
		last := strings.LastIndexByte(s, '/') + 1
		s = s[:last] + "%%partial-" + s[last:]
	}
	sb.WriteString(s + ";")
	return end + 1, nil
}
