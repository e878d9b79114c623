package errors

// Error codes for the bytec toolchain
// These codes are used in error messages and documentation
// to provide consistent error identification across the toolchain.
//
// Error code ranges:
// E0100-E0199: Assembler/parser errors
// E0200-E0299: Type descriptor errors
// E0300-E0399: Linker errors
// E0400-E0499: Graph/invariant errors
// E0500-E0599: Reserved for future use

const (
	// E0100: Unknown mnemonic in an instruction line
	ErrorUnknownOpcode = "E0100"

	// E0101: Wrong operand count or kind for the mnemonic
	ErrorBadOperands = "E0101"

	// E0102: A jump references a label that is never defined
	ErrorUndefinedLabel = "E0102"

	// E0103: Duplicate record, function or field name
	ErrorDuplicateSymbol = "E0103"

	// E0104: Malformed directive (.function / .record / .catch)
	ErrorBadDirective = "E0104"

	// E0105: Register index is at or above the register file limit (MaxRegsNum)
	ErrorRegisterOutOfRange = "E0105"

	// E0200: Descriptor cannot be parsed
	ErrorBadDescriptor = "E0200"

	// E0201: Union descriptor violates canonical form
	ErrorBadUnion = "E0201"

	// E0202: Type referenced from a function or field does not resolve
	ErrorUnresolvedType = "E0202"

	// E0300: Foreign reference has no defining symbol in any input
	ErrorUnresolvedReference = "E0300"

	// E0301: Foreign reference matches more than one definition
	ErrorAmbiguousReference = "E0301"

	// E0302: Signatures of same-name definitions are incompatible
	ErrorSignatureConflict = "E0302"

	// E0303: Overlapping field definitions outside the partial allow-list
	ErrorFieldOverlap = "E0303"

	// E0400: A pass left the graph violating a checker invariant
	ErrorBrokenGraph = "E0400"

	// E0401: Function exceeds a structural limit (registers, parameters)
	ErrorLimitExceeded = "E0401"
)
