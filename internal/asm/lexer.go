package asm

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// AsmLexer tokenizes the textual bytecode dialect. Newlines are significant
// (one instruction per line), so EOL is a real token while the rest of the
// whitespace is elided.
var AsmLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `#[^\n]*`, Action: nil},

		{Name: "String", Pattern: `"(\\.|[^"\\])*"`, Action: nil},

		{Name: "Float", Pattern: `-?[0-9]+\.[0-9]+([eE][+-]?[0-9]+)?`, Action: nil},
		{Name: "Integer", Pattern: `-?(0x[0-9a-fA-F]+|[0-9]+)`, Action: nil},

		// Directives lead with a dot; identifiers may contain dots
		// (mnemonics like lda.str, qualified names like std.core.String).
		{Name: "Directive", Pattern: `\.[a-zA-Z_][a-zA-Z0-9_]*`, Action: nil},
		{Name: "Ident", Pattern: `[a-zA-Z_$][a-zA-Z0-9_$.]*`, Action: nil},

		{Name: "Punct", Pattern: `[{}()\[\],:<>]`, Action: nil},

		{Name: "EOL", Pattern: `\n+`, Action: nil},
		{Name: "Whitespace", Pattern: `[ \t\r]+`, Action: nil},
	},
})
