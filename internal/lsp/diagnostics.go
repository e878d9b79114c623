package lsp

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"bytec/internal/errors"
)

// ConvertDiagnostics transforms assembler diagnostics into LSP diagnostics
// for IDE display.
func ConvertDiagnostics(diags []errors.CompilerError) []protocol.Diagnostic {
	var out []protocol.Diagnostic
	for _, d := range diags {
		length := d.Length
		if length <= 0 {
			length = 4 // default span for visibility
		}
		msg := d.Message
		if d.Code != "" {
			msg = "[" + d.Code + "] " + msg
		}
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{
					Line:      zeroBased(uint32(d.Position.Line)),
					Character: zeroBased(uint32(d.Position.Column)),
				},
				End: protocol.Position{
					Line:      zeroBased(uint32(d.Position.Line)),
					Character: zeroBased(uint32(d.Position.Column)) + uint32(length),
				},
			},
			Severity: ptrSeverity(severityOf(d.Level)),
			Source:   ptrString("bytec-asm"),
			Message:  msg,
		})
	}
	return out
}

func severityOf(level errors.ErrorLevel) protocol.DiagnosticSeverity {
	switch level {
	case errors.Warning:
		return protocol.DiagnosticSeverityWarning
	case errors.Note, errors.Help:
		return protocol.DiagnosticSeverityInformation
	default:
		return protocol.DiagnosticSeverityError
	}
}

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity { return &s }

func ptrString(s string) *string { return &s }
