package lsp

import (
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"bytec/internal/asm"
	"bytec/internal/program"
)

// Handler implements the LSP server handlers for the assembly dialect:
// parse diagnostics on open/change and document symbols from the program
// model.
type Handler struct {
	mu       sync.RWMutex
	content  map[string]string
	programs map[string]*program.Program
}

func NewHandler() *Handler {
	return &Handler{
		content:  make(map[string]string),
		programs: make(map[string]*program.Program),
	}
}

// Initialize advertises the server's capabilities.
func (h *Handler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Println("LSP Initialize called")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			DocumentSymbolProvider: true,
		},
	}, nil
}

func (h *Handler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Println("LSP Initialized")
	return nil
}

func (h *Handler) Shutdown(ctx *glsp.Context) error {
	log.Println("LSP Shutdown")
	return nil
}

func (h *Handler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// TextDocumentDidOpen parses the opened file and pushes diagnostics.
func (h *Handler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	log.Printf("Opened file: %s\n", params.TextDocument.URI)
	h.setContent(params.TextDocument.URI, params.TextDocument.Text)
	return h.refresh(ctx, params.TextDocument.URI)
}

// TextDocumentDidChange re-parses on every full-document change.
func (h *Handler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	for _, change := range params.ContentChanges {
		if whole, ok := change.(protocol.TextDocumentContentChangeEventWhole); ok {
			h.setContent(params.TextDocument.URI, whole.Text)
		}
	}
	return h.refresh(ctx, params.TextDocument.URI)
}

func (h *Handler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return fmt.Errorf("failed to convert URI %s: %w", params.TextDocument.URI, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.content, path)
	delete(h.programs, path)
	return nil
}

// TextDocumentDocumentSymbol reports records and functions with their body
// spans, mirroring the JsonDump structure the IDE tooling consumes.
func (h *Handler) TextDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	h.mu.RLock()
	prog := h.programs[path]
	h.mu.RUnlock()
	if prog == nil {
		return nil, nil
	}

	var symbols []protocol.DocumentSymbol
	for _, name := range prog.RecordNames() {
		r := prog.GetRecord(name)
		symbols = append(symbols, symbolFor(r.Name, protocol.SymbolKindClass, r.FileLocation, r.BodyLocation))
	}
	for _, name := range prog.FunctionNames() {
		f := prog.GetFunction(name)
		symbols = append(symbols, symbolFor(f.Name, protocol.SymbolKindFunction, f.FileLocation, f.BodyLocation))
	}
	return symbols, nil
}

func symbolFor(name string, kind protocol.SymbolKind, fl program.FileLocation, body program.SourceLocation) protocol.DocumentSymbol {
	rng := protocol.Range{
		Start: protocol.Position{Line: zeroBased(body.Begin.Line), Character: zeroBased(body.Begin.Column)},
		End:   protocol.Position{Line: zeroBased(body.End.Line), Character: zeroBased(body.End.Column)},
	}
	return protocol.DocumentSymbol{
		Name:           name,
		Kind:           kind,
		Range:          rng,
		SelectionRange: rng,
	}
}

func zeroBased(n uint32) uint32 {
	if n > 0 {
		return n - 1
	}
	return 0
}

func (h *Handler) setContent(uri protocol.DocumentUri, text string) {
	path, err := uriToPath(uri)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.content[path] = text
}

// refresh re-parses the document and publishes the current diagnostics.
func (h *Handler) refresh(ctx *glsp.Context, uri protocol.DocumentUri) error {
	path, err := uriToPath(uri)
	if err != nil {
		return err
	}
	h.mu.RLock()
	source := h.content[path]
	h.mu.RUnlock()

	prog, diags := asm.ParseSource(path, source)

	h.mu.Lock()
	h.programs[path] = prog
	h.mu.Unlock()

	sendDiagnosticNotification(ctx, uri, ConvertDiagnostics(diags))
	return nil
}

func sendDiagnosticNotification(ctx *glsp.Context, uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// uriToPath converts a file:// URI into a filesystem path.
func uriToPath(uri protocol.DocumentUri) (string, error) {
	parsed, err := url.Parse(string(uri))
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("unsupported URI scheme %q", parsed.Scheme)
	}
	path := parsed.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
		path = filepath.FromSlash(path)
	}
	return path, nil
}

func ptrBool(b bool) *bool { return &b }

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind { return &k }
