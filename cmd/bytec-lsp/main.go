// SPDX-License-Identifier: Apache-2.0
package main

import (
	"log"
	"os"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"bytec/internal/lsp"
)

const lsName = "bytec" // Name identifier for the language server

var (
	version = "0.0.1"        // Server version
	handler protocol.Handler // Protocol handler instance (wired up below)
)

func main() {
	// Configure debug logging (1 = debug level, nil = default logger)
	commonlog.Configure(1, nil)

	asmHandler := lsp.NewHandler()

	handler = protocol.Handler{
		Initialize:                 asmHandler.Initialize,
		Initialized:                asmHandler.Initialized,
		Shutdown:                   asmHandler.Shutdown,
		SetTrace:                   asmHandler.SetTrace,
		TextDocumentDidOpen:        asmHandler.TextDocumentDidOpen,
		TextDocumentDidClose:       asmHandler.TextDocumentDidClose,
		TextDocumentDidChange:      asmHandler.TextDocumentDidChange,
		TextDocumentDocumentSymbol: asmHandler.TextDocumentDocumentSymbol,
	}

	s := server.NewServer(&handler, lsName, false)

	log.Println("Starting bytec LSP server...")

	// Serve over standard input/output, the transport editors use.
	if err := s.RunStdio(); err != nil {
		log.Println("Error starting bytec LSP server:", err)
		os.Exit(1)
	}
}
