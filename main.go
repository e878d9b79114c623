// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"bytec/internal/asm"
	"bytec/internal/errors"
	"bytec/internal/opt"
)

func main() {
	output := flag.String("output", "", "write the optimized unit to this file (default: stdout)")
	jsonDump := flag.String("json-dump", "", "write the program structure dump to this file")
	noOpt := flag.Bool("no-opt", false, "assemble without running the optimizer")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: bytec [flags] <file.pa>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *verbose {
		commonlog.Configure(1, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	path := flag.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read %s: %v", path, err)
		os.Exit(1)
	}

	prog, diags := asm.ParseSource(path, string(source))
	if len(diags) > 0 {
		reporter := errors.NewErrorReporter(path, string(source))
		for _, d := range diags {
			fmt.Fprint(os.Stderr, reporter.FormatError(d))
		}
		os.Exit(1)
	}

	if !*noOpt {
		for _, problem := range opt.OptimizeProgram(prog, opt.DefaultConfig()) {
			color.Yellow("warning: %v", problem)
		}
	}

	text := asm.EmitText(prog)
	if *output == "" {
		fmt.Print(text)
	} else if err := os.WriteFile(*output, []byte(text), 0o644); err != nil {
		color.Red("failed to write %s: %v", *output, err)
		os.Exit(1)
	}

	if *jsonDump != "" {
		if err := os.WriteFile(*jsonDump, []byte(prog.JsonDump()), 0o644); err != nil {
			color.Red("failed to write %s: %v", *jsonDump, err)
			os.Exit(1)
		}
	}

	color.Green("✅ Successfully processed %s", path)
}
