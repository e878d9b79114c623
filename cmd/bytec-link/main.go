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
	"bytec/internal/linker"
	"bytec/internal/program"
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var partial, remainsPartial stringList
	output := flag.String("output", "linked.pa", "output file")
	stripDebug := flag.Bool("strip-debug-info", false, "drop debug info from the output")
	flag.Var(&partial, "partial", "class allowed to merge field-wise (repeatable)")
	flag.Var(&remainsPartial, "remains-partial", "class whose unresolved references are tolerated (repeatable)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: bytec-link [flags] <input.pa> ...")
		flag.PrintDefaults()
		os.Exit(1)
	}
	commonlog.Configure(0, nil)

	cfg := linker.DefaultConfig()
	cfg.StripDebugInfo = *stripDebug
	for _, c := range partial {
		cfg.Partial[c] = true
	}
	for _, c := range remainsPartial {
		cfg.RemainsPartial[c] = true
	}

	var inputs []*program.Program
	failed := false
	for _, path := range flag.Args() {
		source, err := os.ReadFile(path)
		if err != nil {
			color.Red("failed to read %s: %v", path, err)
			failed = true
			continue
		}
		prog, diags := asm.ParseSource(path, string(source))
		if len(diags) > 0 {
			reporter := errors.NewErrorReporter(path, string(source))
			for _, d := range diags {
				fmt.Fprint(os.Stderr, reporter.FormatError(d))
			}
			failed = true
			continue
		}
		inputs = append(inputs, prog)
	}
	if failed {
		os.Exit(1)
	}

	res := linker.Link(cfg, inputs)
	for _, e := range res.Errors {
		color.Red("error: %s", e)
	}
	if len(res.Errors) > 0 {
		os.Exit(1)
	}

	if err := os.WriteFile(*output, []byte(asm.EmitText(res.Program)), 0o644); err != nil {
		color.Red("failed to write %s: %v", *output, err)
		os.Exit(1)
	}

	color.Green("✅ Linked %d files into %s (%d deduplicated)",
		flag.NArg(), *output, res.Stats.DeduplicatedForeigners)
}
