package opt

import (
	"bytec/internal/ir"
	"bytec/internal/program"
)

// OptimizeProgram runs the pass pipeline over every function body in the
// program and writes the lowered instruction lists back. A function whose
// graph cannot be built or that trips the checker keeps its original
// instruction list; such failures are reported but never fatal to the
// whole compilation.
func OptimizeProgram(prog *program.Program, cfg Config) []error {
	var problems []error
	for _, name := range prog.FunctionNames() {
		fn := prog.GetFunction(name)
		if !fn.HasImplementation() || len(fn.Ins) == 0 {
			continue
		}
		if err := optimizeFunction(prog, fn, cfg); err != nil {
			log.Warningf("%s left unoptimized: %v", name, err)
			problems = append(problems, err)
		}
	}
	return problems
}

func optimizeFunction(prog *program.Program, fn *program.Function, cfg Config) error {
	g, err := ir.BuildGraph(fn)
	if err != nil {
		return err
	}
	pipeline := NewPipeline(cfg, prog)
	if _, errs := pipeline.Run(g); len(errs) > 0 {
		return errs[0]
	}
	return ir.LowerGraph(g, fn)
}
