// Package opt contains the bytecode optimizer passes and their driver.
package opt

import (
	"github.com/tliron/commonlog"

	"bytec/internal/ir"
	"bytec/internal/program"
)

var log = commonlog.GetLogger("bytec.opt")

// Pass is a single graph transformation. Apply returns true when it changed
// the graph.
type Pass interface {
	Name() string
	Description() string
	Apply(g *ir.Graph) bool
}

// Config carries the pass toggles; passes take it by value, there is no
// ambient options object.
type Config struct {
	CSEEnabled              bool
	VNEnabled               bool
	ChecksElimination       bool
	ConstArrayResolver      bool
	SimplifyStringBuilder   bool
	CheckGraphBetweenPasses bool
}

func DefaultConfig() Config {
	return Config{
		CSEEnabled:              true,
		VNEnabled:               true,
		ChecksElimination:       true,
		ConstArrayResolver:      true,
		SimplifyStringBuilder:   true,
		CheckGraphBetweenPasses: true,
	}
}

// Pipeline runs passes in a fixed order; the result of pass k+1 depends
// only on the output of pass k.
type Pipeline struct {
	passes []Pass
	config Config
}

// NewPipeline builds the default pass order. Cleanup runs first, after
// ChecksElimination, SimplifyStringBuilder and ConstArrayResolver, and at the
// end; ValNum, Cse and ChecksElimination run back to back, so NOPs left by
// the first two reach the next pass.
func NewPipeline(cfg Config, prog *program.Program) *Pipeline {
	p := &Pipeline{config: cfg}
	p.Add(&Cleanup{})
	if cfg.VNEnabled {
		p.Add(&ValNum{})
	}
	if cfg.CSEEnabled {
		p.Add(&Cse{})
	}
	if cfg.ChecksElimination {
		p.Add(&ChecksElimination{})
		p.Add(&Cleanup{})
	}
	if cfg.SimplifyStringBuilder {
		p.Add(&SimplifyStringBuilder{})
		p.Add(&Cleanup{})
	}
	if cfg.ConstArrayResolver {
		p.Add(&ConstArrayResolver{Program: prog})
		p.Add(&Cleanup{})
	}
	p.Add(&Cleanup{})
	return p
}

func (p *Pipeline) Add(pass Pass) { p.passes = append(p.passes, pass) }

// Run executes the pipeline. A pass that breaks a graph invariant is
// reported and stops the pipeline for this function; the caller keeps the
// original instruction list in that case.
func (p *Pipeline) Run(g *ir.Graph) (bool, []error) {
	changed := false
	for _, pass := range p.passes {
		log.Debugf("%s: %s", pass.Name(), pass.Description())
		if pass.Apply(g) {
			changed = true
			g.InvalidateAnalyses()
			log.Debugf("%s: applied", pass.Name())
		}
		if p.config.CheckGraphBetweenPasses {
			if errs := ir.CheckGraph(g); len(errs) > 0 {
				log.Errorf("%s left a broken graph on %s", pass.Name(), g.Method)
				return changed, errs
			}
		}
	}
	return changed, nil
}
