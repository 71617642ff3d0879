package filter

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// ScoreFilter decides whether a score update is relayed. A nil *ScoreFilter accepts everything.
type ScoreFilter struct {
	source string
	prog   *vm.Program
}

// NewScoreFilter compiles the boolean expression source against Env, f.e. `Score >= 0 && Score <= 100000`.
// An empty source yields a nil filter.
func NewScoreFilter(source string) (*ScoreFilter, error) {
	if source == "" {
		return nil, nil
	}
	prog, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile score filter: %w", err)
	}
	return &ScoreFilter{source: source, prog: prog}, nil
}

// Accept runs the filter against env. Evaluation errors count as a rejection.
func (f *ScoreFilter) Accept(env Env) (bool, error) {
	if f == nil {
		return true, nil
	}
	res, err := expr.Run(f.prog, env)
	if err != nil {
		return false, fmt.Errorf("could not run score filter %q: %w", f.source, err)
	}
	bRes, ok := res.(bool)
	return ok && bRes, nil
}

func (f *ScoreFilter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
