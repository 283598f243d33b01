package gate

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// PolicyRule is an operator-authored CEL predicate over gate metrics. A rule
// evaluating true adds its name to the block reasons (Block) or warnings.
//
// Available variables: rc, apr, fr (double; -1.0 when not computed),
// missing_p0 (int), runs (int).
type PolicyRule struct {
	Name  string `json:"name" yaml:"name"`
	Expr  string `json:"expr" yaml:"expr"`
	Block bool   `json:"block" yaml:"block"`
}

type compiledRule struct {
	name  string
	block bool
	prg   cel.Program
}

func policyEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("rc", cel.DoubleType),
		cel.Variable("apr", cel.DoubleType),
		cel.Variable("fr", cel.DoubleType),
		cel.Variable("missing_p0", cel.IntType),
		cel.Variable("runs", cel.IntType),
	)
}

func compileRules(rules []PolicyRule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := policyEnv()
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("policy rule with empty name")
		}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile policy rule %q: %w", r.Name, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("program policy rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, block: r.Block, prg: prg})
	}
	return compiled, nil
}

// evalRules runs every compiled rule against the metrics. A rule that
// errors or yields a non-bool is reported as a warning rather than silently
// dropped; policy mistakes should be visible in the gate output.
func (e *Evaluator) evalRules(m Metrics, history History) (blocks, warns []string) {
	if len(e.program) == 0 {
		return nil, nil
	}

	fr := -1.0
	if m.FR != nil {
		fr = *m.FR
	}
	input := map[string]any{
		"rc":         m.RC,
		"apr":        m.APR,
		"fr":         fr,
		"missing_p0": len(m.MissingP0),
		"runs":       history.Runs,
	}

	for _, r := range e.program {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			warns = append(warns, fmt.Sprintf("policy rule %q failed to evaluate: %v", r.name, err))
			continue
		}
		hit, ok := out.Value().(bool)
		if !ok {
			warns = append(warns, fmt.Sprintf("policy rule %q did not yield a boolean", r.name))
			continue
		}
		if !hit {
			continue
		}
		msg := fmt.Sprintf("policy rule %q triggered", r.name)
		if r.block {
			blocks = append(blocks, msg)
		} else {
			warns = append(warns, msg)
		}
	}
	return blocks, warns
}
