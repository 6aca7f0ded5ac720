// Package cel compiles the per-forward announce filters. A filter is a CEL
// expression over the announced namespace and the forward target URL, e.g.
// `namespace.startsWith("live/") && target != "https://edge-a:4443"`.
package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Variables available to filter expressions.
const (
	VarNamespace = "namespace"
	VarTarget    = "target"
)

// Filter is a compiled announce filter.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses and type-checks expr. The expression must evaluate to a
// bool.
func Compile(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarNamespace, cel.StringType),
		cel.Variable(VarTarget, cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("cel compile: %q yields %s, want bool", expr, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Filter{expr: expr, program: prog}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match reports whether namespace should be forwarded to target. Evaluation
// errors count as no match. A nil filter matches everything.
func (f *Filter) Match(namespace, target string) bool {
	if f == nil {
		return true
	}
	out, _, err := f.program.Eval(map[string]any{
		VarNamespace: namespace,
		VarTarget:    target,
	})
	if err != nil || out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
