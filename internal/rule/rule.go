// Package rule compiles and evaluates promotion rule expressions.
//
// Expressions are written in CEL and are evaluated against the facts of a
// single order, for example:
//
//	order_type == "delivery" && "cake-1" in products && subtotal >= 20000
package rule

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"
)

// Facts is the order view a rule expression can observe.
type Facts struct {
	Subtotal   int64
	Items      int64
	OrderType  string
	Products   []string
	Categories []string
	Customer   string
}

func (f Facts) activation() map[string]any {
	products := f.Products
	if products == nil {
		products = []string{}
	}
	categories := f.Categories
	if categories == nil {
		categories = []string{}
	}
	return map[string]any{
		"subtotal":   f.Subtotal,
		"items":      f.Items,
		"order_type": f.OrderType,
		"products":   products,
		"categories": categories,
		"customer":   f.Customer,
	}
}

var environment = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subtotal", cel.IntType),
		cel.Variable("items", cel.IntType),
		cel.Variable("order_type", cel.StringType),
		cel.Variable("products", cel.ListType(cel.StringType)),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("customer", cel.StringType),
	)
})

// Program is a compiled rule expression. A Program is immutable and safe for
// concurrent use.
type Program struct {
	source string
	prg    cel.Program
}

// Compile parses and type-checks expr. The expression must produce a bool.
func Compile(expr string) (*Program, error) {
	env, err := environment()
	if err != nil {
		return nil, errors.Wrap(err, "create rule environment")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile rule %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build rule program %q", expr)
	}

	return &Program{source: expr, prg: prg}, nil
}

// Source returns the expression the program was compiled from.
func (p *Program) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Eval runs the program against facts. A nil Program always matches.
func (p *Program) Eval(f Facts) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(f.activation())
	if err != nil {
		return false, errors.Wrapf(err, "evaluate rule %q", p.source)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("rule %q produced %T", p.source, out.Value())
	}
	return matched, nil
}

// Matches reports whether the program accepts facts. Evaluation errors count
// as a non-match.
func (p *Program) Matches(f Facts) bool {
	ok, err := p.Eval(f)
	return err == nil && ok
}
