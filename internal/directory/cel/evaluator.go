// Package cel evaluates row predicates for backends that have no query
// language of their own: the display-name filter and user-supplied CEL
// expressions over contact_id, display_name, kind and data.
package cel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

var (
	ErrInvalidExpression = errors.New("invalid CEL expression")
	ErrEvaluationFailed  = errors.New("CEL evaluation failed")
)

// nameFilter matches the display-name substring filter, ASCII case-insensitively.
const nameFilter = `display_name.lowerAscii().contains(match.lowerAscii())`

// Evaluator compiles and evaluates CEL expressions against rows.
type Evaluator struct {
	env   *cel.Env
	cache sync.Map // map[string]cel.Program
}

// NewEvaluator creates an evaluator with the row schema declared.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("contact_id", cel.StringType),
		cel.Variable("display_name", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("match", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks an expression. Programs are cached by source.
func (e *Evaluator) Compile(_ context.Context, expression string) (cel.Program, error) {
	if cached, ok := e.cache.Load(expression); ok {
		if prg, ok := cached.(cel.Program); ok {
			return prg, nil
		}
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	e.cache.Store(expression, prg)
	return prg, nil
}

// Eval runs a compiled program against a row.
func (e *Evaluator) Eval(_ context.Context, prg cel.Program, row *physical.Row, match string) (bool, error) {
	data := row.Data
	if data == nil {
		data = map[string]string{}
	}
	out, _, err := prg.Eval(map[string]any{
		"contact_id":   row.ContactID,
		"display_name": row.DisplayName,
		"kind":         row.Kind,
		"data":         data,
		"match":        match,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression must return bool, got %T", ErrEvaluationFailed, out.Value())
	}
	return result, nil
}

// ValidateExpression checks that an expression compiles.
func (e *Evaluator) ValidateExpression(ctx context.Context, expression string) error {
	_, err := e.Compile(ctx, expression)
	return err
}

// Selector decides row membership for one query.
type Selector struct {
	eval  *Evaluator
	ids   map[string]struct{}
	match string
	name  cel.Program
	expr  cel.Program

	evalErrors int
}

// Selector prepares the predicate for opts. The returned selector is not safe
// for concurrent use; each query gets its own.
func (e *Evaluator) Selector(ctx context.Context, opts *physical.QueryOptions) (*Selector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := &Selector{eval: e}
	if opts == nil {
		return s, nil
	}

	if len(opts.Selection.IDs) > 0 {
		s.ids = make(map[string]struct{}, len(opts.Selection.IDs))
		for _, id := range opts.Selection.IDs {
			s.ids[id] = struct{}{}
		}
	}
	if opts.Selection.NameContains != "" {
		prg, err := e.Compile(ctx, nameFilter)
		if err != nil {
			return nil, err
		}
		s.name = prg
		s.match = opts.Selection.NameContains
	}
	if opts.Expression != "" {
		prg, err := e.Compile(ctx, opts.Expression)
		if err != nil {
			return nil, err
		}
		s.expr = prg
	}
	return s, nil
}

// IDs returns the contact ids the selection is restricted to, or nil.
func (s *Selector) IDs() map[string]struct{} { return s.ids }

// MatchAll reports whether every row matches.
func (s *Selector) MatchAll() bool {
	return s.ids == nil && s.name == nil && s.expr == nil
}

// Match reports whether row is selected. Rows whose evaluation fails are
// treated as not matching.
func (s *Selector) Match(ctx context.Context, row *physical.Row) bool {
	if s.ids != nil {
		if _, ok := s.ids[row.ContactID]; !ok {
			return false
		}
	}
	for _, prg := range []cel.Program{s.name, s.expr} {
		if prg == nil {
			continue
		}
		ok, err := s.eval.Eval(ctx, prg, row, s.match)
		if err != nil {
			s.evalErrors++
			if s.evalErrors <= 5 {
				slog.DebugContext(ctx, "row predicate failed", "contact_id", row.ContactID, "error", err)
			}
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}
