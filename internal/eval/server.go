package eval

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/storyflow/internal/ir"
)

// Server is the concurrent evaluator. Siblings are evaluated in parallel and
// joined before their parent combines them.
//
// Thread-safety: a Server is stateless apart from its resolvers and may be
// shared across requests. Per-request state lives in the Scope.
type Server struct {
	w *walker
}

// NewServer creates a server evaluator.
func NewServer(imports ImportResolver, fetches FetchResolver, opts ...Option) *Server {
	return &Server{w: newWalker(true, imports, fetches, opts)}
}

// Evaluate computes the value array of a tree in a fresh request scope with
// its own fetch cache.
func (s *Server) Evaluate(ctx context.Context, root *ir.Node) ([]ir.Value, error) {
	return s.EvaluateIn(ctx, root, NewScope().WithFetchCache(NewFetchCache()))
}

// EvaluateIn computes the value array of an element in scope.
func (s *Server) EvaluateIn(ctx context.Context, el ir.Element, scope *Scope) ([]ir.Value, error) {
	return s.w.eval(ctx, el, scope)
}

// FieldInput is one field of a document to evaluate. Err marks a field
// whose block could not be parsed; it is reported without evaluation.
type FieldInput struct {
	Field string
	Root  *ir.Node
	Err   error
}

// FieldResult is the outcome of one field. Err is set instead of Values when
// that field failed.
type FieldResult struct {
	Field  string
	Values []ir.Value
	Err    error
}

// EvaluateDocument evaluates all fields concurrently. Each field enters its
// own id on the chain, so a self-import is a cycle. A failing field does not
// stop its siblings; results are returned in input order.
func (s *Server) EvaluateDocument(ctx context.Context, fields []FieldInput, scope *Scope) []FieldResult {
	if scope.FetchCache() == nil {
		scope = scope.WithFetchCache(NewFetchCache())
	}

	results := make([]FieldResult, len(fields))
	var g errgroup.Group
	for i, f := range fields {
		g.Go(func() error {
			results[i] = FieldResult{Field: f.Field}
			if f.Err != nil {
				results[i].Err = f.Err
				return nil
			}

			child, err := scope.Enter(f.Field, nil)
			if err != nil {
				results[i].Err = err
				return nil
			}
			vals, err := s.EvaluateIn(ctx, f.Root, child)
			if err != nil {
				slog.Warn("field evaluation failed", "field", f.Field, "error", err)
				results[i].Err = err
				return nil
			}
			results[i].Values = vals
			return nil
		})
	}
	_ = g.Wait()
	return results
}
