package eval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/syntax"
)

// BlockSource loads computation blocks by id. The store implements it.
type BlockSource interface {
	Block(ctx context.Context, id string) (ir.Block, bool, error)
}

// FieldTypes looks up field type configuration. Unknown names must resolve to
// a usable default rather than fail.
type FieldTypes interface {
	FieldType(name string) ir.FieldType
}

// Graph resolves imports against stored blocks: the imported field's block is
// loaded, parsed, wrapped in its field type's transform and evaluated in the
// import scope.
type Graph struct {
	blocks BlockSource
	types  FieldTypes
}

// NewGraph creates a block graph resolver. types may be nil (no transforms).
func NewGraph(blocks BlockSource, types FieldTypes) *Graph {
	return &Graph{blocks: blocks, types: types}
}

// Tree loads and parses the block of a field. A missing block yields an empty
// root.
func (g *Graph) Tree(ctx context.Context, field ids.FieldID) (*ir.Node, error) {
	block, ok, err := g.blocks.Block(ctx, ids.FieldBlockID(field))
	if err != nil {
		return nil, fmt.Errorf("load block for %s: %w", field, err)
	}
	if !ok {
		slog.Debug("import of missing field", "field", field)
		return ir.NewNode(ir.KindRoot), nil
	}
	return g.BlockTree(block)
}

// BlockTree parses a loaded block and applies its field type's transform.
func (g *Graph) BlockTree(block ir.Block) (*ir.Node, error) {
	tree, err := syntax.Parse(block.Value)
	if err != nil {
		return nil, fmt.Errorf("parse block %s: %w", block.ID, err)
	}
	if g.types == nil || block.Type == "" {
		return tree, nil
	}
	return ApplyTransform(tree, g.types.FieldType(block.Type)), nil
}

// Resolve is an ImportResolver over the graph.
func (g *Graph) Resolve(ctx context.Context, ref ImportRef) ([]ir.Value, error) {
	field, err := ids.ParseFieldID(ref.Import.Field)
	if err != nil {
		return nil, err
	}
	tree, err := g.Tree(ctx, field)
	if err != nil {
		return nil, err
	}
	return ref.Evaluate(ctx, tree)
}

// ApplyTransform wraps the children of root in the field type's transform
// node. Types without a transform leave the tree unchanged.
func ApplyTransform(root *ir.Node, ft ir.FieldType) *ir.Node {
	switch ft.Transform {
	case ir.KindGroup:
		return root
	case ir.KindSlug, ir.KindMerge, ir.KindArray:
		return ir.NewNode(ir.KindRoot, ir.NewNode(ft.Transform, root.Children...))
	default:
		slog.Warn("unsupported field transform", "type", ft.Name, "transform", ft.Transform)
		return root
	}
}

// Inputs loads the trees of fields for Server.EvaluateDocument, in order.
// A block that does not parse is carried as that field's Err; only store
// failures abort the batch.
func (g *Graph) Inputs(ctx context.Context, fields []ids.FieldID) ([]FieldInput, error) {
	out := make([]FieldInput, len(fields))
	for i, f := range fields {
		out[i] = FieldInput{Field: string(f)}
		tree, err := g.Tree(ctx, f)
		switch {
		case syntax.IsMalformed(err):
			out[i].Err = err
		case err != nil:
			return nil, err
		default:
			out[i].Root = tree
		}
	}
	return out, nil
}
