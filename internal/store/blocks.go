package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/querysql"
)

// WriteBlock upserts a computation block and rewrites its literal
// projection. An empty Type keeps the stored one. Returns false when the
// stored block already has the same content.
func (s *Store) WriteBlock(ctx context.Context, b ir.Block, seq int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write block: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	changed, err := writeBlockTx(ctx, tx, b, seq)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write block: commit: %w", err)
	}
	return changed, nil
}

func writeBlockTx(ctx context.Context, tx *sql.Tx, b ir.Block, seq int64) (bool, error) {
	doc, key, suffix, err := ids.ParseBlockID(b.ID)
	if err != nil {
		return false, fmt.Errorf("write block: %w", err)
	}
	data, err := ir.MarshalComputation(b.Value)
	if err != nil {
		return false, fmt.Errorf("write block %s: %w", b.ID, err)
	}
	hash, err := ir.ComputationHash(b.Value)
	if err != nil {
		return false, fmt.Errorf("write block %s: %w", b.ID, err)
	}

	var oldHash, oldType string
	err = tx.QueryRowContext(ctx, `SELECT hash, type FROM blocks WHERE id = ?`, b.ID).Scan(&oldHash, &oldType)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("write block %s: %w", b.ID, err)
	case oldHash == hash && (b.Type == "" || b.Type == oldType):
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (id, document_id, field_key, type, value, hash, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = CASE WHEN excluded.type = '' THEN blocks.type ELSE excluded.type END,
			value = excluded.value,
			hash = excluded.hash,
			seq = excluded.seq
	`, b.ID, string(doc), key, b.Type, string(data), hash, seq)
	if err != nil {
		return false, fmt.Errorf("write block %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_values WHERE block_id = ?`, b.ID); err != nil {
		return false, fmt.Errorf("write block %s: clear values: %w", b.ID, err)
	}
	// Only whole-field blocks project; sub-expression blocks carry a suffix.
	if len(suffix) > 0 {
		return true, nil
	}
	for pos, lit := range literals(b.Value) {
		kind, text, num := projectLiteral(lit)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_values (block_id, document_id, field_key, position, kind, text, num)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, b.ID, string(doc), key, pos, kind, text, num)
		if err != nil {
			return false, fmt.Errorf("write block %s: value %d: %w", b.ID, pos, err)
		}
	}
	return true, nil
}

// literals returns the literal tokens of a stream in order.
func literals(c ir.Computation) []ir.Value {
	var out []ir.Value
	for _, tok := range c {
		if lit, ok := tok.(ir.Literal); ok {
			out = append(out, lit.Value)
		}
	}
	return out
}

func projectLiteral(v ir.Value) (kind string, text, num any) {
	switch val := v.(type) {
	case ir.Number:
		return querysql.KindNumber, nil, float64(val)
	case ir.Bool:
		if val {
			return querysql.KindBool, nil, float64(1)
		}
		return querysql.KindBool, nil, float64(0)
	default:
		return querysql.KindText, ir.Stringify(v), nil
	}
}

// Block loads a block by id. It satisfies eval.BlockSource.
func (s *Store) Block(ctx context.Context, id string) (ir.Block, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, value FROM blocks WHERE id = ?`, id)
	b, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Block{}, false, nil
	}
	if err != nil {
		return ir.Block{}, false, fmt.Errorf("read block %s: %w", id, err)
	}
	return b, true, nil
}

// DocumentBlocks returns every block of a document ordered by seq, then id.
func (s *Store) DocumentBlocks(ctx context.Context, doc string) ([]ir.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, value
		FROM blocks
		WHERE document_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, doc)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	blocks := []ir.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

func scanBlock(row rowScanner) (ir.Block, error) {
	var b ir.Block
	var value string
	if err := row.Scan(&b.ID, &b.Type, &value); err != nil {
		return ir.Block{}, err
	}
	c, err := ir.UnmarshalComputation([]byte(value))
	if err != nil {
		return ir.Block{}, err
	}
	b.Value = c
	return b, nil
}
