package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/queryir"
)

// WriteDocument inserts a document header.
// Uses ON CONFLICT(id) DO NOTHING; returns whether a row was inserted.
func (s *Store) WriteDocument(ctx context.Context, doc ir.Document) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, folder_id, template_id, label, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, doc.ID, doc.FolderID, doc.TemplateID, doc.Label, doc.Seq)
	if err != nil {
		return false, fmt.Errorf("write document: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write document: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReadDocument loads one document header.
// Returns sql.ErrNoRows (wrapped) if it does not exist.
func (s *Store) ReadDocument(ctx context.Context, id string) (ir.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, template_id, label, seq
		FROM documents
		WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return ir.Document{}, fmt.Errorf("read document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns every document ordered by seq, then id.
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ListDocuments(ctx context.Context) ([]ir.Document, error) {
	return s.queryDocuments(ctx, `
		SELECT id, folder_id, template_id, label, seq
		FROM documents
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// QueryDocuments runs a document query through the SQL compiler.
func (s *Store) QueryDocuments(ctx context.Context, q queryir.Query) ([]ir.Document, error) {
	if result := queryir.Validate(q); !result.Valid {
		return nil, fmt.Errorf("invalid query: %s", strings.Join(result.Problems, "; "))
	}
	query, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return s.queryDocuments(ctx, query, params...)
}

// Fetch resolves an evaluated fetcher to document objects. It satisfies
// eval.FetchResolver.
func (s *Store) Fetch(ctx context.Context, fs ir.FilterSet) ([]ir.Object, error) {
	docs, err := s.QueryDocuments(ctx, queryir.FromFilterSet(fs))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	slog.Debug("fetch resolved", "filters", len(fs.Filters), "documents", len(docs))

	out := make([]ir.Object, len(docs))
	for i, doc := range docs {
		out[i] = DocumentObject(doc)
	}
	return out, nil
}

// DocumentObject is the value a fetched document evaluates to. "type" is
// the template id, which render uses to decide inline display.
func DocumentObject(doc ir.Document) ir.Object {
	return ir.Object{
		"id":     ir.String(doc.ID),
		"label":  ir.String(doc.Label),
		"folder": ir.String(doc.FolderID),
		"type":   ir.String(doc.TemplateID),
	}
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]ir.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []ir.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (ir.Document, error) {
	var doc ir.Document
	if err := row.Scan(&doc.ID, &doc.FolderID, &doc.TemplateID, &doc.Label, &doc.Seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Document{}, err
		}
		return ir.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}
