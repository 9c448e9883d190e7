package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/txn"
)

// TargetRecord is the stored state of a transaction target.
type TargetRecord struct {
	Name    string
	Version int64
	State   txn.State
	Seq     int64
}

// LogEntry is one accepted transaction entry. Version is the target
// version the entry produced (BaseVersion + 1).
type LogEntry struct {
	Seq         int64
	Target      string
	ClientID    string
	ClientSeq   int64
	BaseVersion int64
	Version     int64
	Operations  []txn.Operation
	Hash        string
}

// Entry returns the transaction entry the log row records.
func (e LogEntry) Entry() txn.Entry {
	return txn.Entry{Target: e.Target, Operations: e.Operations}
}

// VersionConflictError reports an append whose base version no longer
// matches the stored target.
type VersionConflictError struct {
	Target  string
	Base    int64
	Current int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("target %s is at version %d, entry is based on %d", e.Target, e.Current, e.Base)
}

// ReadTarget loads a target. A target that was never written is at
// version 0 with an empty state.
func (s *Store) ReadTarget(ctx context.Context, name string) (TargetRecord, error) {
	return readTarget(ctx, s.db, name)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readTarget(ctx context.Context, q queryRower, name string) (TargetRecord, error) {
	var rec TargetRecord
	var items, flags string
	err := q.QueryRowContext(ctx, `
		SELECT name, version, items, flags, seq FROM targets WHERE name = ?
	`, name).Scan(&rec.Name, &rec.Version, &items, &flags, &rec.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return TargetRecord{
			Name:  name,
			State: txn.State{Items: []ir.Value{}, Flags: map[string]ir.Value{}},
		}, nil
	}
	if err != nil {
		return TargetRecord{}, fmt.Errorf("read target %s: %w", name, err)
	}
	rec.State, err = unmarshalState(items, flags)
	if err != nil {
		return TargetRecord{}, fmt.Errorf("read target %s: %w", name, err)
	}
	return rec, nil
}

// ListTargets returns every stored target ordered by seq, then name.
func (s *Store) ListTargets(ctx context.Context) ([]TargetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, items, flags, seq
		FROM targets
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	records := []TargetRecord{}
	for rows.Next() {
		var rec TargetRecord
		var items, flags string
		if err := rows.Scan(&rec.Name, &rec.Version, &items, &flags, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if rec.State, err = unmarshalState(items, flags); err != nil {
			return nil, fmt.Errorf("target %s: %w", rec.Name, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return records, nil
}

// FindEntry looks up an applied entry by its anti-replay key.
func (s *Store) FindEntry(ctx context.Context, target, clientID string, clientSeq int64) (LogEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, target, client_id, client_seq, base_version, version, operations, entry_hash
		FROM transactions
		WHERE target = ? AND client_id = ? AND client_seq = ?
	`, target, clientID, clientSeq)
	e, err := scanLogEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LogEntry{}, false, nil
	}
	if err != nil {
		return LogEntry{}, false, fmt.Errorf("find entry: %w", err)
	}
	return e, true, nil
}

// AppendEntry records an accepted entry and the target state it produced in
// one SQLite transaction. mirror, when set, is the computation block the
// target projects to and is written in the same transaction.
//
// Uses ON CONFLICT(target, client_id, client_seq) DO NOTHING: a re-sent
// entry returns inserted=false and changes nothing. A base version that no
// longer matches the stored target returns *VersionConflictError.
func (s *Store) AppendEntry(ctx context.Context, e LogEntry, next txn.State, mirror *ir.Block) (inserted bool, err error) {
	opsJSON, err := marshalOperations(e.Operations)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}
	itemsJSON, err := marshalItems(next.Items)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}
	flagsJSON, err := marshalFlags(next.Flags)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append entry: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := readTarget(ctx, tx, e.Target)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
		(seq, target, client_id, client_seq, base_version, version, operations, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, client_id, client_seq) DO NOTHING
	`, e.Seq, e.Target, e.ClientID, e.ClientSeq, e.BaseVersion, e.Version, opsJSON, e.Hash)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append entry: rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if current.Version != e.BaseVersion {
		return false, &VersionConflictError{Target: e.Target, Base: e.BaseVersion, Current: current.Version}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO targets (name, version, items, flags, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			items = excluded.items,
			flags = excluded.flags,
			seq = excluded.seq
	`, e.Target, e.Version, itemsJSON, flagsJSON, e.Seq)
	if err != nil {
		return false, fmt.Errorf("append entry: write target: %w", err)
	}

	if mirror != nil {
		if _, err := writeBlockTx(ctx, tx, *mirror, e.Seq); err != nil {
			return false, fmt.Errorf("append entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append entry: commit: %w", err)
	}
	return true, nil
}

// ReadLog returns the whole transaction log in seq order.
func (s *Store) ReadLog(ctx context.Context) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, target, client_id, client_seq, base_version, version, operations, entry_hash
		FROM transactions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

// MaxSeq returns the highest seq stamped on any row, so a restarted engine
// can resume its seqs after it.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(seq) FROM transactions), 0),
			COALESCE((SELECT MAX(seq) FROM documents), 0),
			COALESCE((SELECT MAX(seq) FROM blocks), 0)
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq, nil
}

func scanLogEntry(row rowScanner) (LogEntry, error) {
	var e LogEntry
	var ops string
	if err := row.Scan(&e.Seq, &e.Target, &e.ClientID, &e.ClientSeq, &e.BaseVersion, &e.Version, &ops, &e.Hash); err != nil {
		return LogEntry{}, err
	}
	parsed, err := unmarshalOperations(ops)
	if err != nil {
		return LogEntry{}, err
	}
	e.Operations = parsed
	return e, nil
}
