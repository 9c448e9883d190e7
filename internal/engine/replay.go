package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/storyflow/internal/ids"
	"github.com/roach88/storyflow/internal/ir"
	"github.com/roach88/storyflow/internal/store"
	"github.com/roach88/storyflow/internal/txn"
)

// Mismatch is a target whose stored state differs from the state rebuilt
// from the log.
type Mismatch struct {
	Target         string
	Reason         string
	StoredVersion  int64
	RebuiltVersion int64
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Entries    int
	Targets    int
	LastSeq    int64
	Mismatches []Mismatch
}

// Deterministic reports whether every stored target matched its rebuild.
func (r ReplayResult) Deterministic() bool {
	return len(r.Mismatches) == 0
}

type rebuilt struct {
	state   txn.State
	version int64
}

// Replay rebuilds every target by applying the log in seq order from empty
// states, then compares the result with the stored targets and, for field
// targets, the mirrored blocks. It never writes.
//
// An entry that no longer applies (wrong base version, range or bracket
// error) is an error: the log itself is inconsistent.
func Replay(ctx context.Context, s *store.Store) (ReplayResult, error) {
	log, err := s.ReadLog(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}

	states := make(map[string]*rebuilt)
	var result ReplayResult
	for _, entry := range log {
		if err := ctx.Err(); err != nil {
			return ReplayResult{}, err
		}
		cur, ok := states[entry.Target]
		if !ok {
			cur = &rebuilt{state: txn.State{Items: []ir.Value{}, Flags: map[string]ir.Value{}}}
			states[entry.Target] = cur
		}
		if entry.BaseVersion != cur.version {
			return ReplayResult{}, fmt.Errorf("replay seq %d: %w", entry.Seq,
				&OutOfOrderError{Target: entry.Target, Base: entry.BaseVersion, Current: cur.version})
		}
		next, err := txn.ApplyEntry(cur.state, entry.Entry())
		if err != nil {
			return ReplayResult{}, fmt.Errorf("replay seq %d: %w", entry.Seq, err)
		}
		cur.state = next
		cur.version = entry.Version
		result.Entries++
		result.LastSeq = entry.Seq
	}

	stored, err := s.ListTargets(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}
	result.Targets = len(stored)

	for _, rec := range stored {
		cur, ok := states[rec.Name]
		if !ok {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Target:        rec.Name,
				Reason:        "stored target has no log entries",
				StoredVersion: rec.Version,
			})
			continue
		}
		delete(states, rec.Name)
		if reason := compareState(rec.State, cur.state); reason != "" || rec.Version != cur.version {
			if reason == "" {
				reason = "version differs"
			}
			result.Mismatches = append(result.Mismatches, Mismatch{
				Target:         rec.Name,
				Reason:         reason,
				StoredVersion:  rec.Version,
				RebuiltVersion: cur.version,
			})
			continue
		}
		if reason, err := compareMirror(ctx, s, rec.Name, cur.state); err != nil {
			return ReplayResult{}, fmt.Errorf("replay: %w", err)
		} else if reason != "" {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Target:         rec.Name,
				Reason:         reason,
				StoredVersion:  rec.Version,
				RebuiltVersion: cur.version,
			})
		}
	}

	// Targets rebuilt from the log but missing from storage, in name order.
	missing := make([]string, 0, len(states))
	for name := range states {
		missing = append(missing, name)
	}
	slices.Sort(missing)
	for _, name := range missing {
		result.Mismatches = append(result.Mismatches, Mismatch{
			Target:         name,
			Reason:         "target missing from storage",
			RebuiltVersion: states[name].version,
		})
	}

	slog.Info("replay complete",
		"entries", result.Entries,
		"targets", result.Targets,
		"mismatches", len(result.Mismatches),
	)
	return result, nil
}

func compareState(stored, rebuilt txn.State) string {
	if !ir.Equal(ir.Array(stored.Items), ir.Array(rebuilt.Items)) {
		return "items differ"
	}
	if !ir.Equal(ir.Object(stored.Flags), ir.Object(rebuilt.Flags)) {
		return "flags differ"
	}
	return ""
}

func compareMirror(ctx context.Context, s *store.Store, target string, state txn.State) (string, error) {
	mirror, err := mirrorBlock(target, state)
	if err != nil || mirror == nil {
		return "", err
	}
	block, ok, err := s.Block(ctx, mirror.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "field block missing", nil
	}
	want, err := ir.ComputationHash(mirror.Value)
	if err != nil {
		return "", err
	}
	got, err := ir.ComputationHash(block.Value)
	if err != nil {
		return "", err
	}
	if want != got {
		return "field block differs", nil
	}
	return "", nil
}

// FieldTargets lists the field targets of a document among the stored
// targets, in seq order.
func FieldTargets(ctx context.Context, s *store.Store, doc ids.DocumentID) ([]store.TargetRecord, error) {
	all, err := s.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	out := []store.TargetRecord{}
	for _, rec := range all {
		kind, id, err := ids.ParseTarget(rec.Name)
		if err != nil || kind != ids.TargetField {
			continue
		}
		field, err := ids.ParseFieldID(id)
		if err != nil || field.Document() != doc {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
