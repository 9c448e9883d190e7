// Package engine sequences transactions against stored targets.
//
// Single-Writer Event Loop:
// Submissions and document creations are enqueued from any goroutine and
// processed one at a time by Run. This gives:
//   - one global order for all accepted entries (the seq)
//   - version checks that cannot race
//   - a log that replays to the same states
//
// Entry Processing:
//  1. Anti-replay: an entry whose (target, client, clientSeq) is already in
//     the log returns the recorded result and changes nothing.
//  2. Version check: BaseVersion must equal the target's stored version,
//     else *OutOfOrderError and no mutation.
//  3. Apply: txn.ApplyEntry computes the next state (range and bracket
//     checks included).
//  4. Persist: log row, target state and, for field targets, the mirrored
//     computation block are written in one SQLite transaction.
//
// Entries of one submission are independent: a rejected entry does not
// undo or block the others.
//
// Document creation is expressed as transactions too: each seeded field
// gets a log entry from the system client, so Replay rebuilds every target
// from the log alone.
//
// Sequencing:
// Every accepted entry and created document is stamped by the Sequencer.
// Wall-clock time is never used for ordering.
package engine
