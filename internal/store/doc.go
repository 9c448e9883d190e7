// Package store provides SQLite-backed storage for storyflow.
//
// Tables:
//   - documents: document headers (folder, template, label)
//   - blocks: flat computation blocks keyed "documentId/fieldKey"
//   - document_values: literal tokens of each field, used by fetch filters
//   - targets: current state and version of every transaction target
//   - transactions: append-only log of accepted entries
//
// # Ordering
//
// All ordering uses seq (stamped by the engine's Sequencer), never wall time.
// Every multi-row read ends in ORDER BY seq ASC, id COLLATE BINARY ASC so
// results are identical across runs and replays.
//
// # Idempotency
//
// UNIQUE(target, client_id, client_seq) on transactions makes a re-sent
// entry a no-op; AppendEntry reports whether the row was new.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000ms
//   - foreign_keys=ON
//   - one open connection
//
// The store satisfies eval.BlockSource (Block) and eval.FetchResolver
// (Fetch); the evaluator never sees SQL.
package store
