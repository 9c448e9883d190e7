// Package txn expresses edits as transactions: ordered, per-target lists of
// primitive operations.
//
// A Transaction is built once with Create and is immutable afterwards. On the
// wire an entry is a positional tuple [target, [ops...]] where a splice is
// [index, remove?, insert?] and a toggle is [name, value].
//
// Operations of one entry apply in order, each against the state left by the
// previous one. Within a splice, removal happens before insertion.
package txn
