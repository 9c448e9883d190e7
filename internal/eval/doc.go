// Package eval computes value arrays from syntax trees.
//
// Two evaluators share one set of per-kind rules:
//
//   - Client is synchronous. Imports are looked up from state that is already
//     materialized in memory and fetch results come from a prefetched map.
//     It never starts a goroutine.
//   - Server takes a context, fans sibling subtrees out concurrently with
//     errgroup and joins them before the parent combines. Import and fetch
//     resolution may perform I/O.
//
// Both track the import chain in the Scope. Importing a field that is already
// on the chain fails with CyclicImportError before any recursion happens.
//
// Fetch results are memoized in a FetchCache that belongs to one request and
// is passed in explicitly through the Scope. There is no process-wide cache.
package eval
