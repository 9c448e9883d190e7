// Package testutil provides deterministic identifier sources for tests and
// scenario runs.
package testutil
