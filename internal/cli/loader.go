package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/storyflow/internal/compiler"
	"github.com/roach88/storyflow/internal/engine"
	"github.com/roach88/storyflow/internal/store"
)

// CLI error codes.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeNotFound     = "E005" // Path or document not found
	ErrCodeConfigFailed = "E006" // Configuration did not compile
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeReadFailed   = "E008" // Input file unreadable
	ErrCodeInvalidInput = "E009" // Input did not decode
	ErrCodeStoreFailed  = "E010" // Database open or query failed

	ErrCodeValidation  = "E100" // Configuration has validation errors
	ErrCodeMalformed   = "E200" // Token stream is malformed
	ErrCodeRejected    = "E300" // One or more entries were rejected
	ErrCodeNonDetermin = "E400" // Replay did not reproduce stored state
	ErrCodeTestsFailed = "E500" // Scenarios failed
)

// loadConfig compiles the configuration in dir. An empty dir yields the
// built-in registry with only the default field type.
func loadConfig(dir string) (*compiler.Registry, error) {
	if dir == "" {
		return compiler.NewRegistry(), nil
	}
	reg, err := compiler.Load(dir)
	if err != nil {
		return nil, err
	}
	if errs := compiler.Validate(reg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errs[0])
	}
	return reg, nil
}

// openStore opens an existing database, or creates one when create is set.
func openStore(path string, create bool) (*store.Store, error) {
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
	}
	return store.Open(path)
}

// session is a running engine resumed over a store. Commands that write go
// through it so every change is sequenced by the single writer.
type session struct {
	store  *store.Store
	engine *engine.Engine
	cancel context.CancelFunc
	done   chan error
}

// startSession resumes the engine from the store's log and runs it until
// close is called.
func startSession(ctx context.Context, st *store.Store, opts ...engine.EngineOption) (*session, error) {
	eng, err := engine.Resume(ctx, st, engine.UUIDv7Generator{}, opts...)
	if err != nil {
		return nil, fmt.Errorf("resuming engine: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &session{store: st, engine: eng, cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- eng.Run(ctx) }()
	slog.Debug("engine started", "last_seq", eng.Sequencer().Last())
	return s, nil
}

func (s *session) close() error {
	s.cancel()
	err := <-s.done
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
