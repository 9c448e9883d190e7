package engine

import (
	"sync"

	"github.com/roach88/storyflow/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSubmission is a client transaction to sequence.
	EventTypeSubmission EventType = iota + 1
	// EventTypeDocument is a document to create with its seeded blocks.
	EventTypeDocument
)

// DocumentInput is a document header plus the blocks it is seeded with.
type DocumentInput struct {
	Document ir.Document
	Blocks   []ir.Block
}

// Event is one unit of work for the Run loop. reply receives exactly one
// outcome.
type Event struct {
	Type       EventType
	Submission *Submission
	Document   *DocumentInput
	reply      chan outcome
}

type outcome struct {
	results  []EntryResult
	document ir.Document
	err      error
}

func (ev Event) answer(out outcome) {
	ev.reply <- out
}

// inbox collects events from any goroutine and hands them to the Run loop
// in arrival order, a batch at a time. It never blocks producers.
type inbox struct {
	mu      sync.Mutex
	pending []Event
	shut    bool
	wake    chan struct{} // cap 1; closed by shutdown
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

// push appends ev. It reports false once the inbox is shut.
func (in *inbox) push(ev Event) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.shut {
		return false
	}
	in.pending = append(in.pending, ev)
	select {
	case in.wake <- struct{}{}:
	default:
	}
	return true
}

// drain takes every pending event. shut is true once shutdown has run, in
// which case batch is always empty.
func (in *inbox) drain() (batch []Event, shut bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	batch, in.pending = in.pending, nil
	return batch, in.shut
}

// ready fires after a push and stays readable once the inbox is shut.
func (in *inbox) ready() <-chan struct{} {
	return in.wake
}

// shutdown refuses further pushes and returns the events nobody drained.
// Calling it again returns nil.
func (in *inbox) shutdown() []Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.shut {
		return nil
	}
	in.shut = true
	close(in.wake)
	left := in.pending
	in.pending = nil
	return left
}
