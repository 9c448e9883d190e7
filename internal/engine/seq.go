package engine

import "sync/atomic"

// Sequencer issues the global seq stamped on accepted entries and created
// documents. The log is read back in seq order, so replay sees entries in
// acceptance order.
type Sequencer struct {
	last atomic.Int64
}

// NewSequencer returns a sequencer whose first Stamp is last+1. Pass 0 for
// an empty store or the store's MaxSeq when resuming.
func NewSequencer(last int64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Stamp reserves the next seq.
func (s *Sequencer) Stamp() int64 {
	return s.last.Add(1)
}

// Last reports the most recent seq handed out, 0 if none.
func (s *Sequencer) Last() int64 {
	return s.last.Load()
}
