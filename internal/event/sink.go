package event

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultMaxLine is the sink's per-line byte limit. Records whose serialized
// form exceeds it are re-marshaled after clamping their leaf string fields.
const DefaultMaxLine = 8192

// Tap receives every record after it has been written; the value passed is
// the record itself, not a copy. Taps must
// not block: a session's emit path runs through here inline.
type Tap func(Record)

// Sink serializes records as single JSON lines on a stream. It is write-only;
// business logic never reads from it and no acknowledgement exists.
type Sink struct {
	mu      sync.Mutex
	w       io.Writer
	maxLine int
	log     zerolog.Logger

	tapMu sync.RWMutex
	taps  []Tap
}

// NewSink returns a sink writing to w with the default line limit.
func NewSink(w io.Writer, log zerolog.Logger) *Sink {
	return &Sink{w: w, maxLine: DefaultMaxLine, log: log}
}

// Tap registers fn to observe every subsequent record.
func (s *Sink) Tap(fn Tap) {
	s.tapMu.Lock()
	s.taps = append(s.taps, fn)
	s.tapMu.Unlock()
}

// Emit writes one record as a JSON line. Serialization failures are logged
// and swallowed: an event write must never break the session emitting it.
func (s *Sink) Emit(r Record) {
	line, err := json.Marshal(r)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", string(r.Kind())).Msg("event marshal failed")
		return
	}
	if len(line) > s.maxLine {
		r.clamp()
		if line, err = json.Marshal(r); err != nil {
			s.log.Error().Err(err).Str("event_type", string(r.Kind())).Msg("event marshal failed after clamp")
			return
		}
	}

	s.mu.Lock()
	_, werr := s.w.Write(append(line, '\n'))
	s.mu.Unlock()
	if werr != nil {
		s.log.Error().Err(werr).Msg("event write failed")
	}

	s.tapMu.RLock()
	taps := s.taps
	s.tapMu.RUnlock()
	for _, fn := range taps {
		fn(r)
	}
}

// Buffer is a bounded in-memory ring of recent records, readable through the
// ops server. It backs the in-process metrics accessor and nothing else.
type Buffer struct {
	mu   sync.Mutex
	ring []Record
	next int
	full bool
}

// NewBuffer returns a ring holding at most n records.
func NewBuffer(n int) *Buffer {
	return &Buffer{ring: make([]Record, n)}
}

// Add records r, evicting the oldest entry once the ring is full.
func (b *Buffer) Add(r Record) {
	b.mu.Lock()
	b.ring[b.next] = r
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

// Snapshot returns the buffered records oldest-first.
func (b *Buffer) Snapshot() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]Record, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]Record, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}
