package events

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/rebalancer/internal/domain"
)

// diagRecord is the MessagePack-encoded shape written to the secondary
// diagnostic channel.
type diagRecord struct {
	Timestamp int64                  `msgpack:"ts"`
	Type      string                 `msgpack:"type"`
	SessionID string                 `msgpack:"session_id"`
	TraceID   string                 `msgpack:"trace_id"`
	Asset     string                 `msgpack:"asset"`
	Reason    string                 `msgpack:"reason"`
	Before    map[string]interface{} `msgpack:"before,omitempty"`
	After     map[string]interface{} `msgpack:"after,omitempty"`
	Metadata  map[string]interface{} `msgpack:"metadata,omitempty"`
}

// Sink is the default domain.EventSink implementation: best-effort async
// delivery to a Bus plus an optional MessagePack-encoded diagnostic
// channel. An event-sink failure must never propagate to the caller, so
// every failure path here only logs.
type Sink struct {
	bus     *Bus
	log     zerolog.Logger
	diag    io.Writer
	diagMu  sync.Mutex
	queue   chan domain.Event
	closeWG sync.WaitGroup
}

// NewSink builds a Sink publishing to bus and, if diag is non-nil, also
// MessagePack-encoding every event to diag. bufferSize bounds the async
// delivery queue; once full, further events are dropped and logged rather
// than blocking the rebalance that is emitting them.
func NewSink(bus *Bus, log zerolog.Logger, diag io.Writer, bufferSize int) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &Sink{
		bus:   bus,
		log:   log.With().Str("component", "event_sink").Logger(),
		diag:  diag,
		queue: make(chan domain.Event, bufferSize),
	}
	s.closeWG.Add(1)
	go s.drain()
	return s
}

// Emit implements domain.EventSink. Never blocks: if the internal queue is
// full the event is dropped and a warning is logged.
func (s *Sink) Emit(ev domain.Event) {
	select {
	case s.queue <- ev:
	default:
		s.log.Warn().Str("event_type", string(ev.Type)).Msg("event sink queue full; dropping event")
	}
}

// Close stops accepting new events and waits for the queue to drain.
func (s *Sink) Close() {
	close(s.queue)
	s.closeWG.Wait()
}

func (s *Sink) drain() {
	defer s.closeWG.Done()
	for ev := range s.queue {
		s.bus.Emit(ev)
		s.writeDiag(ev)
	}
}

func (s *Sink) writeDiag(ev domain.Event) {
	if s.diag == nil {
		return
	}
	rec := diagRecord{
		Timestamp: ev.Timestamp.Unix(),
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		TraceID:   ev.TraceID,
		Asset:     string(ev.Asset),
		Reason:    ev.Reason,
		Before:    ev.Before,
		After:     ev.After,
		Metadata:  ev.Metadata,
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode event for diagnostic channel")
		return
	}
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	if _, err := s.diag.Write(data); err != nil {
		s.log.Warn().Err(err).Msg("failed to write event to diagnostic channel")
	}
}
