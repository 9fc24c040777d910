// Package transcript buffers conversation turns per room and flushes them to
// the persistence collaborator on room teardown.
package transcript

import (
	"context"
	"sync"

	"roomvoice/core"
)

// Persister is the external storage collaborator.
type Persister interface {
	SaveTranscript(ctx context.Context, roomID string, turns []core.ConversationTurn) error
}

// Sink accumulates turns in memory until flush. Append never blocks on I/O.
type Sink struct {
	persister Persister
	logger    *core.Logger

	mu     sync.Mutex
	bufs   map[string][]core.ConversationTurn
	closed map[string]struct{}
}

func NewSink(persister Persister, logger *core.Logger) *Sink {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Sink{
		persister: persister,
		logger:    logger.With(map[string]interface{}{"component": "transcript"}),
		bufs:      make(map[string][]core.ConversationTurn),
		closed:    make(map[string]struct{}),
	}
}

// Open clears the closed marker for roomID. Called when a room starts so a
// reused room name accumulates turns again.
func (s *Sink) Open(roomID string) {
	s.mu.Lock()
	delete(s.closed, roomID)
	s.mu.Unlock()
}

// Append enqueues one turn for roomID. Turns arriving after the room's flush
// are dropped; re-buffering them would leave turns with no remaining flush to
// deliver them.
func (s *Sink) Append(roomID string, turn core.ConversationTurn) {
	s.mu.Lock()
	if _, ok := s.closed[roomID]; ok {
		s.mu.Unlock()
		s.logger.Warn("turn arrived after flush, dropping", "room", roomID)
		return
	}
	s.bufs[roomID] = append(s.bufs[roomID], turn)
	s.mu.Unlock()
}

// Buffered returns a copy of the turns currently queued for roomID.
func (s *Sink) Buffered(roomID string) []core.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.ConversationTurn(nil), s.bufs[roomID]...)
}

// Flush hands the room's buffered turns to the persistence collaborator. The
// buffer is removed before the save: if persistence is down the turns are
// lost, which is the deliberate trade-off here. Keeping buffers alive for
// rooms whose persistence collaborator is unavailable grows memory without
// bound; dropping a transcript is the lesser failure.
func (s *Sink) Flush(ctx context.Context, roomID string) error {
	s.mu.Lock()
	turns := s.bufs[roomID]
	delete(s.bufs, roomID)
	s.closed[roomID] = struct{}{}
	s.mu.Unlock()

	if len(turns) == 0 {
		return nil
	}
	if err := s.persister.SaveTranscript(ctx, roomID, turns); err != nil {
		return &core.PersistenceError{RoomID: roomID, Err: err}
	}
	s.logger.Info("transcript flushed", "room", roomID, "turns", len(turns))
	return nil
}
