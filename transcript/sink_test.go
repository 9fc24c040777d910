package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomvoice/core"
)

type scriptedPersister struct {
	mu    sync.Mutex
	err   error
	calls int
	last  []core.ConversationTurn
}

func (p *scriptedPersister) SaveTranscript(ctx context.Context, roomID string, turns []core.ConversationTurn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = append([]core.ConversationTurn(nil), turns...)
	return p.err
}

func turn(content string, kind core.TurnKind) core.ConversationTurn {
	return core.ConversationTurn{
		Timestamp: time.Now(),
		Content:   content,
		Kind:      kind,
	}
}

func TestFlushDeliversTurnsInOrder(t *testing.T) {
	p := &scriptedPersister{}
	sink := NewSink(p, core.GetLogger())

	sink.Append("r1", turn("hello", core.TurnSpeech))
	sink.Append("r1", turn("hi there", core.TurnAIResponse))
	sink.Append("r2", turn("other room", core.TurnSpeech))

	if err := sink.Flush(context.Background(), "r1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	if len(p.last) != 2 || p.last[0].Content != "hello" || p.last[1].Content != "hi there" {
		t.Fatalf("unexpected flushed turns: %+v", p.last)
	}
	if got := sink.Buffered("r2"); len(got) != 1 {
		t.Fatalf("expected r2 buffer untouched, got %d turns", len(got))
	}
}

func TestFlushEmptyRoomSkipsPersister(t *testing.T) {
	p := &scriptedPersister{}
	sink := NewSink(p, core.GetLogger())

	if err := sink.Flush(context.Background(), "empty"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("expected no persister call for an empty buffer")
	}
}

func TestAppendAfterFlushIsDropped(t *testing.T) {
	p := &scriptedPersister{}
	sink := NewSink(p, core.GetLogger())
	sink.Append("r1", turn("hello", core.TurnSpeech))

	if err := sink.Flush(context.Background(), "r1"); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	// A turn straggling in after the flush has no remaining flush to deliver
	// it; buffering it again would leak it forever.
	sink.Append("r1", turn("straggler", core.TurnAIResponse))
	if got := sink.Buffered("r1"); len(got) != 0 {
		t.Fatalf("expected straggler dropped after flush, got %d turns", len(got))
	}

	// A new room reusing the name buffers again once opened.
	sink.Open("r1")
	sink.Append("r1", turn("fresh start", core.TurnSpeech))
	if got := sink.Buffered("r1"); len(got) != 1 {
		t.Fatalf("expected reopened room to buffer, got %d turns", len(got))
	}
}

func TestFlushFailureDropsBuffer(t *testing.T) {
	p := &scriptedPersister{err: errors.New("storage down")}
	sink := NewSink(p, core.GetLogger())
	sink.Append("r1", turn("hello", core.TurnSpeech))

	err := sink.Flush(context.Background(), "r1")
	var perr *core.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.RoomID != "r1" {
		t.Fatalf("expected room r1 in error, got %s", perr.RoomID)
	}

	// The buffer is gone: a retry would re-send nothing. Dropping the
	// transcript beats leaking buffers for rooms whose storage is down.
	if got := sink.Buffered("r1"); len(got) != 0 {
		t.Fatalf("expected buffer dropped after failed flush, got %d turns", len(got))
	}
	p.err = nil
	if err := sink.Flush(context.Background(), "r1"); err != nil {
		t.Fatalf("unexpected error on second flush: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected persister untouched by second flush, got %d calls", p.calls)
	}
}
