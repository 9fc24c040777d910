package sessions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"roomvoice/core"
)

func TestCreateIsIdempotent(t *testing.T) {
	store := NewStore()
	first := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	if created := store.Create("r1", first); !created {
		t.Fatalf("expected first create to report created")
	}
	if created := store.Create("r1", later); created {
		t.Fatalf("expected duplicate create to be a no-op")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}

	snap, ok := store.Get("r1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if !snap.StartedAt.Equal(first) {
		t.Fatalf("expected duplicate create to keep StartedAt %v, got %v", first, snap.StartedAt)
	}
}

func TestMutateUnknownRoom(t *testing.T) {
	store := NewStore()
	err := store.Mutate("missing", func(*core.Session) error { return nil })
	if !errors.Is(err, core.ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom, got %v", err)
	}
}

func TestMutateAfterDelete(t *testing.T) {
	store := NewStore()
	store.Create("r1", time.Now())
	store.Delete("r1")

	if _, ok := store.Get("r1"); ok {
		t.Fatalf("expected deleted session to be gone")
	}
	err := store.Mutate("r1", func(*core.Session) error { return nil })
	if !errors.Is(err, core.ErrUnknownRoom) {
		t.Fatalf("expected ErrUnknownRoom after delete, got %v", err)
	}
}

func TestMutateSerializesWritersPerRoom(t *testing.T) {
	store := NewStore()
	store.Create("r1", time.Now())

	const writers = 64
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Mutate("r1", func(s *core.Session) error {
				s.AppendTurn(core.ConversationTurn{Kind: core.TurnSpeech})
				return nil
			})
		}()
	}
	wg.Wait()

	snap, ok := store.Get("r1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if len(snap.Transcript) != writers {
		t.Fatalf("expected %d turns, got %d", writers, len(snap.Transcript))
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore()
	store.Create("r1", time.Now())
	_ = store.Mutate("r1", func(s *core.Session) error {
		s.Participants["p1"] = &core.Participant{Identity: "p1", PipelineState: core.PipelineIdle}
		return nil
	})

	snap, _ := store.Get("r1")
	snap.Participants["p1"].PipelineState = core.PipelineCapturing
	snap.Participants["p2"] = &core.Participant{Identity: "p2"}

	fresh, _ := store.Get("r1")
	if fresh.Participants["p1"].PipelineState != core.PipelineIdle {
		t.Fatalf("snapshot mutation leaked into the store")
	}
	if len(fresh.Participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(fresh.Participants))
	}
}
