// Package dispatcher routes verified webhook events into room state
// transitions and pipeline invocations.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"roomvoice/core"
	"roomvoice/pipeline"
	"roomvoice/sessions"
	"roomvoice/transcript"
)

// Verifier validates and decodes one webhook delivery.
type Verifier interface {
	Receive(body []byte, authToken string) (*core.Event, error)
}

// Result is the HTTP-style outcome returned to the webhook sender.
type Result struct {
	Status  int
	Message string
}

// Dispatcher applies the per-event transition table. Events that verify are
// always acked 200, including ones referencing rooms or participants the
// server never saw: surfacing an error there would put the platform into a
// retry loop over state that is already gone.
type Dispatcher struct {
	verifier Verifier
	store    *sessions.Store
	orch     *pipeline.Orchestrator
	sink     *transcript.Sink
	logger   *core.Logger

	flushTimeout time.Duration
	wg           sync.WaitGroup
}

func New(verifier Verifier, store *sessions.Store, orch *pipeline.Orchestrator, sink *transcript.Sink, logger *core.Logger) *Dispatcher {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Dispatcher{
		verifier:     verifier,
		store:        store,
		orch:         orch,
		sink:         sink,
		logger:       logger.With(map[string]interface{}{"component": "dispatcher"}),
		flushTimeout: 15 * time.Second,
	}
}

// Handle verifies one raw delivery and applies it. It returns as soon as the
// synchronous portion of the transition is done; pipeline collaborators and
// the transcript flush run in the background.
func (d *Dispatcher) Handle(ctx context.Context, body []byte, authToken string) Result {
	ev, err := d.verifier.Receive(body, authToken)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrAuthentication):
			d.logger.Warn("rejected delivery", "error", err)
			return Result{Status: http.StatusUnauthorized, Message: "invalid webhook signature"}
		case errors.Is(err, core.ErrMalformedPayload):
			d.logger.Warn("rejected delivery", "error", err)
			return Result{Status: http.StatusBadRequest, Message: "invalid webhook payload"}
		default:
			d.logger.Error("verification failed", "error", err)
			return Result{Status: http.StatusBadRequest, Message: "invalid webhook"}
		}
	}

	logger := d.logger.With(map[string]interface{}{"event": string(ev.Kind), "room": ev.Room})

	switch ev.Kind {
	case core.EventRoomStarted:
		d.handleRoomStarted(ev, logger)
	case core.EventParticipantJoined:
		d.handleParticipantJoined(ev, logger)
	case core.EventTrackPublished:
		d.handleTrackPublished(ev, logger)
	case core.EventTrackUnpublished:
		d.handleTrackUnpublished(ev, logger)
	case core.EventParticipantLeft:
		d.handleParticipantLeft(ev, logger)
	case core.EventRoomFinished:
		d.handleRoomFinished(ev, logger)
	default:
		logger.Info("unhandled event kind, ignoring")
	}

	return Result{Status: http.StatusOK, Message: "OK"}
}

func (d *Dispatcher) handleRoomStarted(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" {
		logger.Warn("room_started without room name, ignoring")
		return
	}
	// Duplicate deliveries are an idempotent refresh, never a reset.
	if d.store.Create(ev.Room, ev.CreatedAt) {
		d.sink.Open(ev.Room)
		logger.Info("room started")
	} else {
		logger.Info("room already tracked, ignoring duplicate start")
	}
}

func (d *Dispatcher) handleParticipantJoined(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" || ev.Participant == nil || ev.Participant.Identity == "" {
		logger.Warn("participant_joined missing fields, ignoring")
		return
	}

	firstHuman := false
	err := d.store.Mutate(ev.Room, func(s *core.Session) error {
		if _, ok := s.Participants[ev.Participant.Identity]; ok {
			return nil
		}
		s.Participants[ev.Participant.Identity] = &core.Participant{
			Identity:      ev.Participant.Identity,
			DisplayName:   ev.Participant.Name,
			JoinedAt:      ev.CreatedAt,
			IsAgent:       ev.Participant.IsAgent,
			Speaking:      false,
			PipelineState: core.PipelineIdle,
		}
		firstHuman = !ev.Participant.IsAgent && s.HumanCount() == 1 && !s.AgentEngaged
		return nil
	})
	if err != nil {
		logger.Warn("join for untracked room, ignoring")
		return
	}

	logger.Info("participant joined", "participant", ev.Participant.Identity)
	if firstHuman {
		d.orch.EngageAgent(ev.Room)
	}
}

func (d *Dispatcher) handleTrackPublished(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" || ev.Participant == nil || ev.Track == nil {
		logger.Warn("track_published missing fields, ignoring")
		return
	}
	if !ev.Track.Microphone {
		return
	}

	err := d.store.Mutate(ev.Room, func(s *core.Session) error {
		p, ok := s.Participants[ev.Participant.Identity]
		if !ok {
			return core.ErrUnknownParticipant
		}
		p.Speaking = true
		return nil
	})
	if err != nil {
		logger.Warn("mic publish for unknown room or participant, ignoring", "error", err)
		return
	}

	logger.Info("participant started speaking", "participant", ev.Participant.Identity)
	d.orch.StartCapture(ev.Room, ev.Participant.Identity, ev.Track.SID)
}

func (d *Dispatcher) handleTrackUnpublished(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" || ev.Participant == nil || ev.Track == nil {
		logger.Warn("track_unpublished missing fields, ignoring")
		return
	}
	if !ev.Track.Microphone {
		return
	}

	wasSpeaking := false
	err := d.store.Mutate(ev.Room, func(s *core.Session) error {
		p, ok := s.Participants[ev.Participant.Identity]
		if !ok {
			return core.ErrUnknownParticipant
		}
		wasSpeaking = p.Speaking
		p.Speaking = false
		return nil
	})
	if err != nil {
		logger.Warn("mic unpublish for unknown room or participant, ignoring", "error", err)
		return
	}
	if !wasSpeaking {
		// Duplicate unpublish; responding again would double the AI turn.
		return
	}

	logger.Info("participant stopped speaking", "participant", ev.Participant.Identity)
	d.orch.StopCaptureAndRespond(ev.Room, ev.Participant.Identity)
}

func (d *Dispatcher) handleParticipantLeft(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" || ev.Participant == nil || ev.Participant.Identity == "" {
		logger.Warn("participant_left missing fields, ignoring")
		return
	}

	pipelineActive := false
	lastHumanGone := false
	err := d.store.Mutate(ev.Room, func(s *core.Session) error {
		p, ok := s.Participants[ev.Participant.Identity]
		if !ok {
			return core.ErrUnknownParticipant
		}
		pipelineActive = p.PipelineState != core.PipelineIdle
		delete(s.Participants, ev.Participant.Identity)
		lastHumanGone = !p.IsAgent && s.HumanCount() == 0
		return nil
	})
	if err != nil {
		logger.Warn("leave for unknown room or participant, ignoring", "error", err)
		return
	}

	logger.Info("participant left", "participant", ev.Participant.Identity)
	if pipelineActive {
		d.orch.StopCapture(ev.Room, ev.Participant.Identity)
	}
	if lastHumanGone {
		d.orch.DisengageAgent(ev.Room)
	}
}

func (d *Dispatcher) handleRoomFinished(ev *core.Event, logger *core.Logger) {
	if ev.Room == "" {
		logger.Warn("room_finished without room name, ignoring")
		return
	}
	if _, ok := d.store.Get(ev.Room); !ok {
		logger.Warn("finish for untracked room, ignoring")
		return
	}

	d.orch.CancelRoom(ev.Room)

	// Flush runs off the request goroutine; the session is evicted once it
	// completes, failed or not. A flush failure costs the transcript, never
	// the store's memory.
	room := ev.Room
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.flushTimeout)
		defer cancel()
		if err := d.sink.Flush(ctx, room); err != nil {
			logger.Error("transcript flush failed, evicting session anyway", "error", err)
		}
		d.store.Delete(room)
		logger.Info("room finished, session evicted")
	}()
}

// Wait blocks until background teardown work (transcript flushes) has
// drained. Used on shutdown and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
