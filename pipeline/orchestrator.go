// Package pipeline sequences the voice pipeline per participant: speech
// capture, transcription, response generation, and synthesized playback.
// All collaborator calls run outside the session lock and outside the
// webhook request; only state transitions happen synchronously.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomvoice/core"
	"roomvoice/sessions"
)

// Transcriber opens capture sessions against the STT collaborator.
type Transcriber interface {
	StartCapture(ctx context.Context, roomID, participantID, trackID string) (core.CaptureSession, error)
}

// Responder generates a reply from the finalized transcript plus recent
// conversation context.
type Responder interface {
	Respond(ctx context.Context, speakerName, text string, history []core.ConversationTurn) (string, error)
}

// Synthesizer converts response text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// RoomControl is the media-platform control surface: dispatching the agent
// into a room, removing it, and delivering synthesized audio.
type RoomControl interface {
	DispatchAgent(ctx context.Context, roomID string) error
	RemoveParticipant(ctx context.Context, roomID, identity string) error
	PublishAudio(ctx context.Context, roomID string, pcm []byte) error
}

// TurnSink receives every recorded conversation turn for later persistence.
type TurnSink interface {
	Append(roomID string, turn core.ConversationTurn)
}

// Policy controls when the agent is brought into and out of a room. The
// original intent was never finalized upstream, so both triggers are
// configurable rather than hardcoded.
type Policy struct {
	EngageOnFirstHuman bool
	DisengageWhenEmpty bool
}

// Config bundles orchestrator tuning.
type Config struct {
	// AgentIdentity is the participant identity the agent joins rooms with.
	AgentIdentity string
	// ContextTurns bounds how much transcript history feeds the responder.
	ContextTurns int
	// FinalizeTimeout bounds the STT flush on stopCaptureAndRespond.
	FinalizeTimeout time.Duration
	// ResponseTimeout bounds the respond+synthesize+publish chain.
	ResponseTimeout time.Duration
	Policy          Policy
}

func DefaultConfig() Config {
	return Config{
		AgentIdentity:   "voice-agent",
		ContextTurns:    20,
		FinalizeTimeout: 10 * time.Second,
		ResponseTimeout: 30 * time.Second,
		Policy: Policy{
			EngageOnFirstHuman: true,
			DisengageWhenEmpty: true,
		},
	}
}

type captureKey struct {
	roomID        string
	participantID string
}

type capture struct {
	session core.CaptureSession
	cancel  context.CancelFunc
	ctx     context.Context
}

// Orchestrator drives per-participant pipelines. For a single participant
// operations are strictly sequential: the PipelineState guard under the
// store's per-room lock rejects a new capture until the previous turn has
// fully unwound back to idle.
type Orchestrator struct {
	store  *sessions.Store
	stt    Transcriber
	llm    Responder
	tts    Synthesizer
	room   RoomControl
	sink   TurnSink
	config Config
	logger *core.Logger

	mu       sync.Mutex
	captures map[captureKey]*capture
	pending  map[captureKey]context.CancelFunc
	wg       sync.WaitGroup
}

func NewOrchestrator(store *sessions.Store, stt Transcriber, llm Responder, tts Synthesizer, room RoomControl, sink TurnSink, config Config, logger *core.Logger) *Orchestrator {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = DefaultConfig().FinalizeTimeout
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultConfig().ResponseTimeout
	}
	if config.ContextTurns <= 0 {
		config.ContextTurns = DefaultConfig().ContextTurns
	}
	return &Orchestrator{
		store:  store,
		stt:    stt,
		llm:    llm,
		tts:    tts,
		room:   room,
		sink:   sink,
		config: config,
		logger: logger.With(map[string]interface{}{"component": "pipeline"}),
	}
}

// StartCapture begins transcription for a speaking participant. Requires the
// participant's pipeline to be idle; otherwise the request is dropped with a
// log line. A collaborator failure reverts the participant to idle instead of
// surfacing an error: a capture that cannot start must not take the room down.
func (o *Orchestrator) StartCapture(roomID, participantID, trackID string) {
	logger := o.logger.With(map[string]interface{}{"room": roomID, "participant": participantID})

	err := o.store.Mutate(roomID, func(s *core.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return core.ErrUnknownParticipant
		}
		if p.PipelineState != core.PipelineIdle {
			return core.ErrPipelineBusy
		}
		p.PipelineState = core.PipelineCapturing
		return nil
	})
	if err != nil {
		logger.Warn("capture not started", "error", err)
		return
	}

	// Collaborator call happens outside the room lock. The capture context
	// is detached from the webhook request: it lives until the turn ends or
	// the participant/room goes away.
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := o.stt.StartCapture(ctx, roomID, participantID, trackID)
	if err != nil {
		cancel()
		logger.Error("stt collaborator failed to start, reverting to idle", "error", err)
		o.resetToIdle(roomID, participantID)
		return
	}

	// Registration re-checks the participant under the room lock: a slow
	// collaborator dial can outlast a racing stop or teardown, and a session
	// registered for a participant who is no longer capturing would leak
	// until the room went away.
	key := captureKey{roomID, participantID}
	var displaced *capture
	err = o.store.Mutate(roomID, func(s *core.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return core.ErrUnknownParticipant
		}
		if p.PipelineState != core.PipelineCapturing {
			return core.ErrPipelineBusy
		}
		o.mu.Lock()
		if o.captures == nil {
			o.captures = make(map[captureKey]*capture)
		}
		displaced = o.captures[key]
		o.captures[key] = &capture{session: sess, cancel: cancel, ctx: ctx}
		o.mu.Unlock()
		return nil
	})
	if err != nil {
		cancel()
		sess.Cancel()
		logger.Warn("participant no longer capturing, discarding late capture session", "error", err)
		return
	}
	if displaced != nil {
		displaced.cancel()
		displaced.session.Cancel()
	}

	logger.Info("capture started", "track", trackID)
}

// StopCaptureAndRespond finalizes the participant's transcription, records the
// speech turn, and kicks off response generation asynchronously. The caller
// gets control back as soon as the participant is marked finalizing; the
// webhook ack never waits on STT, LLM, or TTS.
func (o *Orchestrator) StopCaptureAndRespond(roomID, participantID string) {
	logger := o.logger.With(map[string]interface{}{"room": roomID, "participant": participantID})

	var speakerName string
	err := o.store.Mutate(roomID, func(s *core.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return core.ErrUnknownParticipant
		}
		if p.PipelineState != core.PipelineCapturing {
			return core.ErrPipelineBusy
		}
		p.PipelineState = core.PipelineFinalizing
		speakerName = p.DisplayName
		return nil
	})
	if err != nil {
		logger.Warn("no capture to finalize", "error", err)
		return
	}

	cap := o.takeCapture(roomID, participantID)
	if cap == nil {
		// Capturing state without a live session: the collaborator start
		// raced a teardown. Reset and move on.
		logger.Warn("capturing participant has no live capture session")
		o.resetToIdle(roomID, participantID)
		return
	}

	// The turn stays cancellable while it finalizes and responds. Without
	// this a room teardown would only reach captures still in the map, and a
	// finalizing turn would run to completion against a finished room.
	key := captureKey{roomID, participantID}
	o.mu.Lock()
	if o.pending == nil {
		o.pending = make(map[captureKey]context.CancelFunc)
	}
	o.pending[key] = cap.cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.clearPending(key)
		defer cap.cancel()
		o.finalizeAndRespond(cap, roomID, participantID, speakerName, logger)
	}()
}

// finalizeAndRespond runs the long-latency tail of a turn. Any failure at any
// stage drops the turn and resets the participant to idle; a failed response
// is never retried, to avoid stale or duplicate replies after the speaker has
// moved on.
func (o *Orchestrator) finalizeAndRespond(cap *capture, roomID, participantID, speakerName string, logger *core.Logger) {
	finalizeCtx, cancel := context.WithTimeout(cap.ctx, o.config.FinalizeTimeout)
	text, err := cap.session.Finalize(finalizeCtx)
	cancel()
	if err != nil {
		logger.Error("transcription failed, dropping turn", "error", (&core.PipelineError{Stage: "stt", Err: err}).Error())
		o.resetToIdle(roomID, participantID)
		return
	}
	if cap.ctx.Err() != nil {
		logger.Info("turn cancelled during finalize, dropping")
		o.resetToIdle(roomID, participantID)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info("empty transcript, dropping turn")
		o.resetToIdle(roomID, participantID)
		return
	}

	// Record the speech turn and snapshot the context window in one room
	// mutation. If the room was evicted meanwhile, Mutate fails and the
	// turn is discarded with it.
	var history []core.ConversationTurn
	speechTurn := core.ConversationTurn{
		ID:              uuid.New().String(),
		Timestamp:       time.Now(),
		ParticipantID:   participantID,
		ParticipantName: speakerName,
		Content:         text,
		Kind:            core.TurnSpeech,
	}
	err = o.store.Mutate(roomID, func(s *core.Session) error {
		history = s.RecentTurns(o.config.ContextTurns)
		s.AppendTurn(speechTurn)
		s.AgentEngaged = true
		return nil
	})
	if err != nil {
		logger.Warn("room gone before transcript could be recorded", "error", err)
		return
	}
	o.sink.Append(roomID, speechTurn)

	respCtx, cancel := context.WithTimeout(cap.ctx, o.config.ResponseTimeout)
	defer cancel()

	reply, err := o.llm.Respond(respCtx, speakerName, text, history)
	if err != nil {
		logger.Error("response generation failed, dropping turn", "error", (&core.PipelineError{Stage: "llm", Err: err}).Error())
		o.resetToIdle(roomID, participantID)
		return
	}
	pcm, err := o.tts.Synthesize(respCtx, reply)
	if err != nil {
		logger.Error("speech synthesis failed, dropping turn", "error", (&core.PipelineError{Stage: "tts", Err: err}).Error())
		o.resetToIdle(roomID, participantID)
		return
	}

	// Re-check room liveness before anything leaves the process: a response
	// must never reach a room whose session has been evicted.
	if cap.ctx.Err() != nil {
		logger.Info("capture cancelled before playback, dropping response")
		o.resetToIdle(roomID, participantID)
		return
	}
	if _, ok := o.store.Get(roomID); !ok {
		logger.Info("room evicted before playback, dropping response")
		return
	}

	if err := o.room.PublishAudio(respCtx, roomID, pcm); err != nil {
		logger.Error("audio publish failed, dropping turn", "error", (&core.PipelineError{Stage: "publish", Err: err}).Error())
		o.resetToIdle(roomID, participantID)
		return
	}

	responseTurn := core.ConversationTurn{
		ID:              uuid.New().String(),
		Timestamp:       time.Now(),
		ParticipantID:   o.config.AgentIdentity,
		ParticipantName: o.config.AgentIdentity,
		Content:         reply,
		Kind:            core.TurnAIResponse,
	}
	err = o.store.Mutate(roomID, func(s *core.Session) error {
		s.AppendTurn(responseTurn)
		if p, ok := s.Participants[participantID]; ok {
			p.PipelineState = core.PipelineIdle
		}
		return nil
	})
	if err != nil {
		logger.Warn("room gone before response could be recorded", "error", err)
		return
	}
	o.sink.Append(roomID, responseTurn)
	logger.Info("turn completed")
}

// StopCapture is the best-effort cancellation path used when a participant
// leaves mid-turn. The in-flight transcription is discarded, no response is
// generated, and the participant (if still present) returns to idle.
func (o *Orchestrator) StopCapture(roomID, participantID string) {
	if cap := o.takeCapture(roomID, participantID); cap != nil {
		cap.cancel()
		cap.session.Cancel()
	}
	o.mu.Lock()
	cancel := o.pending[captureKey{roomID, participantID}]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.resetToIdle(roomID, participantID)
	o.logger.Info("capture discarded", "room", roomID, "participant", participantID)
}

// EngageAgent brings the agent into the room when policy allows.
func (o *Orchestrator) EngageAgent(roomID string) {
	if !o.config.Policy.EngageOnFirstHuman {
		return
	}
	logger := o.logger.With(map[string]interface{}{"room": roomID})
	if err := o.store.Mutate(roomID, func(s *core.Session) error {
		s.AgentEngaged = true
		return nil
	}); err != nil {
		logger.Warn("engage skipped", "error", err)
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.config.ResponseTimeout)
		defer cancel()
		if err := o.room.DispatchAgent(ctx, roomID); err != nil {
			logger.Error("agent dispatch failed", "error", err)
			return
		}
		logger.Info("agent dispatched")
	}()
}

// DisengageAgent removes the agent once no humans remain.
func (o *Orchestrator) DisengageAgent(roomID string) {
	if !o.config.Policy.DisengageWhenEmpty {
		return
	}
	logger := o.logger.With(map[string]interface{}{"room": roomID})

	agentPresent := false
	if err := o.store.Mutate(roomID, func(s *core.Session) error {
		for _, p := range s.Participants {
			if p.IsAgent {
				agentPresent = true
			}
		}
		s.AgentEngaged = false
		return nil
	}); err != nil {
		logger.Warn("disengage skipped", "error", err)
		return
	}
	if !agentPresent {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.config.ResponseTimeout)
		defer cancel()
		if err := o.room.RemoveParticipant(ctx, roomID, o.config.AgentIdentity); err != nil {
			logger.Error("agent removal failed", "error", err)
			return
		}
		logger.Info("agent removed")
	}()
}

// CancelRoom discards every in-flight capture for a room. Used on
// room_finished so nothing generated after teardown can reach the room.
func (o *Orchestrator) CancelRoom(roomID string) {
	o.mu.Lock()
	var cancelled []*capture
	for key, cap := range o.captures {
		if key.roomID == roomID {
			cancelled = append(cancelled, cap)
			delete(o.captures, key)
		}
	}
	var finals []context.CancelFunc
	for key, cancel := range o.pending {
		if key.roomID == roomID {
			finals = append(finals, cancel)
		}
	}
	o.mu.Unlock()

	for _, cap := range cancelled {
		cap.cancel()
		cap.session.Cancel()
	}
	for _, cancel := range finals {
		cancel()
	}
	if total := len(cancelled) + len(finals); total > 0 {
		o.logger.Info("in-flight turns cancelled", "room", roomID, "count", total)
	}
}

// Wait blocks until all asynchronous pipeline work has drained. Used on
// shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) clearPending(key captureKey) {
	o.mu.Lock()
	delete(o.pending, key)
	o.mu.Unlock()
}

func (o *Orchestrator) takeCapture(roomID, participantID string) *capture {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := captureKey{roomID, participantID}
	cap, ok := o.captures[key]
	if !ok {
		return nil
	}
	delete(o.captures, key)
	return cap
}

func (o *Orchestrator) resetToIdle(roomID, participantID string) {
	_ = o.store.Mutate(roomID, func(s *core.Session) error {
		if p, ok := s.Participants[participantID]; ok {
			p.PipelineState = core.PipelineIdle
		}
		return nil
	})
}
