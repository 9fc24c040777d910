package core

import "errors"

// Error taxonomy for the webhook path. Only the first two ever surface to the
// event sender; everything else is logged and absorbed so the platform never
// retries an event the server has already missed state for.
var (
	// ErrAuthentication covers a missing or invalid signature token.
	ErrAuthentication = errors.New("webhook authentication failed")
	// ErrMalformedPayload covers a body that verified but did not decode.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnknownRoom is returned when an event references a room the store
	// is not tracking.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrUnknownParticipant is returned when an event references a
	// participant not present in its room session.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrPipelineBusy is returned when a capture is requested for a
	// participant whose pipeline is not idle.
	ErrPipelineBusy = errors.New("pipeline not idle")
)

// PipelineError wraps a collaborator failure during capture or response
// generation. It never propagates past the orchestrator.
type PipelineError struct {
	Stage string // "stt", "llm", "tts", "publish"
	Err   error
}

func (e *PipelineError) Error() string {
	return "pipeline stage " + e.Stage + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// PersistenceError wraps a transcript flush failure. The session is evicted
// regardless; see the sink for the trade-off.
type PersistenceError struct {
	RoomID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return "persist transcript for room " + e.RoomID + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
