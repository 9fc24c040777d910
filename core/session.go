package core

import "time"

// PipelineState tracks where a participant's capture pipeline is. Transitions
// are Idle -> Capturing -> Finalizing -> Idle, guarded under the session lock.
type PipelineState int

const (
	PipelineIdle PipelineState = iota
	PipelineCapturing
	PipelineFinalizing
)

func (s PipelineState) String() string {
	switch s {
	case PipelineIdle:
		return "idle"
	case PipelineCapturing:
		return "capturing"
	case PipelineFinalizing:
		return "finalizing"
	}
	return "invalid"
}

// TurnKind distinguishes human speech from generated responses.
type TurnKind string

const (
	TurnSpeech     TurnKind = "speech"
	TurnAIResponse TurnKind = "ai_response"
)

// ConversationTurn is one append-only transcript entry.
type ConversationTurn struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Content         string    `json:"content"`
	Kind            TurnKind  `json:"kind"`
}

// Participant is the tracked state of one room member. Speaking is derived
// from microphone track publish/unpublish, not from voice activity; a muted
// but published mic still counts as speaking. Known limitation.
type Participant struct {
	Identity      string
	DisplayName   string
	JoinedAt      time.Time
	IsAgent       bool
	Speaking      bool
	PipelineState PipelineState
}

// Session is the per-room conversational state. It exists from room_started
// until the transcript flush on room_finished completes; all access goes
// through the store's per-room mutation.
type Session struct {
	RoomID       string
	StartedAt    time.Time
	Participants map[string]*Participant
	Transcript   []ConversationTurn
	AgentEngaged bool
}

// NewSession returns an Active session for roomID.
func NewSession(roomID string, startedAt time.Time) *Session {
	return &Session{
		RoomID:       roomID,
		StartedAt:    startedAt,
		Participants: make(map[string]*Participant),
	}
}

// HumanCount returns the number of non-agent participants.
func (s *Session) HumanCount() int {
	n := 0
	for _, p := range s.Participants {
		if !p.IsAgent {
			n++
		}
	}
	return n
}

// AppendTurn records a transcript entry. Turns are append-only and never
// mutated once recorded.
func (s *Session) AppendTurn(turn ConversationTurn) {
	s.Transcript = append(s.Transcript, turn)
}

// RecentTurns returns up to n most recent turns, oldest first.
func (s *Session) RecentTurns(n int) []ConversationTurn {
	if n <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	start := len(s.Transcript) - n
	if start < 0 {
		start = 0
	}
	out := make([]ConversationTurn, len(s.Transcript)-start)
	copy(out, s.Transcript[start:])
	return out
}
