package core

import "time"

// EventKind discriminates verified webhook events.
type EventKind string

const (
	EventRoomStarted       EventKind = "room_started"
	EventParticipantJoined EventKind = "participant_joined"
	EventTrackPublished    EventKind = "track_published"
	EventTrackUnpublished  EventKind = "track_unpublished"
	EventParticipantLeft   EventKind = "participant_left"
	EventRoomFinished      EventKind = "room_finished"
	EventUnknown           EventKind = "unknown"
)

// Event is the verified, decoded form of one webhook delivery. Fields beyond
// Kind and Room are populated only when the platform sent them.
type Event struct {
	Kind      EventKind
	Room      string
	CreatedAt time.Time

	Participant *ParticipantInfo
	Track       *TrackInfo
}

// ParticipantInfo carries the participant fields the dispatcher needs.
type ParticipantInfo struct {
	Identity string
	Name     string
	IsAgent  bool
}

// TrackInfo carries the track fields the dispatcher needs. Microphone is true
// only for audio tracks sourced from a microphone; screen-share audio and
// video tracks never drive the speaking state.
type TrackInfo struct {
	SID        string
	Microphone bool
}
