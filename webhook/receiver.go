// Package webhook receives and verifies LiveKit webhook deliveries.
package webhook

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/encoding/protojson"

	"roomvoice/core"
)

// Receiver verifies the authenticity of a raw webhook body against its
// Authorization token and decodes it into a typed core.Event. Verification
// is delegated to the LiveKit auth package: the token is a JWT signed with
// the API secret whose claims carry a SHA-256 checksum of the body.
type Receiver struct {
	apiKey    string
	apiSecret string
}

func NewReceiver(apiKey, apiSecret string) *Receiver {
	return &Receiver{apiKey: apiKey, apiSecret: apiSecret}
}

// Receive validates body against authToken and returns the decoded event.
// It performs no state mutation; on error the caller must reject the request
// with a client error.
func (r *Receiver) Receive(body []byte, authToken string) (*core.Event, error) {
	if authToken == "" {
		return nil, fmt.Errorf("%w: missing authorization token", core.ErrAuthentication)
	}

	verifier, err := auth.ParseAPIToken(authToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAuthentication, err)
	}
	if verifier.APIKey() != r.apiKey {
		return nil, fmt.Errorf("%w: unknown api key", core.ErrAuthentication)
	}
	claims, err := verifier.Verify(r.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAuthentication, err)
	}

	sum := sha256.Sum256(body)
	if claims.Sha256 != base64.StdEncoding.EncodeToString(sum[:]) {
		return nil, fmt.Errorf("%w: body checksum mismatch", core.ErrAuthentication)
	}

	var ev livekit.WebhookEvent
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedPayload, err)
	}

	return mapEvent(&ev), nil
}

func mapEvent(ev *livekit.WebhookEvent) *core.Event {
	out := &core.Event{Kind: core.EventUnknown}

	switch core.EventKind(ev.GetEvent()) {
	case core.EventRoomStarted, core.EventParticipantJoined, core.EventTrackPublished,
		core.EventTrackUnpublished, core.EventParticipantLeft, core.EventRoomFinished:
		out.Kind = core.EventKind(ev.GetEvent())
	}

	out.Room = ev.GetRoom().GetName()
	if ev.GetCreatedAt() > 0 {
		out.CreatedAt = time.Unix(ev.GetCreatedAt(), 0)
	} else {
		out.CreatedAt = time.Now()
	}

	if p := ev.GetParticipant(); p != nil {
		out.Participant = &core.ParticipantInfo{
			Identity: p.GetIdentity(),
			Name:     p.GetName(),
			IsAgent:  p.GetKind() == livekit.ParticipantInfo_AGENT,
		}
	}

	if t := ev.GetTrack(); t != nil {
		out.Track = &core.TrackInfo{
			SID: t.GetSid(),
			Microphone: t.GetType() == livekit.TrackType_AUDIO &&
				t.GetSource() == livekit.TrackSource_MICROPHONE,
		}
	}

	return out
}
