package webhook

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"

	"roomvoice/core"
)

const (
	testKey    = "api_key_test"
	testSecret = "api_secret_test_api_secret_test_"
)

func signPayload(t *testing.T, key, secret string, body []byte) string {
	t.Helper()
	sum := sha256.Sum256(body)
	token, err := auth.NewAccessToken(key, secret).
		SetValidFor(time.Hour).
		SetSha256(base64.StdEncoding.EncodeToString(sum[:])).
		ToJWT()
	if err != nil {
		t.Fatalf("failed to sign payload: %v", err)
	}
	return token
}

func TestReceiveValidRoomStarted(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"room_started","id":"EV_1","createdAt":"1700000000","room":{"sid":"RM_1","name":"r1"}}`)

	ev, err := r.Receive(body, signPayload(t, testKey, testSecret, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != core.EventRoomStarted {
		t.Fatalf("expected room_started, got %s", ev.Kind)
	}
	if ev.Room != "r1" {
		t.Fatalf("expected room r1, got %q", ev.Room)
	}
	if ev.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("expected createdAt 1700000000, got %d", ev.CreatedAt.Unix())
	}
}

func TestReceiveMicrophoneTrack(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"track_published","room":{"name":"r1"},` +
		`"participant":{"sid":"PA_1","identity":"p1","name":"Pat"},` +
		`"track":{"sid":"TR_1","type":"AUDIO","source":"MICROPHONE"}}`)

	ev, err := r.Receive(body, signPayload(t, testKey, testSecret, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Participant == nil || ev.Participant.Identity != "p1" || ev.Participant.Name != "Pat" {
		t.Fatalf("unexpected participant: %+v", ev.Participant)
	}
	if ev.Participant.IsAgent {
		t.Fatalf("expected a human participant")
	}
	if ev.Track == nil || !ev.Track.Microphone || ev.Track.SID != "TR_1" {
		t.Fatalf("unexpected track: %+v", ev.Track)
	}
}

func TestReceiveScreenShareAudioIsNotMicrophone(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"track_published","room":{"name":"r1"},` +
		`"participant":{"identity":"p1"},` +
		`"track":{"sid":"TR_2","type":"AUDIO","source":"SCREEN_SHARE_AUDIO"}}`)

	ev, err := r.Receive(body, signPayload(t, testKey, testSecret, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Track.Microphone {
		t.Fatalf("screen-share audio must not count as a microphone")
	}
}

func TestReceiveAgentParticipant(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"participant_joined","room":{"name":"r1"},` +
		`"participant":{"identity":"voice-agent","kind":"AGENT"}}`)

	ev, err := r.Receive(body, signPayload(t, testKey, testSecret, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ev.Participant.IsAgent {
		t.Fatalf("expected agent participant to be flagged")
	}
}

func TestReceiveMissingToken(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	_, err := r.Receive([]byte(`{}`), "")
	if !errors.Is(err, core.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestReceiveWrongSecret(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"room_started","room":{"name":"r1"}}`)
	token := signPayload(t, testKey, "wrong_secret_wrong_secret_wrong_", body)

	_, err := r.Receive(body, token)
	if !errors.Is(err, core.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestReceiveTamperedBody(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"room_started","room":{"name":"r1"}}`)
	token := signPayload(t, testKey, testSecret, body)

	tampered := []byte(`{"event":"room_started","room":{"name":"other"}}`)
	_, err := r.Receive(tampered, token)
	if !errors.Is(err, core.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication for checksum mismatch, got %v", err)
	}
}

func TestReceiveUnparseableBody(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`this is not json`)
	token := signPayload(t, testKey, testSecret, body)

	_, err := r.Receive(body, token)
	if !errors.Is(err, core.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestReceiveUnknownEventKind(t *testing.T) {
	r := NewReceiver(testKey, testSecret)
	body := []byte(`{"event":"egress_ended","room":{"name":"r1"}}`)

	ev, err := r.Receive(body, signPayload(t, testKey, testSecret, body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != core.EventUnknown {
		t.Fatalf("expected unknown kind, got %s", ev.Kind)
	}
}
