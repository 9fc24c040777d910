// Package livekit wraps the media-platform control API: dispatching the
// agent into rooms, removing it, and delivering synthesized audio.
package livekit

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/zaf/g711"

	"roomvoice/core"
)

const audioTopic = "agent-audio"

// Config holds the LiveKit control-plane credentials.
type Config struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	AgentName  string `json:"agent_name"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultConfig returns a default room-control configuration.
func DefaultConfig() *Config {
	return &Config{
		AgentName:  "voice-agent",
		SampleRate: 16000,
	}
}

// Service talks to the LiveKit server APIs.
type Service struct {
	config   *Config
	room     *lksdk.RoomServiceClient
	dispatch *lksdk.AgentDispatchClient
	logger   *core.Logger
}

func NewService(config *Config, logger *core.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.URL == "" || config.APIKey == "" || config.APISecret == "" {
		return nil, fmt.Errorf("livekit: URL, APIKey, and APISecret are required")
	}
	if config.AgentName == "" {
		config.AgentName = "voice-agent"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{
		config:   config,
		room:     lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret),
		dispatch: lksdk.NewAgentDispatchServiceClient(config.URL, config.APIKey, config.APISecret),
		logger:   logger,
	}, nil
}

// DispatchAgent asks the platform to place the named agent into roomID.
func (s *Service) DispatchAgent(ctx context.Context, roomID string) error {
	_, err := s.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      roomID,
		AgentName: s.config.AgentName,
	})
	if err != nil {
		return fmt.Errorf("livekit: dispatch agent to %s: %w", roomID, err)
	}
	return nil
}

// RemoveParticipant kicks identity out of roomID.
func (s *Service) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	_, err := s.room.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     roomID,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("livekit: remove %s from %s: %w", identity, roomID, err)
	}
	return nil
}

type audioPayload struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Audio      string `json:"audio"`
}

// PublishAudio delivers one synthesized reply to the room. The PCM is
// compressed to u-law and sent as a reliable data packet on a fixed topic;
// the room UI decodes and plays it. Publishing a real audio track would
// require the agent worker to hold a media connection, which lives outside
// this server.
func (s *Service) PublishAudio(ctx context.Context, roomID string, pcm []byte) error {
	payload, err := sonic.Marshal(audioPayload{
		Encoding:   "mulaw",
		SampleRate: s.config.SampleRate,
		Audio:      base64.StdEncoding.EncodeToString(g711.EncodeUlaw(pcm)),
	})
	if err != nil {
		return fmt.Errorf("livekit: encode audio payload: %w", err)
	}

	topic := audioTopic
	_, err = s.room.SendData(ctx, &livekit.SendDataRequest{
		Room:  roomID,
		Data:  payload,
		Kind:  livekit.DataPacket_RELIABLE,
		Topic: &topic,
	})
	if err != nil {
		return fmt.Errorf("livekit: publish audio to %s: %w", roomID, err)
	}
	return nil
}
