// Package tts implements the text-to-speech collaborator against Deepgram's
// speak API. One request per finished response turn, so the batch endpoint is
// enough; there is no incremental text to stream.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"roomvoice/core"
)

// Config holds the configuration for Deepgram TTS.
type Config struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultConfig returns a default TTS configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.deepgram.com",
		Model:      "aura-asteria-en",
		SampleRate: 16000,
	}
}

// Service synthesizes linear16 PCM from response text.
type Service struct {
	config *Config
	client *http.Client
	logger *core.Logger
}

func NewService(config *Config, logger *core.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.deepgram.com"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Synthesize converts text to raw linear16 PCM at the configured sample rate.
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.config.APIKey == "" {
		return nil, fmt.Errorf("deepgram tts: api key is required")
	}

	endpoint, err := url.Parse(s.config.BaseURL + "/v1/speak")
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", s.config.Model)
	q.Set("encoding", "linear16")
	q.Set("container", "none")
	q.Set("sample_rate", strconv.Itoa(s.config.SampleRate))
	endpoint.RawQuery = q.Encode()

	body, err := sonic.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram tts: status %d: %s", resp.StatusCode, msg)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("deepgram tts: empty audio")
	}
	return pcm, nil
}
