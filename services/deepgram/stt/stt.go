// Package stt implements the speech-to-text collaborator against Deepgram's
// streaming listen API. One Capture is one continuous speaking turn.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomvoice/core"
)

// Config holds configuration options for Deepgram streaming STT.
type Config struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	Language    string `json:"language"`
	Punctuate   bool   `json:"punctuate"`
	SmartFormat bool   `json:"smart_format"`
	SampleRate  int    `json:"sample_rate"`
}

// DefaultConfig returns a default configuration for Deepgram STT.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "wss://api.deepgram.com",
		Model:       "nova-2",
		Punctuate:   true,
		SmartFormat: true,
		SampleRate:  16000,
	}
}

// Service opens streaming capture sessions. Safe for concurrent use; each
// capture owns its own connection.
type Service struct {
	config *Config
	logger *core.Logger
}

func NewService(config *Config, logger *core.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Service{config: config, logger: logger}
}

// StartCapture dials a listen session bound to the given track. The returned
// capture accumulates final transcript segments until Finalize or Cancel.
func (s *Service) StartCapture(ctx context.Context, roomID, participantID, trackID string) (core.CaptureSession, error) {
	if s.config.APIKey == "" {
		return nil, fmt.Errorf("deepgram stt: api key is required")
	}

	wsURL, err := s.buildListenURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram stt: %w", err)
	}

	headers := map[string][]string{
		"Authorization": {"Token " + s.config.APIKey},
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("deepgram stt: connect: %w", err)
	}

	c := &Capture{
		conn:   conn,
		done:   make(chan struct{}),
		logger: s.logger.With(map[string]interface{}{"room": roomID, "participant": participantID, "track": trackID}),
	}
	go c.readLoop()
	go func() {
		// Tear the connection down with the capture context so a cancelled
		// turn cannot leak a socket.
		select {
		case <-ctx.Done():
			c.Cancel()
		case <-c.done:
		}
	}()
	return c, nil
}

func (s *Service) buildListenURL() (string, error) {
	base, err := url.Parse(s.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := base.Query()
	if s.config.Model != "" {
		q.Set("model", s.config.Model)
	}
	if s.config.Language != "" {
		q.Set("language", s.config.Language)
	}
	q.Set("punctuate", strconv.FormatBool(s.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(s.config.SmartFormat))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(s.config.SampleRate))
	q.Set("channels", "1")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Capture is one live listen session.
type Capture struct {
	conn   *websocket.Conn
	logger *core.Logger

	writeMu sync.Mutex
	closed  bool

	segMu    sync.Mutex
	segments []string

	done chan struct{}
}

type listenResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (c *Capture) readLoop() {
	defer close(c.done)
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close after CloseStream, or the capture was cancelled.
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var resp listenResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Warn("unparseable listen message", "error", err)
			continue
		}
		if resp.Type != "Results" || !resp.IsFinal {
			continue
		}
		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		if seg := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript); seg != "" {
			c.segMu.Lock()
			c.segments = append(c.segments, seg)
			c.segMu.Unlock()
		}
	}
}

// WriteAudio forwards one linear16 frame to the transcriber.
func (c *Capture) WriteAudio(chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("deepgram stt: capture closed")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("deepgram stt: send audio: %w", err)
	}
	return nil
}

// Finalize closes the audio stream and waits for the transcriber to drain,
// then returns the accumulated transcript for the turn.
func (c *Capture) Finalize(ctx context.Context) (string, error) {
	c.writeMu.Lock()
	if !c.closed {
		msg, _ := json.Marshal(map[string]string{"type": "CloseStream"})
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Warn("close stream message failed", "error", err)
		}
	}
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		c.Cancel()
		return "", fmt.Errorf("deepgram stt: finalize: %w", ctx.Err())
	}

	c.closeConn()

	c.segMu.Lock()
	defer c.segMu.Unlock()
	return strings.Join(c.segments, " "), nil
}

// Cancel discards the session. Safe to call at any point, including after
// Finalize.
func (c *Capture) Cancel() {
	c.closeConn()
}

func (c *Capture) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = c.conn.Close()
}
