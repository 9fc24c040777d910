package transcript

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"roomvoice/core"
)

// HTTPPersister posts finished transcripts as JSON to a storage endpoint.
type HTTPPersister struct {
	url    string
	client *http.Client
}

func NewHTTPPersister(url string, timeout time.Duration) *HTTPPersister {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPersister{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type transcriptPayload struct {
	RoomID     string                  `json:"roomId"`
	FinishedAt time.Time               `json:"finishedAt"`
	Turns      []core.ConversationTurn `json:"turns"`
}

func (p *HTTPPersister) SaveTranscript(ctx context.Context, roomID string, turns []core.ConversationTurn) error {
	body, err := sonic.Marshal(transcriptPayload{
		RoomID:     roomID,
		FinishedAt: time.Now(),
		Turns:      turns,
	})
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("persist: unexpected status %d from %s", resp.StatusCode, p.url)
	}
	return nil
}
