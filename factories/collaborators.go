package factories

import (
	"time"

	"roomvoice/core"
	"roomvoice/services/deepgram/stt"
	"roomvoice/services/deepgram/tts"
	lkctl "roomvoice/services/livekit"
	"roomvoice/services/openai/llm"
	"roomvoice/transcript"
)

// Collaborators bundles the constructed external services.
type Collaborators struct {
	STT       *stt.Service
	LLM       *llm.Service
	TTS       *tts.Service
	Room      *lkctl.Service
	Persister *transcript.HTTPPersister
}

// BuildCollaborators constructs every external service from the settings.
// Credentials must already be injected.
func (c *SettingsConfig) BuildCollaborators(logger *core.Logger) (Collaborators, error) {
	if logger == nil {
		logger = core.GetLogger()
	}

	room, err := lkctl.NewService(c.LiveKit, logger.With(map[string]interface{}{"service": "livekit"}))
	if err != nil {
		return Collaborators{}, err
	}
	responder, err := llm.NewService(c.LLM, logger.With(map[string]interface{}{"service": "llm"}))
	if err != nil {
		return Collaborators{}, err
	}

	timeout := time.Duration(c.Persistence.TimeoutSeconds) * time.Second
	return Collaborators{
		STT:       stt.NewService(c.STT, logger.With(map[string]interface{}{"service": "stt"})),
		LLM:       responder,
		TTS:       tts.NewService(c.TTS, logger.With(map[string]interface{}{"service": "tts"})),
		Room:      room,
		Persister: transcript.NewHTTPPersister(c.Persistence.URL, timeout),
	}, nil
}
