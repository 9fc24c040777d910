// Package factories loads settings.json and constructs the collaborator
// services the orchestrator depends on.
package factories

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"roomvoice/pipeline"
	"roomvoice/services/deepgram/stt"
	"roomvoice/services/deepgram/tts"
	lkctl "roomvoice/services/livekit"
	"roomvoice/services/openai/llm"
)

// ServerConfig configures the webhook HTTP surface.
type ServerConfig struct {
	Port int `json:"port"`
}

// PolicyConfig controls agent engagement. Pointers so settings.json can
// override the default-on behavior explicitly.
type PolicyConfig struct {
	EngageOnFirstHuman *bool `json:"engage_on_first_human,omitempty"`
	DisengageWhenEmpty *bool `json:"disengage_when_empty,omitempty"`
}

// PersistenceConfig points at the transcript storage collaborator.
type PersistenceConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// PipelineConfig tunes the voice pipeline.
type PipelineConfig struct {
	AgentIdentity          string `json:"agent_identity,omitempty"`
	ContextTurns           int    `json:"context_turns,omitempty"`
	FinalizeTimeoutSeconds int    `json:"finalize_timeout_seconds,omitempty"`
	ResponseTimeoutSeconds int    `json:"response_timeout_seconds,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	Server      ServerConfig      `json:"server"`
	LiveKit     *lkctl.Config     `json:"livekit,omitempty"`
	STT         *stt.Config       `json:"stt,omitempty"`
	LLM         *llm.Config       `json:"llm,omitempty"`
	TTS         *tts.Config       `json:"tts,omitempty"`
	Pipeline    PipelineConfig    `json:"pipeline"`
	Policy      PolicyConfig      `json:"policy"`
	Persistence PersistenceConfig `json:"persistence"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with service
// defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Server:  ServerConfig{Port: 4000},
		LiveKit: lkctl.DefaultConfig(),
		STT:     stt.DefaultConfig(),
		LLM:     llm.DefaultConfig(),
		TTS:     tts.DefaultConfig(),
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, filling
// unset sections with defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4000
	}
	if cfg.LiveKit == nil {
		cfg.LiveKit = lkctl.DefaultConfig()
	}
	if cfg.STT == nil {
		cfg.STT = stt.DefaultConfig()
	}
	if cfg.LLM == nil {
		cfg.LLM = llm.DefaultConfig()
	}
	if cfg.TTS == nil {
		cfg.TTS = tts.DefaultConfig()
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// APIKeys carries secrets injected from the environment, never from
// settings.json.
type APIKeys struct {
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	Deepgram         string
	OpenAI           string
}

// InjectAPIKeys copies environment-provided credentials into the service
// configs. Values already present in settings.json win.
func (c *SettingsConfig) InjectAPIKeys(keys APIKeys) {
	if c.LiveKit.URL == "" {
		c.LiveKit.URL = keys.LiveKitURL
	}
	if c.LiveKit.APIKey == "" {
		c.LiveKit.APIKey = keys.LiveKitAPIKey
	}
	if c.LiveKit.APISecret == "" {
		c.LiveKit.APISecret = keys.LiveKitAPISecret
	}
	if c.STT.APIKey == "" {
		c.STT.APIKey = keys.Deepgram
	}
	if c.TTS.APIKey == "" {
		c.TTS.APIKey = keys.Deepgram
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = keys.OpenAI
	}
}

// PipelineSettings converts the JSON tuning block into a pipeline.Config.
func (c *SettingsConfig) PipelineSettings() pipeline.Config {
	out := pipeline.DefaultConfig()
	if c.Pipeline.AgentIdentity != "" {
		out.AgentIdentity = c.Pipeline.AgentIdentity
	}
	if c.Pipeline.ContextTurns > 0 {
		out.ContextTurns = c.Pipeline.ContextTurns
	}
	if c.Pipeline.FinalizeTimeoutSeconds > 0 {
		out.FinalizeTimeout = time.Duration(c.Pipeline.FinalizeTimeoutSeconds) * time.Second
	}
	if c.Pipeline.ResponseTimeoutSeconds > 0 {
		out.ResponseTimeout = time.Duration(c.Pipeline.ResponseTimeoutSeconds) * time.Second
	}
	if c.Policy.EngageOnFirstHuman != nil {
		out.Policy.EngageOnFirstHuman = *c.Policy.EngageOnFirstHuman
	}
	if c.Policy.DisengageWhenEmpty != nil {
		out.Policy.DisengageWhenEmpty = *c.Policy.DisengageWhenEmpty
	}
	return out
}
