package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"roomvoice/core"
	"roomvoice/dispatcher"
	"roomvoice/factories"
	"roomvoice/pipeline"
	"roomvoice/sessions"
	"roomvoice/transcript"
	"roomvoice/webhook"
)

func main() {
	logger := core.GetLogger()

	if err := godotenv.Load(".env.local"); err != nil {
		logger.Warn("No .env.local file found or failed to load", "error", err)
	}

	settingsPath := getEnv("SETTINGS_PATH", "./settings.json")
	settings, err := factories.SettingsConfigFromFile(settingsPath)
	if err != nil {
		logger.Warn("failed to load settings, using defaults", "path", settingsPath, "error", err)
		settings = factories.DefaultSettingsConfig()
	}
	settings.InjectAPIKeys(factories.APIKeys{
		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),
		Deepgram:         os.Getenv("DEEPGRAM_API_KEY"),
		OpenAI:           os.Getenv("OPENAI_API_KEY"),
	})
	if settings.Persistence.URL == "" {
		settings.Persistence.URL = os.Getenv("TRANSCRIPT_STORE_URL")
	}
	port := getEnvAsInt("PORT", settings.Server.Port)

	if settings.LiveKit.APIKey == "" || settings.LiveKit.APISecret == "" {
		logger.Fatal("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}

	collabs, err := settings.BuildCollaborators(logger)
	if err != nil {
		logger.Fatal("failed to build collaborators", "error", err)
	}

	store := sessions.NewStore()
	sink := transcript.NewSink(collabs.Persister, logger)
	orch := pipeline.NewOrchestrator(store, collabs.STT, collabs.LLM, collabs.TTS,
		collabs.Room, sink, settings.PipelineSettings(), logger)
	receiver := webhook.NewReceiver(settings.LiveKit.APIKey, settings.LiveKit.APISecret)
	disp := dispatcher.New(receiver, store, orch, sink, logger)
	server := webhook.NewServer(disp, store, logger)

	if err := server.Start(port); err != nil {
		logger.Fatal("failed to start webhook server", "error", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	orch.Wait()
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
