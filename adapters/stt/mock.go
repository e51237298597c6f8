package stt

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	transcript string
	logger     *zap.Logger
}

// NewMockSpeechToText creates a provider that answers every request with transcript
func NewMockSpeechToText(transcript string, logger *zap.Logger) *MockSpeechToText {
	if transcript == "" {
		transcript = "olá mundo"
	}
	return &MockSpeechToText{transcript: transcript, logger: logger}
}

func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Info("Initializing mock streaming transcription",
		zap.String("contentType", config.ContentType),
		zap.String("model", config.Model))
	return &bufferedStream{ctx: ctx, config: config, provider: s}, nil
}

func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NetworkError("transcribe", err)
	}
	if len(audioData) == 0 {
		return "", domain.ProtocolError("transcribe", errors.New("no audio data received"))
	}
	s.logger.Info("Processing mock speech-to-text", zap.Int("audioSize", len(audioData)))
	return s.transcript, nil
}
