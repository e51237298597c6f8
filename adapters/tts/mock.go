package tts

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

// MockTextToSpeech is a placeholder implementation for text-to-speech.
// Every input character becomes a 100 byte chunk.
type MockTextToSpeech struct {
	logger *zap.Logger
}

// Ensure MockTextToSpeech implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{logger: logger}
}

func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string, config repositories.VoiceConfig) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		if strings.TrimSpace(text) == "" {
			close(chunks)
			errs <- domain.ProtocolError("synthesize", errors.New("text cannot be empty"))
			return
		}

		m.logger.Info("Processing mock text-to-speech", zap.Int("textLength", len(text)), zap.String("voice", config.Voice))

		for i, r := range text {
			if err := ctx.Err(); err != nil {
				close(chunks)
				errs <- domain.NetworkError("synthesize", err)
				return
			}
			chunk := make([]byte, 100)
			for j := range chunk {
				chunk[j] = byte((i + int(r) + j) % 256)
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				close(chunks)
				errs <- domain.NetworkError("synthesize", ctx.Err())
				return
			}
		}
		close(chunks)
	}()

	return chunks, errs
}
