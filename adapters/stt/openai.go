package stt

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

// OpenAIConfig holds configuration for the Whisper provider
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return errors.New("openai API key is required")
	}
	return nil
}

// WhisperSpeechToText transcribes whole files through the OpenAI audio API.
// Streamed frames are buffered and uploaded on End.
type WhisperSpeechToText struct {
	client   *openai.Client
	model    string
	language string
	logger   *zap.Logger
}

// Ensure WhisperSpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*WhisperSpeechToText)(nil)

// NewWhisperSpeechToText creates the Whisper provider
func NewWhisperSpeechToText(config OpenAIConfig, logger *zap.Logger) (*WhisperSpeechToText, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperSpeechToText{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		language: isoLanguage(config.Language),
		logger:   logger,
	}, nil
}

// isoLanguage turns "pt-BR" into the ISO-639-1 "pt" Whisper expects
func isoLanguage(language string) string {
	if i := strings.IndexAny(language, "-_"); i > 0 {
		language = language[:i]
	}
	return strings.ToLower(language)
}

func (w *WhisperSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", domain.ProtocolError("transcribe", errors.New("no audio data received"))
	}

	language := w.language
	if config.Language != "" {
		language = isoLanguage(config.Language)
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: fileNameFor(config.ContentType),
		Reader:   bytes.NewReader(audioData),
		Language: language,
	})
	if err != nil {
		return "", classifyOpenAI("transcribe", err)
	}

	w.logger.Info("Whisper transcription finished",
		zap.Int("audioSize", len(audioData)),
		zap.Int("length", len(resp.Text)))
	return strings.TrimSpace(resp.Text), nil
}

func (w *WhisperSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	return &bufferedStream{ctx: ctx, config: config, provider: w}, nil
}

type bufferedStream struct {
	ctx      context.Context
	config   repositories.AudioConfig
	provider repositories.SpeechToText
	buf      bytes.Buffer
}

func (b *bufferedStream) Stream(data []byte) error {
	b.buf.Write(data)
	return nil
}

func (b *bufferedStream) End() (string, error) {
	return b.provider.TranscribeAudio(b.ctx, b.buf.Bytes(), b.config)
}

// fileNameFor names the upload so the API can sniff the container format
func fileNameFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "wav"):
		return "audio.wav"
	case strings.Contains(contentType, "ogg"):
		return "audio.ogg"
	case strings.Contains(contentType, "mpeg"):
		return "audio.mp3"
	default:
		return "audio.flac"
	}
}

func classifyOpenAI(op string, err error) error {
	statusCode := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		statusCode = reqErr.HTTPStatusCode
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.AuthError(op, err)
	case statusCode >= 400 && statusCode < 500:
		return domain.ProtocolError(op, err)
	default:
		return domain.NetworkError(op, err)
	}
}
