package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/adapters/cloudconvert"
	"github.com/satriahrh/ditado/adapters/events"
	"github.com/satriahrh/ditado/adapters/history"
	"github.com/satriahrh/ditado/adapters/media"
	"github.com/satriahrh/ditado/adapters/mongo"
	"github.com/satriahrh/ditado/adapters/storage"
	"github.com/satriahrh/ditado/adapters/stt"
	"github.com/satriahrh/ditado/adapters/tts"
	"github.com/satriahrh/ditado/adapters/watson"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/config"
	"github.com/satriahrh/ditado/internal/workflow"
)

func newMediaDevice(cfg config.DeviceConfig, logger *zap.Logger) (repositories.MediaDevice, func() error, error) {
	switch cfg.Backend {
	case "native":
		device, err := media.NewNativeDevice(uint32(cfg.SampleRate), uint32(cfg.Channels), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audio device: %w", err)
		}
		return device, device.Close, nil
	case "mock":
		return media.NewMockDevice([]byte("mock-recording"), time.Second, logger), nil, nil
	default:
		device, err := media.NewExecDevice(cfg.RecordCommand, cfg.PlayCommand, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create exec device: %w", err)
		}
		return device, nil, nil
	}
}

func newSpeechToText(cfg config.Config, logger *zap.Logger) (repositories.SpeechToText, error) {
	c := cfg.SpeechToText
	switch c.Provider {
	case "google":
		return stt.NewGoogleSpeechToText(c.Language, logger), nil
	case "openai":
		return stt.NewWhisperSpeechToText(stt.OpenAIConfig{
			APIKey:   c.OpenAIAPIKey,
			BaseURL:  c.OpenAIBaseURL,
			Model:    c.OpenAIModel,
			Language: c.Language,
		}, logger)
	case "mock":
		return stt.NewMockSpeechToText(c.MockTranscript, logger), nil
	default:
		return watson.NewSpeechToText(watson.SpeechToTextConfig{
			ServiceURL:       c.ServiceURL,
			Model:            c.Model,
			HandshakeTimeout: cfg.Workflow.HandshakeTimeout,
		}, logger)
	}
}

func newTextToSpeech(cfg config.Config, logger *zap.Logger) (repositories.TextToSpeech, error) {
	c := cfg.TextToSpeech
	switch c.Provider {
	case "elevenlabs":
		return tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:  c.ElevenLabsAPIKey,
			VoiceID: c.ElevenLabsVoiceID,
			ModelID: c.ElevenLabsModelID,
		}, logger)
	case "mock":
		return tts.NewMockTextToSpeech(logger), nil
	default:
		return watson.NewTextToSpeech(watson.TextToSpeechConfig{
			ServiceURL:       c.ServiceURL,
			Voice:            c.Voice,
			Accept:           c.Accept,
			HandshakeTimeout: cfg.Workflow.HandshakeTimeout,
		}, logger)
	}
}

// newTokens returns the token client for watson providers; other providers
// authenticate on their own and skip the token step.
func newTokens(provider string, cfg config.TokenConfig, logger *zap.Logger) repositories.TokenProvider {
	if provider != "watson" {
		return nil
	}
	return watson.NewTokenClient(cfg.URL, cfg.Timeout, logger)
}

// newConverter returns nil when conversion is disabled, which drops the
// converting and downloading steps.
func newConverter(cfg config.ConversionConfig, logger *zap.Logger) (repositories.AudioConverter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := cloudconvert.NewClient(cloudconvert.Config{
		APIKey:         cfg.APIKey,
		Endpoint:       cfg.Endpoint,
		DownloadScheme: cfg.DownloadScheme,
		AudioCodec:     cfg.AudioCodec,
		AudioBitrate:   cfg.AudioBitrate,
		AudioChannels:  cfg.AudioChannels,
		AudioFrequency: cfg.AudioFrequency,
		Timeout:        cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion client: %w", err)
	}
	return client, nil
}

func newHistory(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (repositories.HistoryRepository, error) {
	switch cfg.Backend {
	case "memory":
		return history.NewMemoryRepository(cfg.MaxRecords), nil
	case "mongo":
		client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}, logger)
		if err != nil {
			return nil, err
		}
		repo := mongo.NewWorkflowRepositoryFromClient(client, logger)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to create history indexes", zap.Error(err))
		}
		return repo, nil
	default:
		repo, err := history.OpenSQLite(ctx, cfg.Path, cfg.MaxRecords, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (repositories.ArtifactArchive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	archive, err := storage.NewMinioArchive(ctx, storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Prefix:    cfg.Prefix,
		UseSSL:    cfg.UseSSL,
	}, logger)
	if err != nil {
		return nil, err
	}
	return archive, nil
}

// newEvents connects the workflow event publisher, starting an in-process
// NATS server first when configured. The embedded server may be nil.
func newEvents(cfg config.EventsConfig, logger *zap.Logger) (repositories.EventPublisher, *events.EmbeddedServer, error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, nil, nil
	}

	servers := cfg.Servers
	var embedded *events.EmbeddedServer
	if cfg.Embedded {
		var err error
		embedded, err = events.StartEmbedded(cfg.EmbeddedHost, cfg.EmbeddedPort, logger)
		if err != nil {
			return nil, nil, err
		}
		servers = []string{embedded.ClientURL()}
	}

	publisher, err := events.Connect(events.NATSConfig{
		Servers:        servers,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Token:          cfg.Token,
		SubjectPrefix:  cfg.SubjectPrefix,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		embedded.Shutdown()
		return nil, nil, err
	}
	return publisher, embedded, nil
}

func transcriptionOptions(cfg config.Config) workflow.TranscriptionOptions {
	return workflow.TranscriptionOptions{
		InputFormat:  cfg.Conversion.InputFormat,
		OutputFormat: cfg.Conversion.OutputFormat,
		Credential:   cfg.SpeechToText.Credential(),
		Audio: repositories.AudioConfig{
			ContentType: cfg.SpeechToText.ContentType,
			Encoding:    stt.EncodingForContentType(cfg.SpeechToText.ContentType),
			SampleRate:  recognitionSampleRate(cfg),
			Language:    cfg.SpeechToText.Language,
			Model:       cfg.SpeechToText.Model,
		},
		StreamMode: cfg.SpeechToText.StreamMode,
		ChunkSize:  cfg.SpeechToText.ChunkSize,
		Timeout:    cfg.Workflow.Timeout,
	}
}

// recognitionSampleRate is the rate of the audio the recognizer receives: the
// converted file's frequency, or the device rate when conversion is off.
func recognitionSampleRate(cfg config.Config) int {
	if cfg.Conversion.Enabled {
		if rate, err := strconv.Atoi(cfg.Conversion.AudioFrequency); err == nil {
			return rate
		}
		return 0
	}
	return cfg.Device.SampleRate
}

func synthesisOptions(cfg config.Config) workflow.SynthesisOptions {
	return workflow.SynthesisOptions{
		Credential: cfg.TextToSpeech.Credential(),
		Voice: repositories.VoiceConfig{
			Voice:  cfg.TextToSpeech.Voice,
			Accept: cfg.TextToSpeech.Accept,
		},
		OutputFile: cfg.Media.SynthesizedFile,
		Timeout:    cfg.Workflow.Timeout,
	}
}
