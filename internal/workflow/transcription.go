package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/saga"
)

// TranscriptionOptions configures the transcription saga
type TranscriptionOptions struct {
	InputFormat  string
	OutputFormat string
	Credential   entities.Credential
	Audio        repositories.AudioConfig
	StreamMode   string
	ChunkSize    int
	Timeout      time.Duration
}

// NewTranscription builds Converting -> Downloading -> Authenticating -> Streaming.
// The initial data must carry KeyRecordingFile.
func NewTranscription(deps Dependencies, opts TranscriptionOptions) saga.SagaDefinition {
	var steps []saga.Step
	if deps.Converter != nil {
		steps = append(steps,
			&convertStep{store: deps.Store, converter: deps.Converter, opts: opts, logger: deps.Logger},
			&downloadStep{store: deps.Store, converter: deps.Converter, logger: deps.Logger},
		)
	}
	if deps.Tokens != nil {
		steps = append(steps, &authenticateStep{tokens: deps.Tokens, credential: opts.Credential, logger: deps.Logger})
	}
	steps = append(steps, &streamStep{store: deps.Store, stt: deps.SpeechToText, opts: opts, logger: deps.Logger})

	return &definition{
		id:      string(entities.WorkflowTranscription),
		steps:   steps,
		timeout: opts.Timeout,
	}
}

// TranscriptionData seeds the saga data for a finished recording
func TranscriptionData(recordingFile string) saga.SagaData {
	data := saga.SagaData{
		KeyRecordingFile: recordingFile,
		KeyAudioFile:     recordingFile,
	}
	addFile(data, recordingFile)
	return data
}

type convertStep struct {
	noCompensation
	store     repositories.MediaStore
	converter repositories.AudioConverter
	opts      TranscriptionOptions
	logger    *zap.Logger
}

func (s *convertStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateConverting)
}

func (s *convertStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	recording := data.String(KeyRecordingFile)
	if recording == "" {
		return saga.Fail(domain.DeviceIOError("read recording", errors.New("no recording file")))
	}

	dataURL, err := s.store.ReadDataURL(recording)
	if err != nil {
		return saga.Fail(domain.DeviceIOError("read recording", err))
	}

	result, err := s.converter.Convert(ctx, repositories.ConversionRequest{
		FileName:     recording,
		DataURL:      dataURL,
		InputFormat:  s.opts.InputFormat,
		OutputFormat: s.opts.OutputFormat,
	})
	if err != nil {
		return saga.Fail(err)
	}

	data[KeyConversion] = result
	s.logger.Info("Recording converted",
		zap.String("recording", recording),
		zap.String("output", result.OutputFileName))
	return saga.Ok(result)
}

type downloadStep struct {
	store     repositories.MediaStore
	converter repositories.AudioConverter
	logger    *zap.Logger
}

func (s *downloadStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateDownloading)
}

func (s *downloadStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	result, ok := data[KeyConversion].(entities.ConversionResult)
	if !ok {
		return saga.Fail(domain.ProtocolError("download", errors.New("no conversion result")))
	}

	if err := s.converter.Download(ctx, result, s.store.Path(result.OutputFileName)); err != nil {
		return saga.Fail(err)
	}

	data[KeyAudioFile] = result.OutputFileName
	addFile(data, result.OutputFileName)
	return saga.Ok(result.OutputFileName)
}

// Compensate drops the converted file, the recording stays
func (s *downloadStep) Compensate(ctx context.Context, data saga.SagaData) error {
	result, ok := data[KeyConversion].(entities.ConversionResult)
	if !ok || result.OutputFileName == data.String(KeyRecordingFile) {
		return nil
	}
	return s.store.Remove(result.OutputFileName)
}

type streamStep struct {
	noCompensation
	store  repositories.MediaStore
	stt    repositories.SpeechToText
	opts   TranscriptionOptions
	logger *zap.Logger
}

func (s *streamStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateStreaming)
}

func (s *streamStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	audio, err := s.store.ReadFile(data.String(KeyAudioFile))
	if err != nil {
		return saga.Fail(domain.DeviceIOError("read audio", err))
	}

	config := s.opts.Audio
	config.AccessToken = data.String(KeyToken)

	stream, err := s.stt.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return saga.Fail(err)
	}

	frames := Frames(audio, s.opts.StreamMode, s.opts.ChunkSize)
	for _, frame := range frames {
		if err := stream.Stream(frame); err != nil {
			stream.End()
			return saga.Fail(err)
		}
	}

	transcript, err := stream.End()
	if err != nil {
		return saga.Fail(err)
	}

	data[KeyTranscript] = transcript
	s.logger.Info("Transcription received",
		zap.Int("frames", len(frames)),
		zap.Int("bytes", len(audio)),
		zap.Int("transcriptLength", len(transcript)))
	return saga.Ok(transcript)
}

// Frames splits audio for the recognition socket: one frame in single mode,
// chunkSize pieces in chunked mode.
func Frames(audio []byte, mode string, chunkSize int) [][]byte {
	if mode != StreamModeChunked || chunkSize <= 0 || len(audio) <= chunkSize {
		return [][]byte{audio}
	}
	frames := make([][]byte, 0, (len(audio)+chunkSize-1)/chunkSize)
	for start := 0; start < len(audio); start += chunkSize {
		end := start + chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		frames = append(frames, audio[start:end])
	}
	return frames
}
