// Package workflow defines the transcription and synthesis sagas. Step IDs
// are the workflow states they run in.
package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/saga"
)

// Data keys shared by the steps
const (
	KeyRecordingFile  = "recording_file"
	KeyAudioFile      = "audio_file"
	KeyConversion     = "conversion"
	KeyToken          = "token"
	KeyTranscript     = "transcript"
	KeyText           = "text"
	KeySynthesized    = "synthesized_audio"
	KeySynthesizedLen = "synthesized_chunks"
	KeyOutputFile     = "output_file"
	KeyPlayback       = "playback"
	KeyFiles          = "files"
)

// Stream modes for sending audio to the recognition socket
const (
	StreamModeSingle  = "single"
	StreamModeChunked = "chunked"
)

// Player starts background playback of a file in the media directory
type Player interface {
	Play(directory, fileName string) (<-chan error, error)
}

// Dependencies are the collaborators the steps call. Converter and Tokens
// may be nil, which drops the steps that use them.
type Dependencies struct {
	Store        repositories.MediaStore
	Converter    repositories.AudioConverter
	Tokens       repositories.TokenProvider
	SpeechToText repositories.SpeechToText
	TextToSpeech repositories.TextToSpeech
	Player       Player
	Logger       *zap.Logger
}

func stepID(state entities.WorkflowState) saga.StepID {
	return saga.StepID(state)
}

// addFile records an artifact name produced by the workflow
func addFile(data saga.SagaData, name string) {
	files, _ := data[KeyFiles].([]string)
	for _, f := range files {
		if f == name {
			return
		}
	}
	data[KeyFiles] = append(files, name)
}

// Files returns the artifact names recorded in data
func Files(data saga.SagaData) []string {
	files, _ := data[KeyFiles].([]string)
	return files
}

// noCompensation is embedded by steps with nothing to undo
type noCompensation struct{}

func (noCompensation) Compensate(ctx context.Context, data saga.SagaData) error {
	return nil
}

type definition struct {
	id      string
	steps   []saga.Step
	timeout time.Duration
}

func (d *definition) ID() string             { return d.id }
func (d *definition) Steps() []saga.Step     { return d.steps }
func (d *definition) Timeout() time.Duration { return d.timeout }

// authenticateStep exchanges the credential for a bearer token
type authenticateStep struct {
	noCompensation
	tokens     repositories.TokenProvider
	credential entities.Credential
	logger     *zap.Logger
}

func (s *authenticateStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateAuthenticating)
}

func (s *authenticateStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	token, err := s.tokens.Token(ctx, s.credential)
	if err != nil {
		return saga.Fail(err)
	}
	data[KeyToken] = token
	s.logger.Debug("Token obtained", zap.String("service", s.credential.ServiceURL))
	return saga.Ok(nil)
}
