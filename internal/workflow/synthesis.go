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

// SynthesisOptions configures the synthesis saga
type SynthesisOptions struct {
	Credential entities.Credential
	Voice      repositories.VoiceConfig
	OutputFile string
	Timeout    time.Duration
}

// NewSynthesis builds Authenticating -> Synthesizing -> Writing -> Playing.
// The initial data must carry KeyText.
func NewSynthesis(deps Dependencies, opts SynthesisOptions) saga.SagaDefinition {
	var steps []saga.Step
	if deps.Tokens != nil {
		steps = append(steps, &authenticateStep{tokens: deps.Tokens, credential: opts.Credential, logger: deps.Logger})
	}
	steps = append(steps,
		&synthesizeStep{tts: deps.TextToSpeech, voice: opts.Voice, logger: deps.Logger},
		&writeStep{store: deps.Store, outputFile: opts.OutputFile, logger: deps.Logger},
		&playStep{store: deps.Store, player: deps.Player, logger: deps.Logger},
	)

	return &definition{
		id:      string(entities.WorkflowSynthesis),
		steps:   steps,
		timeout: opts.Timeout,
	}
}

// SynthesisData seeds the saga data for text to speak
func SynthesisData(text string) saga.SagaData {
	return saga.SagaData{KeyText: text}
}

type synthesizeStep struct {
	noCompensation
	tts    repositories.TextToSpeech
	voice  repositories.VoiceConfig
	logger *zap.Logger
}

func (s *synthesizeStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateSynthesizing)
}

func (s *synthesizeStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	config := s.voice
	config.AccessToken = data.String(KeyToken)

	chunks, errs := s.tts.ConvertTextToSpeech(ctx, data.String(KeyText), config)

	buf := entities.NewSynthesisBuffer()
	for chunk := range chunks {
		buf.Append(chunk)
	}
	if err := <-errs; err != nil {
		return saga.Fail(err)
	}
	if buf.Size() == 0 {
		return saga.Fail(domain.ProtocolError("synthesize", errors.New("no audio received")))
	}

	data[KeySynthesized] = buf.Bytes()
	data[KeySynthesizedLen] = buf.Len()
	s.logger.Info("Synthesis received", zap.Int("chunks", buf.Len()), zap.Int("bytes", buf.Size()))
	return saga.Ok(buf.Len())
}

type writeStep struct {
	noCompensation
	store      repositories.MediaStore
	outputFile string
	logger     *zap.Logger
}

func (s *writeStep) ID() saga.StepID {
	return stepID(entities.WorkflowStateWriting)
}

func (s *writeStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	if err := s.store.WriteFile(s.outputFile, data.Bytes(KeySynthesized)); err != nil {
		return saga.Fail(domain.DeviceIOError("write synthesized audio", err))
	}
	data[KeyOutputFile] = s.outputFile
	addFile(data, s.outputFile)
	return saga.Ok(s.outputFile)
}

type playStep struct {
	noCompensation
	store  repositories.MediaStore
	player Player
	logger *zap.Logger
}

func (s *playStep) ID() saga.StepID {
	return stepID(entities.WorkflowStatePlaying)
}

// Execute starts playback and returns without waiting for it to end
func (s *playStep) Execute(ctx context.Context, data saga.SagaData) saga.StepResult {
	done, err := s.player.Play(s.store.Dir(), data.String(KeyOutputFile))
	if err != nil {
		return saga.Fail(err)
	}
	data[KeyPlayback] = done
	return saga.Ok(nil)
}

// Playback returns the channel reporting the end of playback, if one started
func Playback(data saga.SagaData) <-chan error {
	done, _ := data[KeyPlayback].(<-chan error)
	return done
}
