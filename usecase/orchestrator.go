package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/saga"
	"github.com/satriahrh/ditado/internal/telemetry"
	"github.com/satriahrh/ditado/internal/workflow"
)

const postProcessTimeout = 30 * time.Second

// ErrEmptyText is returned by Synthesize for blank input
var ErrEmptyText = errors.New("text to synthesize is empty")

// Recorder is the recorder wrapper the orchestrator drives
type Recorder interface {
	StartRecording(directory string) (*entities.RecordingSession, error)
	StopRecording() (string, error)
	Play(directory, fileName string) (<-chan error, error)
	State() entities.RecorderState
}

// OrchestratorDeps are the collaborators of the orchestrator. Archive, Events
// and Publisher may be nil.
type OrchestratorDeps struct {
	Recorder      Recorder
	Store         repositories.MediaStore
	Sagas         *saga.Manager
	Transcription saga.SagaDefinition
	Synthesis     saga.SagaDefinition
	Presenter     *Presenter
	History       repositories.HistoryRepository
	Archive       repositories.ArtifactArchive
	Events        repositories.EventPublisher
	Publisher     repositories.UIPublisher
	Metrics       *telemetry.Metrics
	Logger        *zap.Logger
}

// ToggleResult is the outcome of one press of the record/stop toggle
type ToggleResult struct {
	Recording bool                     `json:"recording"`
	FileName  string                   `json:"file_name"`
	Workflow  *entities.WorkflowRecord `json:"workflow,omitempty"`
}

type activeWorkflow struct {
	id      string
	kind    entities.WorkflowKind
	state   entities.WorkflowState
	trail   []entities.WorkflowState
	started time.Time
	cancel  context.CancelFunc
}

// Orchestrator runs the transcription and synthesis workflows, one at a time
type Orchestrator struct {
	deps    OrchestratorDeps
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu             sync.Mutex
	active         *activeWorkflow
	recognizedText string
	lastError      *domain.ErrorInfo
	updatedAt      time.Time

	background sync.WaitGroup
}

// NewOrchestrator creates the orchestrator
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Presenter == nil {
		deps.Presenter = NewPresenter("", deps.Publisher)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NoopMetrics()
	}
	if deps.Sagas == nil {
		deps.Sagas = saga.NewManager(deps.Logger, nil, deps.Metrics)
	}
	return &Orchestrator{
		deps:      deps,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       time.Now,
		updatedAt: time.Now(),
	}
}

// ToggleRecord starts a recording when idle. When recording, it stops and
// runs the transcription workflow to completion.
func (o *Orchestrator) ToggleRecord(ctx context.Context) (*ToggleResult, error) {
	o.mu.Lock()
	if o.active != nil && o.active.state != entities.WorkflowStateRecording {
		active := o.active
		o.mu.Unlock()
		return nil, domain.InvalidTransitionError("toggle record",
			fmt.Errorf("%s workflow %s is %s", active.kind, active.id, active.state))
	}

	if o.active == nil {
		result, err := o.startRecordingLocked()
		o.mu.Unlock()
		if err != nil {
			o.fail(entities.WorkflowTranscription, err)
			return nil, err
		}
		o.publishState()
		return result, nil
	}

	active := o.active
	fileName, err := o.deps.Recorder.StopRecording()
	if err != nil {
		o.active = nil
		o.mu.Unlock()
		record := o.newRecord(active, err)
		if fileName != "" {
			record.Files = []string{fileName}
		}
		o.fail(entities.WorkflowTranscription, err)
		o.finish(record, nil)
		return nil, err
	}
	active.state = firstState(o.deps.Transcription)
	runCtx := o.armLocked(ctx, active)
	o.mu.Unlock()

	o.logger.Info("Recording stopped", zap.String("workflowID", active.id), zap.String("file", fileName))

	record, err := o.run(runCtx, active, o.deps.Transcription, workflow.TranscriptionData(fileName))
	return &ToggleResult{FileName: fileName, Workflow: record}, err
}

func (o *Orchestrator) startRecordingLocked() (*ToggleResult, error) {
	session, err := o.deps.Recorder.StartRecording(o.deps.Store.Dir())
	if err != nil {
		return nil, err
	}
	o.active = &activeWorkflow{
		id:      uuid.NewString(),
		kind:    entities.WorkflowTranscription,
		state:   entities.WorkflowStateRecording,
		trail:   []entities.WorkflowState{entities.WorkflowStateRecording},
		started: o.now(),
	}
	o.updatedAt = o.now()
	o.logger.Info("Recording started",
		zap.String("workflowID", o.active.id),
		zap.String("file", session.FileName))
	return &ToggleResult{Recording: true, FileName: session.FileName}, nil
}

// Synthesize speaks text: token, synthesis socket, write, start playback
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (*entities.WorkflowRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	o.mu.Lock()
	if o.active != nil {
		active := o.active
		o.mu.Unlock()
		return nil, domain.InvalidTransitionError("synthesize",
			fmt.Errorf("%s workflow %s is %s", active.kind, active.id, active.state))
	}
	active := &activeWorkflow{
		id:      uuid.NewString(),
		kind:    entities.WorkflowSynthesis,
		state:   firstState(o.deps.Synthesis),
		started: o.now(),
	}
	o.active = active
	runCtx := o.armLocked(ctx, active)
	o.mu.Unlock()

	return o.run(runCtx, active, o.deps.Synthesis, workflow.SynthesisData(text))
}

// armLocked derives the workflow context. It outlives the caller's context
// and ends on Cancel or when the workflow returns.
func (o *Orchestrator) armLocked(ctx context.Context, active *activeWorkflow) context.Context {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active.cancel = cancel
	o.updatedAt = o.now()
	return runCtx
}

func firstState(def saga.SagaDefinition) entities.WorkflowState {
	steps := def.Steps()
	if len(steps) == 0 {
		return entities.WorkflowStateIdle
	}
	return entities.WorkflowState(steps[0].ID())
}

// Cancel aborts the running workflow. A recording in progress is stopped and
// discarded. It reports whether anything was cancelled.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	active := o.active
	if active == nil {
		o.mu.Unlock()
		return false
	}

	if active.state == entities.WorkflowStateRecording {
		o.active = nil
		fileName, err := o.deps.Recorder.StopRecording()
		o.mu.Unlock()

		cancelErr := &domain.WorkflowError{Kind: domain.KindCancelled, Op: "recording", Err: context.Canceled}
		if err != nil {
			o.logger.Warn("Failed to stop cancelled recording", zap.Error(err))
		}
		record := o.newRecord(active, cancelErr)
		if fileName != "" {
			record.Files = []string{fileName}
		}
		o.finish(record, nil)
		return true
	}

	cancel := active.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.logger.Info("Workflow cancelled", zap.String("workflowID", active.id))
	return true
}

// run drives def on the calling goroutine. The busy indicator is dismissed
// on every exit path.
func (o *Orchestrator) run(ctx context.Context, active *activeWorkflow, def saga.SagaDefinition, data saga.SagaData) (*entities.WorkflowRecord, error) {
	defer active.cancel()

	o.deps.Presenter.Present("")
	defer o.deps.Presenter.Dismiss()
	o.publishState()

	_, err := o.deps.Sagas.Run(ctx, saga.SagaID(active.id), def, data, func(event saga.SagaEvent) {
		if event.Type != saga.EventStepStarted {
			return
		}
		o.enterState(active, entities.WorkflowState(event.StepID))
	})

	o.mu.Lock()
	o.active = nil
	o.mu.Unlock()

	record := o.newRecord(active, err)
	record.Files = workflow.Files(data)

	if err != nil {
		o.fail(active.kind, err)
	} else {
		o.succeed(active, data, record)
	}

	o.deps.Presenter.Dismiss()
	o.finish(record, workflow.Playback(data))
	return record, err
}

func (o *Orchestrator) enterState(active *activeWorkflow, state entities.WorkflowState) {
	o.mu.Lock()
	active.state = state
	active.trail = append(active.trail, state)
	o.updatedAt = o.now()
	o.mu.Unlock()

	o.publish(domain.UIEvent{
		Type:       domain.UIEventWorkflowStep,
		WorkflowID: active.id,
		Step:       state,
	})
	o.publishState()
}

func (o *Orchestrator) succeed(active *activeWorkflow, data saga.SagaData, record *entities.WorkflowRecord) {
	switch active.kind {
	case entities.WorkflowTranscription:
		transcript := data.String(workflow.KeyTranscript)
		record.Text = transcript

		o.mu.Lock()
		o.recognizedText = transcript
		o.lastError = nil
		o.updatedAt = o.now()
		o.mu.Unlock()

		o.publish(domain.UIEvent{
			Type:       domain.UIEventTranscript,
			WorkflowID: active.id,
			Text:       transcript,
		})
	case entities.WorkflowSynthesis:
		record.Text = data.String(workflow.KeyText)

		o.mu.Lock()
		o.lastError = nil
		o.updatedAt = o.now()
		o.mu.Unlock()
	}
}

func (o *Orchestrator) fail(kind entities.WorkflowKind, err error) {
	info := domain.NewErrorInfo(err)

	o.mu.Lock()
	o.lastError = info
	o.updatedAt = o.now()
	o.mu.Unlock()

	o.logger.Error("Workflow failed",
		zap.String("kind", string(kind)),
		zap.String("errorKind", string(info.Kind)),
		zap.Error(err))
	o.publish(domain.UIEvent{Type: domain.UIEventError, Error: info})
}

func (o *Orchestrator) newRecord(active *activeWorkflow, err error) *entities.WorkflowRecord {
	record := &entities.WorkflowRecord{
		ID:          active.id,
		Kind:        active.kind,
		Outcome:     entities.WorkflowOutcomeCompleted,
		States:      append([]entities.WorkflowState(nil), active.trail...),
		StartedAt:   active.started,
		CompletedAt: o.now(),
	}
	if err != nil {
		record.Outcome = entities.WorkflowOutcomeFailed
		if domain.IsKind(err, domain.KindCancelled) {
			record.Outcome = entities.WorkflowOutcomeCancelled
		}
		record.ErrorKind = string(domain.KindOf(err))
		record.ErrorMessage = err.Error()
	}
	return record
}

// finish publishes the idle state and hands the record to history, archive
// and events in the background.
func (o *Orchestrator) finish(record *entities.WorkflowRecord, playback <-chan error) {
	o.metrics.RecordWorkflow(context.Background(), string(record.Kind), string(record.Outcome), record.Duration())
	o.logger.Info("Workflow finished",
		zap.String("workflowID", record.ID),
		zap.String("kind", string(record.Kind)),
		zap.String("outcome", string(record.Outcome)),
		zap.Duration("duration", record.Duration()))
	o.publishState()

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		o.persist(record)
	}()

	if playback != nil {
		o.background.Add(1)
		go func() {
			defer o.background.Done()
			o.watchPlayback(record.ID, playback)
		}()
	}
}

func (o *Orchestrator) persist(record *entities.WorkflowRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), postProcessTimeout)
	defer cancel()

	if o.deps.Archive != nil {
		for _, name := range record.Files {
			location, err := o.deps.Archive.Archive(ctx, record.ID, o.deps.Store.Path(name))
			if err != nil {
				o.logger.Warn("Failed to archive artifact", zap.String("file", name), zap.Error(err))
				continue
			}
			o.logger.Debug("Artifact archived", zap.String("file", name), zap.String("location", location))
		}
	}

	if o.deps.History != nil {
		if err := o.deps.History.Save(ctx, record); err != nil {
			o.logger.Error("Failed to save workflow record", zap.String("workflowID", record.ID), zap.Error(err))
		}
	}

	if o.deps.Events != nil {
		if err := o.deps.Events.PublishWorkflow(ctx, record); err != nil {
			o.logger.Warn("Failed to publish workflow event", zap.String("workflowID", record.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) watchPlayback(workflowID string, playback <-chan error) {
	err := <-playback
	event := domain.UIEvent{
		Type:       domain.UIEventPlayback,
		WorkflowID: workflowID,
		Error:      domain.NewErrorInfo(err),
	}
	if err != nil {
		o.logger.Warn("Playback failed", zap.String("workflowID", workflowID), zap.Error(err))
	}
	o.publish(event)
}

// State returns the snapshot UI clients render
func (o *Orchestrator) State() domain.UIState {
	busy, label := o.deps.Presenter.Busy()
	recorder := o.deps.Recorder.State()

	o.mu.Lock()
	defer o.mu.Unlock()

	state := domain.UIState{
		Busy:           busy,
		BusyLabel:      label,
		Recording:      recorder.IsRecording(),
		WorkflowState:  entities.WorkflowStateIdle,
		RecognizedText: o.recognizedText,
		LastError:      o.lastError,
		UpdatedAt:      o.updatedAt,
	}
	if recorder.IsRecording() {
		state.RecordingFile = recorder.Session.FileName
	}
	if o.active != nil {
		state.WorkflowID = o.active.id
		state.WorkflowKind = o.active.kind
		state.WorkflowState = o.active.state
	}
	return state
}

// History lists recent workflow records, newest first
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*entities.WorkflowRecord, error) {
	if o.deps.History == nil {
		return nil, nil
	}
	return o.deps.History.List(ctx, limit)
}

// Workflow returns one workflow record by id
func (o *Orchestrator) Workflow(ctx context.Context, id string) (*entities.WorkflowRecord, error) {
	if o.deps.History == nil {
		return nil, repositories.ErrRecordNotFound
	}
	return o.deps.History.GetByID(ctx, id)
}

// Wait blocks until background persistence and playback watchers finish
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) publishState() {
	state := o.State()
	o.publish(domain.UIEvent{
		Type:       domain.UIEventState,
		WorkflowID: state.WorkflowID,
		State:      &state,
	})
}

func (o *Orchestrator) publish(event domain.UIEvent) {
	if o.deps.Publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	o.deps.Publisher.Publish(event)
}
