package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/internal/telemetry"
)

const compensationTimeout = 10 * time.Second

// Manager runs sagas and tracks the ones in flight
type Manager struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	instances map[SagaID]*SagaInstance
	mu        sync.RWMutex
}

// NewManager creates a new saga manager. tracer and metrics may be nil.
func NewManager(logger *zap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *Manager {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("saga")
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}
	return &Manager{
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		instances: make(map[SagaID]*SagaInstance),
	}
}

// Run executes the steps of def in order on the calling goroutine. On the
// first failure the completed steps are compensated in reverse order and the
// step error is returned. listener, when set, sees every event in order.
func (m *Manager) Run(ctx context.Context, id SagaID, def SagaDefinition, data SagaData, listener Listener) (*SagaInstance, error) {
	if id == "" {
		id = SagaID(uuid.NewString())
	}
	if data == nil {
		data = SagaData{}
	}

	steps := def.Steps()
	stepExecs := make([]StepExecution, len(steps))
	for i, step := range steps {
		stepExecs[i] = StepExecution{
			ID:    step.ID(),
			State: StepStatePending,
		}
	}

	instance := &SagaInstance{
		ID:         id,
		Definition: def.ID(),
		State:      SagaStateStarted,
		Data:       data,
		Steps:      stepExecs,
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	if _, exists := m.instances[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("saga %s is already running", id)
	}
	m.instances[id] = instance
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.instances, id)
		m.mu.Unlock()
	}()

	if timeout := def.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := m.tracer.Start(ctx, "saga."+def.ID(), trace.WithAttributes(
		attribute.String("saga.id", string(id)),
	))
	defer span.End()

	emit := func(event SagaEvent) {
		event.SagaID = id
		event.Definition = def.ID()
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}
		if listener != nil {
			listener(event)
		}
	}

	emit(SagaEvent{Type: EventSagaStarted})
	m.logger.Info("Saga started", zap.String("sagaID", string(id)), zap.String("definition", def.ID()))
	m.updateSagaState(id, SagaStateRunning)

	lastCompletedStep := -1
	var stepErr error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			stepErr = fmt.Errorf("saga %s stopped before step %s: %w", def.ID(), step.ID(), err)
			break
		}
		if err := m.executeStep(ctx, instance, i, step, emit); err != nil {
			m.logger.Error("Step failed",
				zap.String("sagaID", string(id)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			stepErr = err
			break
		}
		lastCompletedStep = i
	}

	if stepErr == nil {
		m.finish(instance, SagaStateCompleted, "")
		emit(SagaEvent{Type: EventSagaCompleted})
		m.logger.Info("Saga completed", zap.String("sagaID", string(id)))
		return m.snapshot(instance), nil
	}

	span.RecordError(stepErr)
	span.SetStatus(codes.Error, stepErr.Error())

	if lastCompletedStep >= 0 {
		m.logger.Info("Starting compensation", zap.String("sagaID", string(id)))
		m.compensate(ctx, instance, steps, lastCompletedStep, emit)
		m.finish(instance, SagaStateCompensated, stepErr.Error())
		emit(SagaEvent{Type: EventSagaCompensated, Data: stepErr.Error()})
	} else {
		m.finish(instance, SagaStateFailed, stepErr.Error())
		emit(SagaEvent{Type: EventSagaFailed, Data: stepErr.Error()})
	}
	return m.snapshot(instance), stepErr
}

// executeStep executes a single step
func (m *Manager) executeStep(ctx context.Context, instance *SagaInstance, stepIndex int, step Step, emit Listener) error {
	ctx, span := m.tracer.Start(ctx, "step."+string(step.ID()))
	defer span.End()

	started := time.Now()
	m.updateStep(instance.ID, stepIndex, func(s *StepExecution) {
		s.State = StepStateRunning
		s.StartedAt = &started
	})
	emit(SagaEvent{StepID: step.ID(), Type: EventStepStarted, Timestamp: started})

	result := step.Execute(ctx, instance.Data)
	if result.Success && result.Error != nil {
		result.Success = false
	}
	if !result.Success && result.Error == nil {
		result.Error = fmt.Errorf("step %s failed without an error", step.ID())
	}

	finished := time.Now()
	m.metrics.RecordStep(ctx, instance.Definition, string(step.ID()), finished.Sub(started), result.Error)

	if result.Success {
		m.updateStep(instance.ID, stepIndex, func(s *StepExecution) {
			s.State = StepStateCompleted
			s.CompletedAt = &finished
			s.Result = result.Data
		})
		emit(SagaEvent{StepID: step.ID(), Type: EventStepCompleted, Timestamp: finished, Data: result.Data})

		m.logger.Debug("Step completed",
			zap.String("sagaID", string(instance.ID)),
			zap.String("stepID", string(step.ID())),
			zap.Duration("duration", finished.Sub(started)))
		return nil
	}

	span.RecordError(result.Error)
	span.SetStatus(codes.Error, result.Error.Error())
	m.updateStep(instance.ID, stepIndex, func(s *StepExecution) {
		s.State = StepStateFailed
		s.CompletedAt = &finished
		s.Error = result.Error.Error()
	})
	emit(SagaEvent{StepID: step.ID(), Type: EventStepFailed, Timestamp: finished, Data: result.Error.Error()})
	return result.Error
}

// compensate runs compensation for completed steps in reverse order. It
// ignores cancellation of ctx so cleanup still happens after a timeout.
func (m *Manager) compensate(ctx context.Context, instance *SagaInstance, steps []Step, lastCompletedStep int, emit Listener) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := lastCompletedStep; i >= 0; i-- {
		step := steps[i]

		if err := step.Compensate(ctx, instance.Data); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("sagaID", string(instance.ID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}
		m.updateStep(instance.ID, i, func(s *StepExecution) {
			s.State = StepStateCompensated
		})
		emit(SagaEvent{StepID: step.ID(), Type: EventStepCompensated})
	}
}

// GetSaga returns a copy of a running saga instance
func (m *Manager) GetSaga(sagaID SagaID) (*SagaInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, exists := m.instances[sagaID]
	if !exists {
		return nil, false
	}
	return copyInstance(instance), true
}

// Running returns the number of sagas in flight
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

func (m *Manager) updateSagaState(sagaID SagaID, state SagaState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, exists := m.instances[sagaID]; exists {
		instance.State = state
	}
}

func (m *Manager) updateStep(sagaID SagaID, stepIndex int, update func(*StepExecution)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, exists := m.instances[sagaID]; exists && stepIndex < len(instance.Steps) {
		update(&instance.Steps[stepIndex])
	}
}

func (m *Manager) finish(instance *SagaInstance, state SagaState, errMsg string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	instance.State = state
	instance.CompletedAt = &now
	instance.Error = errMsg
}

func (m *Manager) snapshot(instance *SagaInstance) *SagaInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyInstance(instance)
}

func copyInstance(instance *SagaInstance) *SagaInstance {
	c := *instance
	c.Steps = append([]StepExecution(nil), instance.Steps...)
	return &c
}
