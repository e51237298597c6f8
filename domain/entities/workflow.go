package entities

import (
	"errors"
	"time"
)

// WorkflowKind identifies one of the two user-triggered workflows
type WorkflowKind string

const (
	WorkflowTranscription WorkflowKind = "transcription"
	WorkflowSynthesis     WorkflowKind = "synthesis"
)

// WorkflowState is a state of a workflow state machine
type WorkflowState string

const (
	WorkflowStateIdle           WorkflowState = "idle"
	WorkflowStateRecording      WorkflowState = "recording"
	WorkflowStateConverting     WorkflowState = "converting"
	WorkflowStateDownloading    WorkflowState = "downloading"
	WorkflowStateAuthenticating WorkflowState = "authenticating"
	WorkflowStateStreaming      WorkflowState = "streaming"
	WorkflowStateSynthesizing   WorkflowState = "synthesizing"
	WorkflowStateWriting        WorkflowState = "writing"
	WorkflowStatePlaying        WorkflowState = "playing"
)

// WorkflowOutcome is the final status of a finished workflow
type WorkflowOutcome string

const (
	WorkflowOutcomeCompleted WorkflowOutcome = "completed"
	WorkflowOutcomeFailed    WorkflowOutcome = "failed"
	WorkflowOutcomeCancelled WorkflowOutcome = "cancelled"
)

// WorkflowRecord is the history entry of one workflow run
type WorkflowRecord struct {
	ID           string          `json:"id" bson:"_id"`
	Kind         WorkflowKind    `json:"kind" bson:"kind"`
	Outcome      WorkflowOutcome `json:"outcome" bson:"outcome"`
	States       []WorkflowState `json:"states" bson:"states"`
	Text         string          `json:"text,omitempty" bson:"text,omitempty"`
	Files        []string        `json:"files,omitempty" bson:"files,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty" bson:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty" bson:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at" bson:"started_at"`
	CompletedAt  time.Time       `json:"completed_at" bson:"completed_at"`
}

// Duration returns the wall time the workflow took
func (r *WorkflowRecord) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Validate validates the record before it is persisted
func (r *WorkflowRecord) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	switch r.Kind {
	case WorkflowTranscription, WorkflowSynthesis:
	default:
		return errors.New("invalid workflow kind")
	}
	switch r.Outcome {
	case WorkflowOutcomeCompleted, WorkflowOutcomeFailed, WorkflowOutcomeCancelled:
	default:
		return errors.New("invalid workflow outcome")
	}
	return nil
}
