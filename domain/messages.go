package domain

import (
	"time"

	"github.com/satriahrh/ditado/domain/entities"
)

// UIEventType identifies a message pushed to UI clients
type UIEventType string

const (
	UIEventState        UIEventType = "state"
	UIEventBusy         UIEventType = "busy"
	UIEventTranscript   UIEventType = "transcript"
	UIEventWorkflowStep UIEventType = "workflow_step"
	UIEventError        UIEventType = "error"
	UIEventPlayback     UIEventType = "playback"
)

// ErrorInfo is the UI-facing form of a workflow error
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewErrorInfo converts err for display, nil stays nil
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}

// UIState is the snapshot of everything the UI renders
type UIState struct {
	Busy           bool                   `json:"busy"`
	BusyLabel      string                 `json:"busy_label,omitempty"`
	Recording      bool                   `json:"recording"`
	RecordingFile  string                 `json:"recording_file,omitempty"`
	WorkflowID     string                 `json:"workflow_id,omitempty"`
	WorkflowKind   entities.WorkflowKind  `json:"workflow_kind,omitempty"`
	WorkflowState  entities.WorkflowState `json:"workflow_state"`
	RecognizedText string                 `json:"recognized_text"`
	LastError      *ErrorInfo             `json:"last_error,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// UIEvent is one message pushed to UI clients
type UIEvent struct {
	Type       UIEventType            `json:"type"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	State      *UIState               `json:"state,omitempty"`
	Step       entities.WorkflowState `json:"step,omitempty"`
	Text       string                 `json:"text,omitempty"`
	Busy       *bool                  `json:"busy,omitempty"`
	Label      string                 `json:"label,omitempty"`
	Error      *ErrorInfo             `json:"error,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
