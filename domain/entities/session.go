package entities

import (
	"fmt"
	"time"
)

// RecorderStatus is the tag of the recorder state
type RecorderStatus string

const (
	RecorderStatusIdle      RecorderStatus = "idle"
	RecorderStatusRecording RecorderStatus = "recording"
)

// RecordingSession is the one in-flight recording owned by the recorder.
type RecordingSession struct {
	FileName  string    `json:"file_name"`
	Directory string    `json:"directory"`
	StartedAt time.Time `json:"started_at"`
}

// NewRecordingSession names a new recording after the start instant:
// record<epoch-millis>.<ext>
func NewRecordingSession(directory, extension string, now time.Time) *RecordingSession {
	return &RecordingSession{
		FileName:  RecordingFileName(now, extension),
		Directory: directory,
		StartedAt: now,
	}
}

// RecordingFileName builds the file name for a recording started at t.
func RecordingFileName(t time.Time, extension string) string {
	return fmt.Sprintf("record%d.%s", t.UnixMilli(), extension)
}

// Duration returns how long the session has been recording
func (s *RecordingSession) Duration() time.Duration {
	return time.Since(s.StartedAt)
}

// RecorderState is either Idle (Session == nil) or Recording(Session).
type RecorderState struct {
	Status  RecorderStatus    `json:"status"`
	Session *RecordingSession `json:"session,omitempty"`
}

// IdleState returns the idle recorder state
func IdleState() RecorderState {
	return RecorderState{Status: RecorderStatusIdle}
}

// RecordingState returns the recording state holding session
func RecordingState(session *RecordingSession) RecorderState {
	return RecorderState{Status: RecorderStatusRecording, Session: session}
}

// IsRecording reports whether the state carries an active session
func (s RecorderState) IsRecording() bool {
	return s.Status == RecorderStatusRecording && s.Session != nil
}
