package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/ditado/adapters/media"
	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

func newTestRecorder(t *testing.T) (*Recorder, *media.MockDevice) {
	logger := zaptest.NewLogger(t)
	device := media.NewMockDevice([]byte("3gp"), 0, logger)
	r := NewRecorder(device, "", logger)
	t.Cleanup(func() { r.Close() })
	return r, device
}

func TestStartRecordingFileName(t *testing.T) {
	r, _ := newTestRecorder(t)
	dir := t.TempDir()

	session, err := r.StartRecording(dir)
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	if !regexp.MustCompile(`^record\d+\.3gp$`).MatchString(session.FileName) {
		t.Errorf("Unexpected file name %s", session.FileName)
	}
	if !r.IsRecording() {
		t.Error("Expected recorder to be recording")
	}
}

func TestStopRecordingReturnsStartFileName(t *testing.T) {
	r, _ := newTestRecorder(t)
	dir := t.TempDir()
	r.now = func() time.Time { return time.UnixMilli(1700000000123) }

	session, err := r.StartRecording(dir)
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	name, err := r.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if name != session.FileName || name != "record1700000000123.3gp" {
		t.Errorf("Expected %s, got %s", session.FileName, name)
	}
	if r.IsRecording() || r.State().Session != nil {
		t.Error("Expected session to be cleared after stop")
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("Expected recording file on disk: %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	r, _ := newTestRecorder(t)
	dir := t.TempDir()

	if _, err := r.StopRecording(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition on stop while idle, got %v", err)
	}

	first, err := r.StartRecording(dir)
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := r.StartRecording(dir); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition on second start, got %v", err)
	}
	if r.State().Session != first {
		t.Error("Expected the original session to be kept")
	}
}

type failingDevice struct{}

func (failingDevice) Open(string) (repositories.MediaHandle, error) {
	return nil, errors.New("no microphone")
}

func TestStartRecordingDeviceFailure(t *testing.T) {
	r := NewRecorder(failingDevice{}, "3gp", zaptest.NewLogger(t))

	_, err := r.StartRecording(t.TempDir())
	if !domain.IsKind(err, domain.KindDeviceIO) {
		t.Errorf("Expected device io error, got %v", err)
	}
	if r.IsRecording() {
		t.Error("Expected recorder to stay idle")
	}
}

type stopFailingHandle struct{}

func (stopFailingHandle) StartRecord() error { return nil }
func (stopFailingHandle) StopRecord() error { return errors.New("device busy") }
func (stopFailingHandle) Play(context.Context) error { return nil }
func (stopFailingHandle) Release() error { return nil }

type stopFailingDevice struct{}

func (stopFailingDevice) Open(string) (repositories.MediaHandle, error) {
	return stopFailingHandle{}, nil
}

func TestStopRecordingDeviceFailureKeepsFileName(t *testing.T) {
	r := NewRecorder(stopFailingDevice{}, "3gp", zaptest.NewLogger(t))

	session, err := r.StartRecording(t.TempDir())
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	name, err := r.StopRecording()
	if !domain.IsKind(err, domain.KindDeviceIO) {
		t.Errorf("Expected device io error, got %v", err)
	}
	if name != session.FileName {
		t.Errorf("Expected %s alongside the error, got %q", session.FileName, name)
	}
	if r.IsRecording() {
		t.Error("Expected recorder to be idle after a failed stop")
	}
}

func TestPlay(t *testing.T) {
	r, device := newTestRecorder(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "synthesized.ogg"), []byte("ogg"), 0o644); err != nil {
		t.Fatal(err)
	}

	done, err := r.Play(dir, "synthesized.ogg")
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Playback error = %v", err)
	}
	if played := device.Played(); len(played) != 1 {
		t.Errorf("Expected one playback, got %v", played)
	}

	done, err = r.Play(dir, "missing.ogg")
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := <-done; !domain.IsKind(err, domain.KindDeviceIO) {
		t.Errorf("Expected device io error for missing file, got %v", err)
	}
}
