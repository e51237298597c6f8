package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/repositories"
)

// MockDevice is a placeholder media device. Recording writes a fixed payload to
// the handle's path on stop, playback waits for PlayDuration.
type MockDevice struct {
	logger       *zap.Logger
	payload      []byte
	playDuration time.Duration

	mu     sync.Mutex
	played []string
}

// Ensure MockDevice implements the MediaDevice interface
var _ repositories.MediaDevice = (*MockDevice)(nil)

// NewMockDevice creates a new mock media device
func NewMockDevice(payload []byte, playDuration time.Duration, logger *zap.Logger) *MockDevice {
	if payload == nil {
		payload = mockAudio(2048)
	}
	return &MockDevice{
		logger:       logger,
		payload:      payload,
		playDuration: playDuration,
	}
}

// Open implements repositories.MediaDevice
func (d *MockDevice) Open(path string) (repositories.MediaHandle, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	return &mockHandle{device: d, path: path}, nil
}

// Played returns the paths played so far, in order
func (d *MockDevice) Played() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.played...)
}

type mockHandle struct {
	device    *MockDevice
	path      string
	recording bool
	released  bool
}

func (h *mockHandle) StartRecord() error {
	if h.released {
		return errors.New("handle released")
	}
	if h.recording {
		return errors.New("already recording")
	}
	h.recording = true
	h.device.logger.Debug("Mock recording started", zap.String("path", h.path))
	return nil
}

func (h *mockHandle) StopRecord() error {
	if !h.recording {
		return errors.New("not recording")
	}
	h.recording = false
	if err := os.WriteFile(h.path, h.device.payload, 0o644); err != nil {
		return fmt.Errorf("failed to write mock recording: %w", err)
	}
	h.device.logger.Debug("Mock recording stopped",
		zap.String("path", h.path),
		zap.Int("bytes", len(h.device.payload)))
	return nil
}

func (h *mockHandle) Play(ctx context.Context) error {
	if _, err := os.Stat(h.path); err != nil {
		return fmt.Errorf("failed to open media file: %w", err)
	}

	h.device.mu.Lock()
	h.device.played = append(h.device.played, h.path)
	h.device.mu.Unlock()

	if h.device.playDuration <= 0 {
		return nil
	}
	select {
	case <-time.After(h.device.playDuration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *mockHandle) Release() error {
	h.released = true
	return nil
}

// mockAudio generates a byte pattern standing in for encoded audio
func mockAudio(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}
