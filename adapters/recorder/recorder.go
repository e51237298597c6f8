package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

const defaultExtension = "3gp"

var (
	errAlreadyRecording = errors.New("already recording")
	errNotRecording     = errors.New("not recording")
)

// Recorder owns at most one recording session on top of a MediaDevice.
type Recorder struct {
	device    repositories.MediaDevice
	extension string
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	state  entities.RecorderState
	handle repositories.MediaHandle

	playCtx    context.Context
	playCancel context.CancelFunc
	playing    sync.WaitGroup
}

// NewRecorder creates a recorder producing files with the given extension
func NewRecorder(device repositories.MediaDevice, extension string, logger *zap.Logger) *Recorder {
	if extension == "" {
		extension = defaultExtension
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		device:     device,
		extension:  extension,
		logger:     logger,
		now:        time.Now,
		state:      entities.IdleState(),
		playCtx:    ctx,
		playCancel: cancel,
	}
}

// StartRecording begins capturing into directory/record<epoch-millis>.<ext>
func (r *Recorder) StartRecording(directory string) (*entities.RecordingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.IsRecording() {
		return nil, domain.InvalidTransitionError("start recording", errAlreadyRecording)
	}

	session := entities.NewRecordingSession(directory, r.extension, r.now())
	path := filepath.Join(directory, session.FileName)

	handle, err := r.device.Open(path)
	if err != nil {
		return nil, domain.DeviceIOError("open recording handle", err)
	}
	if err := handle.StartRecord(); err != nil {
		handle.Release()
		return nil, domain.DeviceIOError("start recording", err)
	}

	r.handle = handle
	r.state = entities.RecordingState(session)

	r.logger.Info("Recording started",
		zap.String("file", session.FileName),
		zap.String("directory", directory))

	return session, nil
}

// StopRecording stops capture and returns the file name produced at start.
// The recorder is idle afterwards even when the device fails to stop cleanly,
// and the file name is returned alongside that error so the caller can keep
// whatever the device managed to write.
func (r *Recorder) StopRecording() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.IsRecording() {
		return "", domain.InvalidTransitionError("stop recording", errNotRecording)
	}

	session := r.state.Session
	handle := r.handle
	r.handle = nil
	r.state = entities.IdleState()

	stopErr := handle.StopRecord()
	if err := handle.Release(); err != nil {
		r.logger.Warn("Failed to release recording handle", zap.Error(err))
	}
	if stopErr != nil {
		r.logger.Warn("Recording stopped with device error",
			zap.String("file", session.FileName),
			zap.Error(stopErr))
		return session.FileName, domain.DeviceIOError("stop recording", stopErr)
	}

	r.logger.Info("Recording stopped",
		zap.String("file", session.FileName),
		zap.Duration("duration", session.Duration()))

	return session.FileName, nil
}

// Play starts playback of directory/fileName in the background.
// The returned channel yields the playback result once and is then closed.
func (r *Recorder) Play(directory, fileName string) (<-chan error, error) {
	path := filepath.Join(directory, fileName)

	handle, err := r.device.Open(path)
	if err != nil {
		return nil, domain.DeviceIOError("open playback handle", err)
	}

	done := make(chan error, 1)
	r.playing.Add(1)
	go func() {
		defer r.playing.Done()
		defer close(done)

		err := handle.Play(r.playCtx)
		if releaseErr := handle.Release(); releaseErr != nil {
			r.logger.Warn("Failed to release playback handle", zap.Error(releaseErr))
		}
		if err != nil {
			r.logger.Error("Playback failed", zap.String("file", fileName), zap.Error(err))
			done <- domain.DeviceIOError("play", err)
			return
		}
		r.logger.Info("Playback finished", zap.String("file", fileName))
	}()

	return done, nil
}

// State returns the current recorder state
func (r *Recorder) State() entities.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a session is active
func (r *Recorder) IsRecording() bool {
	return r.State().IsRecording()
}

// Wait blocks until background playbacks finish
func (r *Recorder) Wait() {
	r.playing.Wait()
}

// Close stops any active recording and aborts playback
func (r *Recorder) Close() error {
	var err error
	if r.IsRecording() {
		if _, stopErr := r.StopRecording(); stopErr != nil {
			err = fmt.Errorf("failed to stop recording on close: %w", stopErr)
		}
	}
	r.playCancel()
	r.playing.Wait()
	return err
}
