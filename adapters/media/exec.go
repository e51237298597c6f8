package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/repositories"
)

// FilePlaceholder is replaced by the handle's path in command templates
const FilePlaceholder = "{file}"

const stopGracePeriod = 5 * time.Second

// ExecDevice records and plays through external commands such as
// `arecord -f S16_LE {file}` and `aplay {file}`.
type ExecDevice struct {
	recordCmd []string
	playCmd   []string
	logger    *zap.Logger
}

// Ensure ExecDevice implements the MediaDevice interface
var _ repositories.MediaDevice = (*ExecDevice)(nil)

// NewExecDevice parses both command templates
func NewExecDevice(recordCommand, playCommand string, logger *zap.Logger) (*ExecDevice, error) {
	recordCmd, err := parseCommand(recordCommand)
	if err != nil {
		return nil, fmt.Errorf("parse record command: %w", err)
	}
	playCmd, err := parseCommand(playCommand)
	if err != nil {
		return nil, fmt.Errorf("parse play command: %w", err)
	}
	return &ExecDevice{recordCmd: recordCmd, playCmd: playCmd, logger: logger}, nil
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("command empty")
	}
	return args, nil
}

// expand substitutes the file placeholder, appending the path when the template has none
func expand(template []string, path string) []string {
	args := make([]string, 0, len(template)+1)
	found := false
	for _, arg := range template {
		if strings.Contains(arg, FilePlaceholder) {
			found = true
			arg = strings.ReplaceAll(arg, FilePlaceholder, path)
		}
		args = append(args, arg)
	}
	if !found {
		args = append(args, path)
	}
	return args
}

// Open implements repositories.MediaDevice
func (d *ExecDevice) Open(path string) (repositories.MediaHandle, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	return &execHandle{device: d, path: path}, nil
}

type execHandle struct {
	device *ExecDevice
	path   string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan error
}

func (h *execHandle) StartRecord() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd != nil {
		return errors.New("already recording")
	}

	args := expand(h.device.recordCmd, h.path)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start record command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()

	h.cmd = cmd
	h.done = done
	h.device.logger.Debug("Record command started",
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// StopRecord interrupts the record command so it can finalize the file
func (h *execHandle) StopRecord() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd == nil {
		return errors.New("not recording")
	}
	cmd, done := h.cmd, h.done
	h.cmd, h.done = nil, nil

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to interrupt record command: %w", err)
	}

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("record command failed: %w", err)
		}
	case <-time.After(stopGracePeriod):
		cmd.Process.Kill()
		<-done
		h.device.logger.Warn("Record command killed after grace period", zap.String("path", h.path))
	}

	if _, err := os.Stat(h.path); err != nil {
		return fmt.Errorf("recording file missing: %w", err)
	}
	return nil
}

func (h *execHandle) Play(ctx context.Context) error {
	args := expand(h.device.playCmd, h.path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("play command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (h *execHandle) Release() error {
	h.mu.Lock()
	cmd, done := h.cmd, h.done
	h.cmd, h.done = nil, nil
	h.mu.Unlock()

	if cmd != nil {
		cmd.Process.Kill()
		<-done
	}
	return nil
}
