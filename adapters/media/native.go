package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/repositories"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
)

// NativeDevice captures from the default microphone into WAV files and plays
// WAV files on the default output, through miniaudio.
type NativeDevice struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32
	logger     *zap.Logger
}

// Ensure NativeDevice implements the MediaDevice interface
var _ repositories.MediaDevice = (*NativeDevice)(nil)

// NewNativeDevice initializes the audio context. Call Close() when done.
func NewNativeDevice(sampleRate, channels uint32, logger *zap.Logger) (*NativeDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &NativeDevice{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
	}, nil
}

// Open implements repositories.MediaDevice
func (d *NativeDevice) Open(path string) (repositories.MediaHandle, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	return &nativeHandle{device: d, path: path}, nil
}

// Close releases the audio context
func (d *NativeDevice) Close() error {
	if d.ctx == nil {
		return nil
	}
	if err := d.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	d.ctx.Free()
	d.ctx = nil
	return nil
}

type nativeHandle struct {
	device *NativeDevice
	path   string

	mu      sync.Mutex
	capture *malgo.Device
	samples []int
}

func (h *nativeHandle) StartRecord() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.capture != nil {
		return errors.New("already recording")
	}
	h.samples = h.samples[:0]

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = h.device.channels
	cfg.SampleRate = h.device.sampleRate

	device, err := malgo.InitDevice(h.device.ctx.Context, cfg, malgo.DeviceCallbacks{Data: h.onData})
	if err != nil {
		return fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("starting capture device: %w", err)
	}
	h.capture = device
	return nil
}

// onData is the malgo callback receiving little-endian S16 frames
func (h *nativeHandle) onData(_, pInput []byte, frameCount uint32) {
	count := int(frameCount * h.device.channels)
	h.mu.Lock()
	for i := 0; i < count && 2*i+2 <= len(pInput); i++ {
		h.samples = append(h.samples, int(int16(binary.LittleEndian.Uint16(pInput[2*i:]))))
	}
	h.mu.Unlock()
}

func (h *nativeHandle) StopRecord() error {
	h.mu.Lock()
	device := h.capture
	h.capture = nil
	h.mu.Unlock()

	if device == nil {
		return errors.New("not recording")
	}
	device.Uninit()

	h.mu.Lock()
	samples := append([]int(nil), h.samples...)
	h.mu.Unlock()

	return writeWAV(h.path, samples, int(h.device.sampleRate), int(h.device.channels))
}

func writeWAV(path string, samples []int, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating wav file: %w", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, channels, wavPCMFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}

// readWAV decodes a WAV file into little-endian S16 frames
func readWAV(path string) ([]byte, uint32, uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("opening media file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("unsupported media file %s: only wav can be played natively", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding wav: %w", err)
	}

	shift := int(dec.BitDepth) - wavBitDepth
	pcm := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s)))
	}
	return pcm, dec.SampleRate, uint32(dec.NumChans), nil
}

func (h *nativeHandle) Play(ctx context.Context) error {
	pcm, sampleRate, channels, err := readWAV(h.path)
	if err != nil {
		return err
	}

	var (
		offset   int
		finished = make(chan struct{})
		once     sync.Once
	)
	onData := func(pOutput, _ []byte, _ uint32) {
		n := copy(pOutput, pcm[offset:])
		offset += n
		for i := n; i < len(pOutput); i++ {
			pOutput[i] = 0
		}
		if offset >= len(pcm) {
			once.Do(func() { close(finished) })
		}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = channels
	cfg.SampleRate = sampleRate

	device, err := malgo.InitDevice(h.device.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("initializing playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("starting playback device: %w", err)
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *nativeHandle) Release() error {
	h.mu.Lock()
	device := h.capture
	h.capture = nil
	h.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	return nil
}
