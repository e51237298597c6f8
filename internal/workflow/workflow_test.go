package workflow

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/ditado/adapters/storage"
	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
	"github.com/satriahrh/ditado/internal/saga"
)

type fakeConverter struct {
	request  repositories.ConversionRequest
	result   entities.ConversionResult
	destPath string
	payload  []byte
	err      error
}

func (f *fakeConverter) Convert(ctx context.Context, req repositories.ConversionRequest) (entities.ConversionResult, error) {
	f.request = req
	if f.err != nil {
		return entities.ConversionResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeConverter) Download(ctx context.Context, result entities.ConversionResult, destPath string) error {
	f.destPath = destPath
	return os.WriteFile(destPath, f.payload, 0o644)
}

type fakeTokens struct {
	credential entities.Credential
	err        error
}

func (f *fakeTokens) Token(ctx context.Context, credential entities.Credential) (string, error) {
	f.credential = credential
	if f.err != nil {
		return "", f.err
	}
	return "token-123", nil
}

type fakeSTT struct {
	config     repositories.AudioConfig
	frames     [][]byte
	transcript string
	endErr     error
	ended      int
}

func (f *fakeSTT) TranscribeAudio(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	return f.transcript, nil
}

func (f *fakeSTT) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	f.config = config
	return f, nil
}

func (f *fakeSTT) Stream(data []byte) error {
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeSTT) End() (string, error) {
	f.ended++
	return f.transcript, f.endErr
}

type fakeTTS struct {
	chunks []string
	err    error
	voice  repositories.VoiceConfig
}

func (f *fakeTTS) ConvertTextToSpeech(ctx context.Context, text string, config repositories.VoiceConfig) (<-chan []byte, <-chan error) {
	f.voice = config
	out := make(chan []byte, len(f.chunks))
	errs := make(chan error, 1)
	for _, c := range f.chunks {
		out <- []byte(c)
	}
	close(out)
	if f.err != nil {
		errs <- f.err
	}
	close(errs)
	return out, errs
}

type fakePlayer struct {
	directory string
	fileName  string
}

func (f *fakePlayer) Play(directory, fileName string) (<-chan error, error) {
	f.directory = directory
	f.fileName = fileName
	done := make(chan error, 1)
	close(done)
	return done, nil
}

func newStore(t *testing.T) *storage.FileStore {
	store, err := storage.NewFileStore(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func stepIDs(def saga.SagaDefinition) []string {
	var ids []string
	for _, s := range def.Steps() {
		ids = append(ids, string(s.ID()))
	}
	return ids
}

func TestTranscriptionRunsAllSteps(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := newStore(t)
	store.WriteFile("record1.3gp", []byte("raw-3gp"))

	converter := &fakeConverter{
		result:  entities.ConversionResult{OutputURL: "//host.example/dl/abc", OutputFileName: "record1.flac"},
		payload: []byte("flac-bytes"),
	}
	tokens := &fakeTokens{}
	stt := &fakeSTT{transcript: "hello"}
	credential := entities.Credential{ServiceURL: "https://stt.example", Username: "u", Password: "p"}

	def := NewTranscription(Dependencies{
		Store:        store,
		Converter:    converter,
		Tokens:       tokens,
		SpeechToText: stt,
		Logger:       logger,
	}, TranscriptionOptions{
		InputFormat:  "3gp",
		OutputFormat: "flac",
		Credential:   credential,
		Audio:        repositories.AudioConfig{ContentType: "audio/flac", Model: "pt-BR_BroadbandModel"},
		StreamMode:   StreamModeSingle,
	})

	want := []string{"converting", "downloading", "authenticating", "streaming"}
	if got := stepIDs(def); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Expected steps %v, got %v", want, got)
	}

	data := TranscriptionData("record1.3gp")
	if _, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, data, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if converter.request.FileName != "record1.3gp" {
		t.Errorf("Expected conversion of record1.3gp, got %s", converter.request.FileName)
	}
	if !strings.HasPrefix(converter.request.DataURL, "data:audio/3gpp;base64,") {
		t.Errorf("Unexpected data url %s", converter.request.DataURL)
	}
	if converter.destPath != store.Path("record1.flac") {
		t.Errorf("Expected download to %s, got %s", store.Path("record1.flac"), converter.destPath)
	}
	if tokens.credential != credential {
		t.Error("Expected the speech-to-text credential to be used")
	}
	if stt.config.AccessToken != "token-123" {
		t.Errorf("Expected token to reach the socket, got %q", stt.config.AccessToken)
	}
	if len(stt.frames) != 1 || string(stt.frames[0]) != "flac-bytes" {
		t.Errorf("Expected one frame with the converted audio, got %q", stt.frames)
	}
	if stt.ended != 1 {
		t.Errorf("Expected End once, got %d", stt.ended)
	}
	if data.String(KeyTranscript) != "hello" {
		t.Errorf("Expected transcript hello, got %q", data.String(KeyTranscript))
	}
	if files := Files(data); len(files) != 2 || files[1] != "record1.flac" {
		t.Errorf("Unexpected files %v", files)
	}
}

func TestTranscriptionChunkedStreaming(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := newStore(t)
	store.WriteFile("record2.3gp", []byte("0123456789"))
	stt := &fakeSTT{transcript: "ok"}

	def := NewTranscription(Dependencies{Store: store, SpeechToText: stt, Logger: logger},
		TranscriptionOptions{StreamMode: StreamModeChunked, ChunkSize: 4})

	if got := stepIDs(def); len(got) != 1 || got[0] != "streaming" {
		t.Fatalf("Expected only the streaming step, got %v", got)
	}

	if _, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, TranscriptionData("record2.3gp"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(stt.frames) != 3 || string(stt.frames[2]) != "89" {
		t.Errorf("Expected frames 0123/4567/89, got %q", stt.frames)
	}
}

func TestTranscriptionFailureRemovesConvertedFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := newStore(t)
	store.WriteFile("record3.3gp", []byte("raw"))

	converter := &fakeConverter{
		result:  entities.ConversionResult{OutputURL: "//h/x", OutputFileName: "record3.flac"},
		payload: []byte("flac"),
	}
	stt := &fakeSTT{endErr: domain.ProtocolError("recognize", errors.New("no results"))}

	def := NewTranscription(Dependencies{Store: store, Converter: converter, SpeechToText: stt, Logger: logger},
		TranscriptionOptions{StreamMode: StreamModeSingle})

	_, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, TranscriptionData("record3.3gp"), nil)
	if !domain.IsKind(err, domain.KindProtocol) {
		t.Fatalf("Expected protocol error, got %v", err)
	}
	if _, err := os.Stat(store.Path("record3.flac")); !os.IsNotExist(err) {
		t.Error("Expected converted file to be removed")
	}
	if _, err := os.Stat(store.Path("record3.3gp")); err != nil {
		t.Error("Expected recording to be kept")
	}
}

func TestTranscriptionMissingRecording(t *testing.T) {
	logger := zaptest.NewLogger(t)
	def := NewTranscription(Dependencies{Store: newStore(t), Converter: &fakeConverter{}, SpeechToText: &fakeSTT{}, Logger: logger},
		TranscriptionOptions{})

	_, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, TranscriptionData("missing.3gp"), nil)
	if !domain.IsKind(err, domain.KindDeviceIO) {
		t.Errorf("Expected device io error, got %v", err)
	}
}

func TestFrames(t *testing.T) {
	audio := []byte("abcdefgh")
	tests := []struct {
		name string
		mode string
		size int
		want int
	}{
		{"single", StreamModeSingle, 3, 1},
		{"chunked", StreamModeChunked, 3, 3},
		{"chunked exact", StreamModeChunked, 4, 2},
		{"chunked larger than audio", StreamModeChunked, 100, 1},
		{"chunked zero size", StreamModeChunked, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := Frames(audio, tt.mode, tt.size)
			if len(frames) != tt.want {
				t.Errorf("Expected %d frames, got %d", tt.want, len(frames))
			}
			var joined []byte
			for _, f := range frames {
				joined = append(joined, f...)
			}
			if string(joined) != string(audio) {
				t.Errorf("Frames do not rebuild the audio: %q", joined)
			}
		})
	}
}

func TestSynthesisWritesJoinedChunksAndPlays(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := newStore(t)
	tokens := &fakeTokens{}
	tts := &fakeTTS{chunks: []string{"a", "b", "c"}}
	player := &fakePlayer{}

	def := NewSynthesis(Dependencies{
		Store:        store,
		Tokens:       tokens,
		TextToSpeech: tts,
		Player:       player,
		Logger:       logger,
	}, SynthesisOptions{
		Voice:      repositories.VoiceConfig{Voice: "pt-BR_IsabelaVoice", Accept: "*/*"},
		OutputFile: "synthesized.ogg",
		Timeout:    time.Minute,
	})

	want := []string{"authenticating", "synthesizing", "writing", "playing"}
	if got := stepIDs(def); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Expected steps %v, got %v", want, got)
	}

	data := SynthesisData("ola")
	if _, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, data, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	written, err := store.ReadFile("synthesized.ogg")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(written) != "abc" {
		t.Errorf("Expected abc, got %q", written)
	}
	if tts.voice.AccessToken != "token-123" {
		t.Errorf("Expected token to reach the socket, got %q", tts.voice.AccessToken)
	}
	if player.directory != store.Dir() || player.fileName != "synthesized.ogg" {
		t.Errorf("Unexpected playback target %s/%s", player.directory, player.fileName)
	}
	if Playback(data) == nil {
		t.Error("Expected a playback channel")
	}
}

func TestSynthesisOverwritesPreviousFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := newStore(t)
	store.WriteFile("synthesized.ogg", []byte("old-audio-content"))

	def := NewSynthesis(Dependencies{
		Store:        store,
		TextToSpeech: &fakeTTS{chunks: []string{"new"}},
		Player:       &fakePlayer{},
		Logger:       logger,
	}, SynthesisOptions{OutputFile: "synthesized.ogg"})

	if _, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, SynthesisData("x"), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	written, _ := store.ReadFile("synthesized.ogg")
	if string(written) != "new" {
		t.Errorf("Expected file to be overwritten, got %q", written)
	}
}

func TestSynthesisErrors(t *testing.T) {
	tests := []struct {
		name string
		tts  *fakeTTS
		kind domain.ErrorKind
	}{
		{"provider error", &fakeTTS{chunks: []string{"a"}, err: domain.AuthError("synthesize", errors.New("401"))}, domain.KindAuth},
		{"no audio", &fakeTTS{}, domain.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			store := newStore(t)
			player := &fakePlayer{}
			def := NewSynthesis(Dependencies{Store: store, TextToSpeech: tt.tts, Player: player, Logger: logger},
				SynthesisOptions{OutputFile: "synthesized.ogg"})

			_, err := saga.NewManager(logger, nil, nil).Run(context.Background(), "", def, SynthesisData("x"), nil)
			if !domain.IsKind(err, tt.kind) {
				t.Fatalf("Expected %s error, got %v", tt.kind, err)
			}
			if _, err := store.ReadFile("synthesized.ogg"); err == nil {
				t.Error("Did not expect a synthesized file")
			}
			if player.fileName != "" {
				t.Error("Did not expect playback")
			}
		})
	}
}
