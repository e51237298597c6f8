package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

func drain(chunks <-chan []byte, errs <-chan error) ([]byte, error) {
	var out []byte
	for chunk := range chunks {
		out = append(out, chunk...)
	}
	return out, <-errs
}

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewElevenLabsTTS(ElevenLabsConfig{}, logger); err == nil {
		t.Error("Expected error when API key is not set")
	}
	if _, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", Stability: 2}, logger); err == nil {
		t.Error("Expected error for stability out of range")
	}

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, logger)
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}
	if tts.apiKey != "test-api-key" {
		t.Errorf("Expected API key 'test-api-key', got '%s'", tts.apiKey)
	}
	if tts.voiceID != defaultVoiceID {
		t.Errorf("Expected default voice ID '%s', got '%s'", defaultVoiceID, tts.voiceID)
	}
	if tts.stability != defaultStability || tts.clarity != defaultClarity {
		t.Errorf("Expected default voice settings, got %f/%f", tts.stability, tts.clarity)
	}
}

func TestElevenLabsStreamsBody(t *testing.T) {
	var got ElevenLabsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "test-api-key" {
			t.Errorf("Missing api key header")
		}
		if !strings.HasPrefix(r.URL.Path, "/text-to-speech/custom-voice/stream") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key", APIBaseURL: server.URL, ChunkSize: 3}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	audio, err := drain(tts.ConvertTextToSpeech(context.Background(), "olá", repositories.VoiceConfig{Voice: "custom-voice"}))
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if string(audio) != strings.Repeat("x", 10) {
		t.Errorf("Unexpected audio %q", audio)
	}
	if got.Text != "olá" || got.ModelID != defaultModelID {
		t.Errorf("Unexpected request %+v", got)
	}
}

func TestElevenLabsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	tts, _ := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "bad", APIBaseURL: server.URL}, zaptest.NewLogger(t))

	if _, err := drain(tts.ConvertTextToSpeech(context.Background(), "olá", repositories.VoiceConfig{})); !domain.IsKind(err, domain.KindAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}
	if _, err := drain(tts.ConvertTextToSpeech(context.Background(), "  ", repositories.VoiceConfig{})); !domain.IsKind(err, domain.KindProtocol) {
		t.Errorf("Expected protocol error for empty text, got %v", err)
	}
}

func TestMockTextToSpeech(t *testing.T) {
	tts := NewMockTextToSpeech(zaptest.NewLogger(t))

	audio, err := drain(tts.ConvertTextToSpeech(context.Background(), "abc", repositories.VoiceConfig{}))
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if len(audio) != 300 {
		t.Errorf("Expected 300 bytes, got %d", len(audio))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := drain(tts.ConvertTextToSpeech(ctx, "abc", repositories.VoiceConfig{})); !domain.IsKind(err, domain.KindCancelled) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
}
