package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mockConfig() Config {
	cfg := Default()
	cfg.Device.Backend = "mock"
	cfg.Conversion.Enabled = false
	cfg.SpeechToText.Provider = "mock"
	cfg.TextToSpeech.Provider = "mock"
	cfg.History.Backend = "memory"
	return cfg
}

func TestDefaultCarriesNoCredentials(t *testing.T) {
	cfg := Default()

	if cfg.SpeechToText.Username != "" || cfg.SpeechToText.Password != "" {
		t.Error("Default config should not carry speech-to-text credentials")
	}
	if cfg.Conversion.APIKey != "" {
		t.Error("Default config should not carry a conversion api key")
	}
	if cfg.Workflow.BusyLabel != "Aguarde..." {
		t.Errorf("Expected default busy label Aguarde..., got %s", cfg.Workflow.BusyLabel)
	}
	if cfg.Media.SynthesizedFile != "synthesized.ogg" {
		t.Errorf("Expected synthesized.ogg, got %s", cfg.Media.SynthesizedFile)
	}

	// watson providers without credentials must not validate
	if err := cfg.Validate(); err == nil {
		t.Error("Expected default config to fail validation without credentials")
	}
}

func TestDefaultRecordsInDeclaredFormat(t *testing.T) {
	cfg := Default()

	if cfg.Conversion.InputFormat != cfg.Media.RecordingExtension {
		t.Errorf("Expected input format %s to match recording extension %s",
			cfg.Conversion.InputFormat, cfg.Media.RecordingExtension)
	}
	if !strings.Contains(cfg.Device.RecordCommand, "-f "+cfg.Media.RecordingExtension+" {file}") {
		t.Errorf("Expected the default record command to write %s, got %q",
			cfg.Media.RecordingExtension, cfg.Device.RecordCommand)
	}
}

func TestNativeBackendWithWAV(t *testing.T) {
	cfg := mockConfig()
	cfg.Device.Backend = "native"
	cfg.Media.RecordingExtension = "wav"
	cfg.Conversion.Enabled = true
	cfg.Conversion.APIKey = "k"
	cfg.Conversion.InputFormat = "wav"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected native wav config to be valid, got %v", err)
	}
}

func TestMockConfigValidates(t *testing.T) {
	if err := mockConfig().Validate(); err != nil {
		t.Errorf("Expected mock config to be valid, got %v", err)
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"device backend", func(c *Config) { c.Device.Backend = "alsa" }, "device.backend"},
		{"stt provider", func(c *Config) { c.SpeechToText.Provider = "vosk" }, "speech_to_text.provider"},
		{"stream mode", func(c *Config) { c.SpeechToText.StreamMode = "partial" }, "stream_mode"},
		{"chunk size", func(c *Config) { c.SpeechToText.StreamMode = "chunked"; c.SpeechToText.ChunkSize = 0 }, "chunk_size"},
		{"tts provider", func(c *Config) { c.TextToSpeech.Provider = "polly" }, "text_to_speech.provider"},
		{"history backend", func(c *Config) { c.History.Backend = "redis" }, "history.backend"},
		{"synthesized file", func(c *Config) { c.Media.SynthesizedFile = "../out.ogg" }, "synthesized_file"},
		{"jwt secret", func(c *Config) { c.API.AuthEnabled = true }, "jwt_secret"},
		{"conversion key", func(c *Config) { c.Conversion.Enabled = true }, "conversion.api_key"},
		{"archive", func(c *Config) { c.Archive.Enabled = true }, "archive.endpoint"},
		{"native writes wav", func(c *Config) { c.Device.Backend = "native" }, "recording_extension must be wav"},
		{"input format", func(c *Config) {
			c.Conversion.Enabled = true
			c.Conversion.APIKey = "k"
			c.Media.RecordingExtension = "wav"
		}, "conversion.input_format"},
		{"trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }, "trace_exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mockConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ditado.yaml")
	yamlContent := `
log:
  level: debug
device:
  backend: mock
conversion:
  enabled: false
speech_to_text:
  provider: mock
  stream_mode: chunked
  chunk_size: 1024
text_to_speech:
  provider: mock
history:
  backend: memory
workflow:
  timeout: 45s
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("DITADO_HTTP_PORT", "9090")
	t.Setenv("DITADO_EVENTS_SERVERS", "nats://a:4222, nats://b:4222")
	t.Setenv("DITADO_WORKFLOW_BUSY_LABEL", "Please wait")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.SpeechToText.ChunkSize != 1024 {
		t.Errorf("Expected chunk size 1024, got %d", cfg.SpeechToText.ChunkSize)
	}
	if cfg.Workflow.Timeout != 45*time.Second {
		t.Errorf("Expected workflow timeout 45s, got %s", cfg.Workflow.Timeout)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090 from env, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Events.Servers) != 2 || cfg.Events.Servers[1] != "nats://b:4222" {
		t.Errorf("Unexpected servers %v", cfg.Events.Servers)
	}
	if cfg.Workflow.BusyLabel != "Please wait" {
		t.Errorf("Expected busy label from env, got %s", cfg.Workflow.BusyLabel)
	}
	// untouched values keep their defaults
	if cfg.SpeechToText.Model != "pt-BR_BroadbandModel" {
		t.Errorf("Expected default model, got %s", cfg.SpeechToText.Model)
	}
}

func TestLoadSecretsFromFiles(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "user")
	passFile := filepath.Join(dir, "pass")
	os.WriteFile(userFile, []byte("watson-user\n"), 0o600)
	os.WriteFile(passFile, []byte("watson-pass\n"), 0o600)

	t.Setenv("DITADO_DEVICE_BACKEND", "mock")
	t.Setenv("DITADO_CONVERSION_API_KEY", "cc-key")
	t.Setenv("DITADO_STT_USERNAME_FILE", userFile)
	t.Setenv("DITADO_STT_PASSWORD_FILE", passFile)
	t.Setenv("DITADO_TTS_PROVIDER", "mock")
	t.Setenv("DITADO_HISTORY_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cred := cfg.SpeechToText.Credential()
	if cred.Username != "watson-user" || cred.Password != "watson-pass" {
		t.Errorf("Expected credentials from files, got %s/%s", cred.Username, cred.Password)
	}
	if cfg.Conversion.APIKey != "cc-key" {
		t.Errorf("Expected api key from env, got %s", cfg.Conversion.APIKey)
	}
}

func TestLoadMissingSecretFile(t *testing.T) {
	t.Setenv("DITADO_STT_PASSWORD_FILE", filepath.Join(t.TempDir(), "missing"))

	if _, err := Load(""); err == nil {
		t.Error("Expected error for missing secret file")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestHTTPAddress(t *testing.T) {
	if got := (HTTPConfig{Bind: "127.0.0.1", Port: 8080}).Address(); got != "127.0.0.1:8080" {
		t.Errorf("Address() = %s", got)
	}
}
