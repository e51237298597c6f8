package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func applyEnvOverrides(cfg *Config) error {
	overrideString(&cfg.Environment, "ENVIRONMENT")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Log.Format, "LOG_FORMAT")
	overrideString(&cfg.HTTP.Bind, "HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "HTTP_PORT")
	overrideDuration(&cfg.HTTP.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT")
	overrideBool(&cfg.API.AuthEnabled, "API_AUTH_ENABLED")
	overrideDuration(&cfg.API.TokenTTL, "API_TOKEN_TTL")
	overrideStringSlice(&cfg.API.CORSOrigins, "API_CORS_ORIGINS")
	overrideString(&cfg.Media.Directory, "MEDIA_DIRECTORY")
	overrideString(&cfg.Media.RecordingExtension, "MEDIA_RECORDING_EXTENSION")
	overrideString(&cfg.Media.SynthesizedFile, "MEDIA_SYNTHESIZED_FILE")
	overrideString(&cfg.Device.Backend, "DEVICE_BACKEND")
	overrideString(&cfg.Device.RecordCommand, "DEVICE_RECORD_COMMAND")
	overrideString(&cfg.Device.PlayCommand, "DEVICE_PLAY_COMMAND")
	overrideInt(&cfg.Device.SampleRate, "DEVICE_SAMPLE_RATE")
	overrideInt(&cfg.Device.Channels, "DEVICE_CHANNELS")
	overrideBool(&cfg.Conversion.Enabled, "CONVERSION_ENABLED")
	overrideString(&cfg.Conversion.Endpoint, "CONVERSION_ENDPOINT")
	overrideString(&cfg.Conversion.DownloadScheme, "CONVERSION_DOWNLOAD_SCHEME")
	overrideDuration(&cfg.Conversion.Timeout, "CONVERSION_TIMEOUT")
	overrideString(&cfg.SpeechToText.Provider, "STT_PROVIDER")
	overrideString(&cfg.SpeechToText.ServiceURL, "STT_SERVICE_URL")
	overrideString(&cfg.SpeechToText.Model, "STT_MODEL")
	overrideString(&cfg.SpeechToText.Language, "STT_LANGUAGE")
	overrideString(&cfg.SpeechToText.ContentType, "STT_CONTENT_TYPE")
	overrideString(&cfg.SpeechToText.StreamMode, "STT_STREAM_MODE")
	overrideInt(&cfg.SpeechToText.ChunkSize, "STT_CHUNK_SIZE")
	overrideString(&cfg.SpeechToText.OpenAIBaseURL, "STT_OPENAI_BASE_URL")
	overrideString(&cfg.SpeechToText.OpenAIModel, "STT_OPENAI_MODEL")
	overrideString(&cfg.SpeechToText.MockTranscript, "STT_MOCK_TRANSCRIPT")
	overrideString(&cfg.TextToSpeech.Provider, "TTS_PROVIDER")
	overrideString(&cfg.TextToSpeech.ServiceURL, "TTS_SERVICE_URL")
	overrideString(&cfg.TextToSpeech.Voice, "TTS_VOICE")
	overrideString(&cfg.TextToSpeech.Accept, "TTS_ACCEPT")
	overrideString(&cfg.TextToSpeech.ElevenLabsVoiceID, "TTS_ELEVENLABS_VOICE_ID")
	overrideString(&cfg.TextToSpeech.ElevenLabsModelID, "TTS_ELEVENLABS_MODEL_ID")
	overrideString(&cfg.Token.URL, "TOKEN_URL")
	overrideDuration(&cfg.Token.Timeout, "TOKEN_TIMEOUT")
	overrideDuration(&cfg.Workflow.Timeout, "WORKFLOW_TIMEOUT")
	overrideDuration(&cfg.Workflow.HandshakeTimeout, "WORKFLOW_HANDSHAKE_TIMEOUT")
	overrideString(&cfg.Workflow.BusyLabel, "WORKFLOW_BUSY_LABEL")
	overrideString(&cfg.History.Backend, "HISTORY_BACKEND")
	overrideString(&cfg.History.Path, "HISTORY_PATH")
	overrideInt(&cfg.History.MaxRecords, "HISTORY_MAX_RECORDS")
	overrideString(&cfg.History.MongoDatabase, "HISTORY_MONGO_DATABASE")
	overrideBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Endpoint, "ARCHIVE_ENDPOINT")
	overrideString(&cfg.Archive.Bucket, "ARCHIVE_BUCKET")
	overrideString(&cfg.Archive.Region, "ARCHIVE_REGION")
	overrideString(&cfg.Archive.Prefix, "ARCHIVE_PREFIX")
	overrideBool(&cfg.Archive.UseSSL, "ARCHIVE_USE_SSL")
	overrideBool(&cfg.Events.Enabled, "EVENTS_ENABLED")
	overrideBool(&cfg.Events.Embedded, "EVENTS_EMBEDDED")
	overrideString(&cfg.Events.EmbeddedHost, "EVENTS_EMBEDDED_HOST")
	overrideInt(&cfg.Events.EmbeddedPort, "EVENTS_EMBEDDED_PORT")
	overrideStringSlice(&cfg.Events.Servers, "EVENTS_SERVERS")
	overrideString(&cfg.Events.SubjectPrefix, "EVENTS_SUBJECT_PREFIX")
	overrideDuration(&cfg.Events.ConnectTimeout, "EVENTS_CONNECT_TIMEOUT")
	overrideString(&cfg.Telemetry.ServiceName, "TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.TraceExporter, "TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Metrics, "TELEMETRY_METRICS")

	secrets := []struct {
		target *string
		key    string
	}{
		{&cfg.API.JWTSecret, "API_JWT_SECRET"},
		{&cfg.Conversion.APIKey, "CONVERSION_API_KEY"},
		{&cfg.SpeechToText.Username, "STT_USERNAME"},
		{&cfg.SpeechToText.Password, "STT_PASSWORD"},
		{&cfg.SpeechToText.OpenAIAPIKey, "STT_OPENAI_API_KEY"},
		{&cfg.TextToSpeech.Username, "TTS_USERNAME"},
		{&cfg.TextToSpeech.Password, "TTS_PASSWORD"},
		{&cfg.TextToSpeech.ElevenLabsAPIKey, "TTS_ELEVENLABS_API_KEY"},
		{&cfg.History.MongoURI, "HISTORY_MONGO_URI"},
		{&cfg.Archive.AccessKey, "ARCHIVE_ACCESS_KEY"},
		{&cfg.Archive.SecretKey, "ARCHIVE_SECRET_KEY"},
		{&cfg.Events.Username, "EVENTS_USERNAME"},
		{&cfg.Events.Password, "EVENTS_PASSWORD"},
		{&cfg.Events.Token, "EVENTS_TOKEN"},
	}
	for _, s := range secrets {
		if err := overrideSecret(s.target, s.key); err != nil {
			return err
		}
	}
	return nil
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

func overrideString(target *string, key string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, key string) {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, key string) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*target = out
}

// overrideSecret reads KEY, or the file named by KEY_FILE when KEY is unset.
func overrideSecret(target *string, key string) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = value
		return nil
	}
	path, ok := lookup(key + "_FILE")
	if !ok || strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s%s_FILE: %w", envPrefix, key, err)
	}
	*target = strings.TrimSpace(string(data))
	return nil
}
