package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/ditado/domain/entities"
)

const envPrefix = "DITADO_"

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type HTTPConfig struct {
	Bind            string        `yaml:"bind"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig controls access to the control API
type APIConfig struct {
	AuthEnabled bool              `yaml:"auth_enabled"`
	JWTSecret   string            `yaml:"jwt_secret"`
	TokenTTL    time.Duration     `yaml:"token_ttl"`
	Clients     map[string]string `yaml:"clients"` // client id -> secret
	CORSOrigins []string          `yaml:"cors_origins"`
}

type MediaConfig struct {
	Directory          string `yaml:"directory"`
	RecordingExtension string `yaml:"recording_extension"`
	SynthesizedFile    string `yaml:"synthesized_file"`
}

// DeviceConfig selects the record/play backend
type DeviceConfig struct {
	Backend       string `yaml:"backend"` // exec, native or mock
	RecordCommand string `yaml:"record_command"`
	PlayCommand   string `yaml:"play_command"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
}

type ConversionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"api_key"`
	Endpoint       string        `yaml:"endpoint"`
	DownloadScheme string        `yaml:"download_scheme"`
	InputFormat    string        `yaml:"input_format"`
	OutputFormat   string        `yaml:"output_format"`
	AudioCodec     string        `yaml:"audio_codec"`
	AudioBitrate   string        `yaml:"audio_bitrate"`
	AudioChannels  string        `yaml:"audio_channels"`
	AudioFrequency string        `yaml:"audio_frequency"`
	Timeout        time.Duration `yaml:"timeout"`
}

type SpeechToTextConfig struct {
	Provider       string `yaml:"provider"` // watson, google, openai or mock
	ServiceURL     string `yaml:"service_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	ContentType    string `yaml:"content_type"`
	StreamMode     string `yaml:"stream_mode"` // single or chunked
	ChunkSize      int    `yaml:"chunk_size"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
	OpenAIBaseURL  string `yaml:"openai_base_url"`
	OpenAIModel    string `yaml:"openai_model"`
	MockTranscript string `yaml:"mock_transcript"`
}

// Credential returns the credential used to request recognition tokens
func (c SpeechToTextConfig) Credential() entities.Credential {
	return entities.Credential{ServiceURL: c.ServiceURL, Username: c.Username, Password: c.Password}
}

type TextToSpeechConfig struct {
	Provider          string `yaml:"provider"` // watson, elevenlabs or mock
	ServiceURL        string `yaml:"service_url"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	Voice             string `yaml:"voice"`
	Accept            string `yaml:"accept"`
	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
	ElevenLabsModelID string `yaml:"elevenlabs_model_id"`
}

// Credential returns the credential used to request synthesis tokens
func (c TextToSpeechConfig) Credential() entities.Credential {
	return entities.Credential{ServiceURL: c.ServiceURL, Username: c.Username, Password: c.Password}
}

type TokenConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WorkflowConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	BusyLabel        string        `yaml:"busy_label"`
}

type HistoryConfig struct {
	Backend       string `yaml:"backend"` // sqlite, mongo or memory
	Path          string `yaml:"path"`
	MaxRecords    int    `yaml:"max_records"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type EventsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Embedded       bool          `yaml:"embedded"`
	EmbeddedHost   string        `yaml:"embedded_host"`
	EmbeddedPort   int           `yaml:"embedded_port"`
	Servers        []string      `yaml:"servers"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout or otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	Metrics       bool   `yaml:"metrics"`
}

type Config struct {
	Environment  string             `yaml:"environment"`
	Log          LogConfig          `yaml:"log"`
	HTTP         HTTPConfig         `yaml:"http"`
	API          APIConfig          `yaml:"api"`
	Media        MediaConfig        `yaml:"media"`
	Device       DeviceConfig       `yaml:"device"`
	Conversion   ConversionConfig   `yaml:"conversion"`
	SpeechToText SpeechToTextConfig `yaml:"speech_to_text"`
	TextToSpeech TextToSpeechConfig `yaml:"text_to_speech"`
	Token        TokenConfig        `yaml:"token"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	History      HistoryConfig      `yaml:"history"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Events       EventsConfig       `yaml:"events"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// Default returns the configuration used when nothing overrides it.
// It carries no credentials.
func Default() Config {
	return Config{
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Bind:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		API: APIConfig{
			TokenTTL: 24 * time.Hour,
		},
		Media: MediaConfig{
			Directory:          "./media",
			RecordingExtension: "3gp",
			SynthesizedFile:    "synthesized.ogg",
		},
		Device: DeviceConfig{
			Backend:       "exec",
			RecordCommand: "ffmpeg -hide_banner -loglevel error -y -f alsa -i default -ac 1 -ar 48000 -c:a aac -f 3gp {file}",
			PlayCommand:   "ffplay -nodisp -autoexit -loglevel quiet {file}",
			SampleRate:    48000,
			Channels:      1,
		},
		Conversion: ConversionConfig{
			Enabled:        true,
			Endpoint:       "https://api.cloudconvert.com/convert",
			DownloadScheme: "http:",
			InputFormat:    "3gp",
			OutputFormat:   "flac",
			AudioCodec:     "FLAC",
			AudioBitrate:   "256",
			AudioChannels:  "1",
			AudioFrequency: "48000",
			Timeout:        2 * time.Minute,
		},
		SpeechToText: SpeechToTextConfig{
			Provider:    "watson",
			ServiceURL:  "https://stream.watsonplatform.net/speech-to-text/api",
			Model:       "pt-BR_BroadbandModel",
			Language:    "pt-BR",
			ContentType: "audio/flac",
			StreamMode:  "single",
			ChunkSize:   8192,
			OpenAIModel: "whisper-1",
		},
		TextToSpeech: TextToSpeechConfig{
			Provider:   "watson",
			ServiceURL: "https://stream.watsonplatform.net/text-to-speech/api",
			Voice:      "pt-BR_IsabelaVoice",
			Accept:     "*/*",
		},
		Token: TokenConfig{
			URL:     "https://stream.watsonplatform.net/authorization/api/v1/token",
			Timeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			Timeout:          3 * time.Minute,
			HandshakeTimeout: 15 * time.Second,
			BusyLabel:        "Aguarde...",
		},
		History: HistoryConfig{
			Backend:       "sqlite",
			Path:          "./data/ditado.db",
			MaxRecords:    1000,
			MongoDatabase: "ditado",
		},
		Archive: ArchiveConfig{
			Prefix: "workflows",
		},
		Events: EventsConfig{
			EmbeddedHost:   "127.0.0.1",
			EmbeddedPort:   4222,
			Servers:        []string{"nats://localhost:4222"},
			SubjectPrefix:  "ditado",
			ConnectTimeout: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "ditado",
			TraceExporter: "none",
			OTLPInsecure:  true,
			Metrics:       true,
		},
	}
}

// Load reads .env, the optional YAML file at path and DITADO_* environment
// overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env file: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks enums and the credentials required by the selected providers
func (c Config) Validate() error {
	var errs []error

	if !oneOf(c.Log.Format, "json", "console") {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	if c.API.AuthEnabled && c.API.JWTSecret == "" {
		errs = append(errs, errors.New("api.jwt_secret is required when api.auth_enabled is set"))
	}
	if strings.TrimSpace(c.Media.Directory) == "" {
		errs = append(errs, errors.New("media.directory is required"))
	}
	if strings.ContainsAny(c.Media.SynthesizedFile, `/\`) || c.Media.SynthesizedFile == "" {
		errs = append(errs, fmt.Errorf("media.synthesized_file must be a plain file name, got %q", c.Media.SynthesizedFile))
	}

	switch c.Device.Backend {
	case "exec":
		if c.Device.RecordCommand == "" || c.Device.PlayCommand == "" {
			errs = append(errs, errors.New("device.record_command and device.play_command are required for the exec backend"))
		}
	case "native":
		if c.Device.SampleRate <= 0 || c.Device.Channels <= 0 {
			errs = append(errs, errors.New("device.sample_rate and device.channels must be positive"))
		}
		// the native backend only writes WAV
		if c.Media.RecordingExtension != "wav" {
			errs = append(errs, fmt.Errorf("media.recording_extension must be wav for the native backend, got %q", c.Media.RecordingExtension))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("device.backend must be exec, native or mock, got %q", c.Device.Backend))
	}

	if c.Conversion.Enabled && c.Conversion.APIKey == "" {
		errs = append(errs, errors.New("conversion.api_key is required when conversion is enabled"))
	}
	if c.Conversion.Enabled && c.Conversion.InputFormat != c.Media.RecordingExtension {
		errs = append(errs, fmt.Errorf("conversion.input_format %q must match media.recording_extension %q",
			c.Conversion.InputFormat, c.Media.RecordingExtension))
	}

	stt := c.SpeechToText
	switch stt.Provider {
	case "watson":
		if err := stt.Credential().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("speech_to_text: %w", err))
		}
	case "openai":
		if stt.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("speech_to_text.openai_api_key is required for the openai provider"))
		}
	case "google", "mock":
	default:
		errs = append(errs, fmt.Errorf("speech_to_text.provider must be watson, google, openai or mock, got %q", stt.Provider))
	}
	switch stt.StreamMode {
	case "single":
	case "chunked":
		if stt.ChunkSize <= 0 {
			errs = append(errs, errors.New("speech_to_text.chunk_size must be positive in chunked mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("speech_to_text.stream_mode must be single or chunked, got %q", stt.StreamMode))
	}

	tts := c.TextToSpeech
	switch tts.Provider {
	case "watson":
		if err := tts.Credential().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("text_to_speech: %w", err))
		}
	case "elevenlabs":
		if tts.ElevenLabsAPIKey == "" || tts.ElevenLabsVoiceID == "" {
			errs = append(errs, errors.New("text_to_speech.elevenlabs_api_key and elevenlabs_voice_id are required for the elevenlabs provider"))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("text_to_speech.provider must be watson, elevenlabs or mock, got %q", tts.Provider))
	}

	if c.Workflow.Timeout <= 0 {
		errs = append(errs, errors.New("workflow.timeout must be positive"))
	}

	switch c.History.Backend {
	case "sqlite":
		if c.History.Path == "" {
			errs = append(errs, errors.New("history.path is required for the sqlite backend"))
		}
	case "mongo":
		if c.History.MongoURI == "" {
			errs = append(errs, errors.New("history.mongo_uri is required for the mongo backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("history.backend must be sqlite, mongo or memory, got %q", c.History.Backend))
	}

	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		errs = append(errs, errors.New("archive.endpoint and archive.bucket are required when archive is enabled"))
	}
	if c.Events.Enabled && !c.Events.Embedded && len(c.Events.Servers) == 0 {
		errs = append(errs, errors.New("events.servers is required unless events.embedded is set"))
	}
	if !oneOf(c.Telemetry.TraceExporter, "none", "stdout", "otlp") {
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter must be none, stdout or otlp, got %q", c.Telemetry.TraceExporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Address returns the listen address of the control service
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
