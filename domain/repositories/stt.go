package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts a complete audio payload to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
	// InitTranscribeStreaming opens a recognition session that accepts audio in frames
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	ContentType string `json:"content_type"`
	Encoding    string `json:"encoding"`
	SampleRate  int    `json:"sample_rate"`
	Language    string `json:"language"`
	Model       string `json:"model"`
	// AccessToken is a bearer token obtained beforehand, for providers that need one.
	AccessToken string `json:"-"`
}

// SpeechToTextStreaming is one open recognition session.
// End must be called exactly once; it returns the first final transcript.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	End() (string, error)
}
