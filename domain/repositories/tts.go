package repositories

import "context"

// TextToSpeech abstracts speech synthesis services.
// The chunk channel delivers audio frames in receipt order and is closed when
// the provider ends the stream; the error channel then yields at most one error.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string, config VoiceConfig) (<-chan []byte, <-chan error)
}

// VoiceConfig represents voice configuration for speech synthesis
type VoiceConfig struct {
	Voice       string `json:"voice"`
	Accept      string `json:"accept"`
	AccessToken string `json:"-"`
}
