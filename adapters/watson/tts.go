package watson

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

const (
	DefaultVoice  = "pt-BR_IsabelaVoice"
	defaultAccept = "*/*"
)

// TextToSpeechConfig holds configuration for the synthesize socket
type TextToSpeechConfig struct {
	ServiceURL       string
	Voice            string
	Accept           string
	HandshakeTimeout time.Duration
}

// TextToSpeech synthesizes audio over the synthesize websocket
type TextToSpeech struct {
	serviceURL string
	voice      string
	accept     string
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// Ensure TextToSpeech implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*TextToSpeech)(nil)

// NewTextToSpeech creates the synthesize socket client
func NewTextToSpeech(config TextToSpeechConfig, logger *zap.Logger) (*TextToSpeech, error) {
	if config.ServiceURL == "" {
		return nil, errors.New("text to speech service url is required")
	}
	voice := config.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	accept := config.Accept
	if accept == "" {
		accept = defaultAccept
	}
	return &TextToSpeech{
		serviceURL: config.ServiceURL,
		voice:      voice,
		accept:     accept,
		dialer:     newDialer(config.HandshakeTimeout),
		logger:     logger,
	}, nil
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Accept string `json:"accept"`
}

type synthesizeMessage struct {
	Error string `json:"error"`
}

// ConvertTextToSpeech streams binary frames in receipt order until the service
// closes the socket. Exactly one of the channels reports the outcome: the chunk
// channel closes, then the error channel closes after at most one error.
func (w *TextToSpeech) ConvertTextToSpeech(ctx context.Context, text string, config repositories.VoiceConfig) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte, 16)
	errs := make(chan error, 1)

	fail := func(err error) (<-chan []byte, <-chan error) {
		errs <- err
		close(chunks)
		close(errs)
		return chunks, errs
	}

	if strings.TrimSpace(text) == "" {
		return fail(domain.ProtocolError("synthesize", errors.New("text cannot be empty")))
	}
	if config.AccessToken == "" {
		return fail(domain.AuthError("open synthesize socket", errors.New("access token is required")))
	}

	voice := config.Voice
	if voice == "" {
		voice = w.voice
	}
	accept := config.Accept
	if accept == "" {
		accept = w.accept
	}

	target, err := socketURL(w.serviceURL, "/v1/synthesize", url.Values{
		"watson-token": {config.AccessToken},
		"voice":        {voice},
	})
	if err != nil {
		return fail(domain.NetworkError("open synthesize socket", err))
	}

	conn, err := dial(ctx, w.dialer, "open synthesize socket", target)
	if err != nil {
		return fail(err)
	}
	sock := newSocket(conn)

	w.logger.Info("Synthesize socket opened", zap.String("voice", voice), zap.Int("textLength", len(text)))

	if err := sock.writeJSON(synthesizeRequest{Text: text, Accept: accept}); err != nil {
		sock.close()
		return fail(domain.NetworkError("send synthesize request", err))
	}

	go func() {
		select {
		case <-ctx.Done():
			sock.close()
		case <-sock.closed:
		}
	}()

	go func() {
		defer close(errs)
		defer sock.close()

		err := w.receiveAudio(ctx, sock, chunks)
		close(chunks)
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (w *TextToSpeech) receiveAudio(ctx context.Context, sock *socket, chunks chan<- []byte) error {
	received, total := 0, 0
	for {
		messageType, data, err := sock.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return domain.NetworkError("read synthesize socket", ctx.Err())
			}
			if isNormalClose(err) {
				w.logger.Info("Synthesize socket closed by service",
					zap.Int("chunks", received),
					zap.Int("bytes", total))
				return nil
			}
			// any close after audio arrived ends the stream with what we have
			var closeErr *websocket.CloseError
			if received > 0 && errors.As(err, &closeErr) {
				w.logger.Warn("Synthesize socket closed abnormally, keeping received audio",
					zap.Int("code", closeErr.Code),
					zap.Int("chunks", received),
					zap.Int("bytes", total))
				return nil
			}
			return domain.NetworkError("read synthesize socket", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			received++
			total += len(data)
			select {
			case chunks <- data:
			case <-ctx.Done():
				return domain.NetworkError("deliver audio chunk", ctx.Err())
			}
		case websocket.TextMessage:
			var msg synthesizeMessage
			if err := json.Unmarshal(data, &msg); err == nil && msg.Error != "" {
				return domain.ProtocolError("synthesize", errors.New(msg.Error))
			}
			w.logger.Debug("Synthesize status message", zap.ByteString("message", data))
		}
	}
}
