package watson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

const (
	DefaultModel       = "pt-BR_BroadbandModel"
	defaultContentType = "audio/flac"
)

// SpeechToTextConfig holds configuration for the recognize socket
type SpeechToTextConfig struct {
	ServiceURL       string
	Model            string
	HandshakeTimeout time.Duration
}

// SpeechToText transcribes audio over the recognize websocket
type SpeechToText struct {
	serviceURL string
	model      string
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// Ensure SpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*SpeechToText)(nil)

// NewSpeechToText creates the recognize socket client
func NewSpeechToText(config SpeechToTextConfig, logger *zap.Logger) (*SpeechToText, error) {
	if config.ServiceURL == "" {
		return nil, errors.New("speech to text service url is required")
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}
	return &SpeechToText{
		serviceURL: config.ServiceURL,
		model:      model,
		dialer:     newDialer(config.HandshakeTimeout),
		logger:     logger,
	}, nil
}

type recognizeAction struct {
	Action      string `json:"action"`
	ContentType string `json:"content-type,omitempty"`
}

type recognizeMessage struct {
	Results *[]struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
	Error string `json:"error"`
}

// InitTranscribeStreaming opens the socket and sends the start action
func (w *SpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if config.AccessToken == "" {
		return nil, domain.AuthError("open recognize socket", errors.New("access token is required"))
	}

	model := config.Model
	if model == "" {
		model = w.model
	}
	target, err := socketURL(w.serviceURL, "/v1/recognize", url.Values{
		"watson-token": {config.AccessToken},
		"model":        {model},
	})
	if err != nil {
		return nil, domain.NetworkError("open recognize socket", err)
	}

	conn, err := dial(ctx, w.dialer, "open recognize socket", target)
	if err != nil {
		return nil, err
	}
	w.logger.Info("Recognize socket opened", zap.String("model", model))

	contentType := config.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	stream := &recognizeStream{
		socket: newSocket(conn),
		ctx:    ctx,
		result: make(chan string, 1),
		errs:   make(chan error, 1),
		logger: w.logger,
	}

	if err := stream.socket.writeJSON(recognizeAction{Action: "start", ContentType: contentType}); err != nil {
		stream.socket.close()
		return nil, domain.NetworkError("send start action", err)
	}

	go stream.receiveResults()
	go func() {
		select {
		case <-ctx.Done():
			stream.socket.close()
		case <-stream.socket.closed:
		}
	}()

	return stream, nil
}

type recognizeStream struct {
	socket *socket
	ctx    context.Context
	result chan string
	errs   chan error
	frames int
	logger *zap.Logger
}

// Stream sends one binary audio frame
func (s *recognizeStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if s.socket.isClosed() {
		return s.closedError("send audio")
	}
	if err := s.socket.writeBinary(data); err != nil {
		return domain.NetworkError("send audio", err)
	}
	s.frames++
	return nil
}

// End sends the stop action and waits for the first message carrying results.
// The socket is closed exactly once whatever the outcome.
func (s *recognizeStream) End() (string, error) {
	defer s.socket.close()

	if s.frames == 0 {
		return "", domain.ProtocolError("end recognition", errors.New("no audio data sent"))
	}
	if err := s.socket.writeJSON(recognizeAction{Action: "stop"}); err != nil {
		return "", s.sendError("send stop action", err)
	}

	select {
	case <-s.ctx.Done():
		return "", domain.NetworkError("wait for transcript", s.ctx.Err())
	case err := <-s.errs:
		return "", err
	case transcript := <-s.result:
		s.logger.Info("Transcript received", zap.Int("frames", s.frames), zap.Int("length", len(transcript)))
		return transcript, nil
	}
}

func (s *recognizeStream) receiveResults() {
	for {
		messageType, data, err := s.socket.conn.ReadMessage()
		if err != nil {
			if s.socket.isClosed() {
				s.errs <- s.closedError("read recognize socket")
				return
			}
			if isNormalClose(err) {
				s.errs <- domain.ProtocolError("read recognize socket", errors.New("socket closed before results"))
				return
			}
			s.errs <- domain.NetworkError("read recognize socket", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg recognizeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Skipping undecodable recognize message", zap.Error(err))
			continue
		}
		if msg.Error != "" {
			s.errs <- domain.ProtocolError("recognize", errors.New(msg.Error))
			return
		}
		if msg.Results == nil {
			s.logger.Debug("Recognize message without results", zap.ByteString("message", data))
			continue
		}

		results := *msg.Results
		if len(results) == 0 || len(results[0].Alternatives) == 0 {
			s.errs <- domain.ProtocolError("recognize", fmt.Errorf("results carry no alternatives"))
			return
		}
		s.result <- results[0].Alternatives[0].Transcript
		return
	}
}

func (s *recognizeStream) closedError(op string) error {
	if err := s.ctx.Err(); err != nil {
		return domain.NetworkError(op, err)
	}
	return domain.NetworkError(op, errSocketClosed)
}

func (s *recognizeStream) sendError(op string, err error) error {
	if s.socket.isClosed() {
		return s.closedError(op)
	}
	return domain.NetworkError(op, err)
}

// TranscribeAudio sends the whole payload as one frame
func (w *SpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := w.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		stream.End()
		return "", err
	}
	return stream.End()
}
