package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/repositories"
)

const defaultGoogleLanguage = "pt-BR"

// GoogleSpeechToText implements SpeechToText for Google Cloud.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
type GoogleSpeechToText struct {
	language string
	logger   *zap.Logger
}

// Ensure GoogleSpeechToText implements the SpeechToText interface
var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the Google Cloud provider
func NewGoogleSpeechToText(language string, logger *zap.Logger) *GoogleSpeechToText {
	if language == "" {
		language = defaultGoogleLanguage
	}
	return &GoogleSpeechToText{language: language, logger: logger}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := recognitionEncoding(config)
	if err != nil {
		return nil, domain.ProtocolError("configure recognition", err)
	}

	language := config.Language
	if language == "" {
		language = g.language
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, classifyGRPC("create speech client", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, classifyGRPC("open streaming recognize", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    language,
				},
				InterimResults:  false,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, classifyGRPC("send streaming config", err)
	}

	g.logger.Info("Google streaming recognition opened",
		zap.String("language", language),
		zap.String("encoding", config.Encoding))

	s := &googleStream{
		client: client,
		stream: stream,
		ctx:    ctx,
		result: make(chan string, 1),
		errs:   make(chan error, 1),
	}
	go s.receiveResults()
	return s, nil
}

type googleStream struct {
	client        *speech.Client
	stream        speechpb.Speech_StreamingRecognizeClient
	ctx           context.Context
	audioReceived bool
	result        chan string
	errs          chan error
	closeOnce     sync.Once
}

func (g *googleStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return classifyGRPC("send audio", err)
	}
	return nil
}

func (g *googleStream) End() (string, error) {
	defer g.cleanup()

	if !g.audioReceived {
		return "", domain.ProtocolError("end recognition", errors.New("no audio data received"))
	}
	if err := g.stream.CloseSend(); err != nil {
		return "", classifyGRPC("close send stream", err)
	}

	select {
	case <-g.ctx.Done():
		return "", domain.NetworkError("wait for transcript", g.ctx.Err())
	case err := <-g.errs:
		return "", err
	case result := <-g.result:
		if result == "" {
			return "", domain.ProtocolError("recognize", errors.New("no speech detected in audio"))
		}
		return result, nil
	}
}

func (g *googleStream) receiveResults() {
	var transcript string
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.result <- transcript
			return
		}
		if err != nil {
			g.errs <- classifyGRPC("receive recognition", err)
			return
		}
		for _, result := range resp.Results {
			// first final result wins
			if result.IsFinal && len(result.Alternatives) > 0 && transcript == "" {
				transcript = result.Alternatives[0].Transcript
			}
		}
	}
}

func (g *googleStream) cleanup() {
	g.closeOnce.Do(func() {
		g.client.Close()
	})
}

// TranscribeAudio converts audio data to text (non-streaming)
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		stream.End()
		return "", err
	}
	return stream.End()
}

// classifyGRPC maps gRPC status codes onto workflow error kinds
func classifyGRPC(op string, err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.AuthError(op, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return domain.ProtocolError(op, err)
	case codes.Canceled:
		return domain.NetworkError(op, fmt.Errorf("%w: %v", context.Canceled, err))
	case codes.DeadlineExceeded:
		return domain.NetworkError(op, fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
	default:
		return domain.NetworkError(op, err)
	}
}

// EncodingForContentType maps a MIME type to the encoding name used in
// AudioConfig.Encoding. It returns "" for types with no matching encoding.
func EncodingForContentType(contentType string) string {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "audio/flac", "audio/x-flac":
		return "FLAC"
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16":
		return "LINEAR16"
	case "audio/ogg":
		if codecs := params["codecs"]; codecs != "" && codecs != "opus" {
			return ""
		}
		return "OGG_OPUS"
	case "audio/webm":
		return "WEBM_OPUS"
	case "audio/amr":
		return "AMR"
	case "audio/amr-wb":
		return "AMR_WB"
	case "audio/basic", "audio/mulaw":
		return "MULAW"
	default:
		return ""
	}
}

// recognitionEncoding prefers the explicit encoding and falls back to the content type
func recognitionEncoding(config repositories.AudioConfig) (speechpb.RecognitionConfig_AudioEncoding, error) {
	if config.Encoding == "" && config.ContentType != "" {
		encoding := EncodingForContentType(config.ContentType)
		if encoding == "" {
			return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported content type: %s", config.ContentType)
		}
		return getAudioEncoding(encoding)
	}
	return getAudioEncoding(config.Encoding)
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "", "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
