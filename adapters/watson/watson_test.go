package watson

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/domain/repositories"
)

var upgrader = websocket.Upgrader{}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		service string
		want    string
	}{
		{"https://stream.watsonplatform.net/speech-to-text/api", "wss://stream.watsonplatform.net/speech-to-text/api/v1/recognize?model=m&watson-token=t"},
		{"http://127.0.0.1:8080/api/", "ws://127.0.0.1:8080/api/v1/recognize?model=m&watson-token=t"},
	}

	for _, tt := range tests {
		got, err := socketURL(tt.service, "/v1/recognize", url.Values{"watson-token": {"t"}, "model": {"m"}})
		if err != nil {
			t.Fatalf("socketURL() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("socketURL() = %s, want %s", got, tt.want)
		}
	}

	if _, err := socketURL("ftp://host/api", "/v1/recognize", nil); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestTokenUsesBasicAuthorization(t *testing.T) {
	var gotAuth, gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotURL = r.URL.Query().Get("url")
		w.Write([]byte("opaque-token\n"))
	}))
	defer server.Close()

	client := NewTokenClient(server.URL, 0, zaptest.NewLogger(t))
	credential := entities.Credential{
		ServiceURL: "https://stream.watsonplatform.net/speech-to-text/api",
		Username:   "user",
		Password:   "pass",
	}

	token, err := client.Token(context.Background(), credential)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "opaque-token" {
		t.Errorf("Expected opaque-token, got %q", token)
	}
	if gotAuth != "Basic dXNlcjpwYXNz" {
		t.Errorf("Expected Basic dXNlcjpwYXNz, got %s", gotAuth)
	}
	if gotURL != credential.ServiceURL {
		t.Errorf("Expected url query %s, got %s", credential.ServiceURL, gotURL)
	}
}

func TestTokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, "", domain.KindAuth},
		{"unavailable", http.StatusServiceUnavailable, "", domain.KindNetwork},
		{"empty", http.StatusOK, "  ", domain.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewTokenClient(server.URL, time.Second, zaptest.NewLogger(t))
			_, err := client.Token(context.Background(), entities.Credential{ServiceURL: "s", Username: "u", Password: "p"})
			if !domain.IsKind(err, tt.want) {
				t.Errorf("Expected %s error, got %v", tt.want, err)
			}
		})
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.Write([]byte("late"))
	}))
	defer slow.Close()

	slowClient := NewTokenClient(slow.URL, 50*time.Millisecond, zaptest.NewLogger(t))
	_, err := slowClient.Token(context.Background(), entities.Credential{ServiceURL: "s", Username: "u", Password: "p"})
	if !domain.IsKind(err, domain.KindNetwork) || !domain.IsTimeout(err) {
		t.Errorf("Expected network timeout error for a stalled token service, got %v", err)
	}

	client := NewTokenClient("http://127.0.0.1:1", time.Second, zaptest.NewLogger(t))
	if _, err := client.Token(context.Background(), entities.Credential{ServiceURL: "s"}); !domain.IsKind(err, domain.KindAuth) {
		t.Errorf("Expected auth error for incomplete credential, got %v", err)
	}
}

type recognizeObservation struct {
	query  url.Values
	start  map[string]string
	audio  [][]byte
	stop   map[string]string
	closes int
	code   int
}

func TestRecognizePublishesFirstResultAndClosesOnce(t *testing.T) {
	observed := make(chan recognizeObservation, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech/v1/recognize" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		obs := recognizeObservation{query: r.URL.Query()}
		conn.ReadJSON(&obs.start)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("Unexpected read error: %v", err)
				return
			}
			if messageType == websocket.BinaryMessage {
				obs.audio = append(obs.audio, data)
				continue
			}
			json.Unmarshal(data, &obs.stop)
			break
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"state":"listening"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"results":[{"alternatives":[{"transcript":"hello"}],"final":true}],"result_index":0}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"results":[{"alternatives":[{"transcript":"ignored"}]}]}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if closeErr, ok := err.(*websocket.CloseError); ok {
					obs.closes++
					obs.code = closeErr.Code
				}
				break
			}
		}
		observed <- obs
	}))
	defer server.Close()

	client, err := NewSpeechToText(SpeechToTextConfig{ServiceURL: server.URL + "/speech"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	stream, err := client.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("InitTranscribeStreaming() error = %v", err)
	}
	if err := stream.Stream([]byte("fLaC")); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	transcript, err := stream.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if transcript != "hello" {
		t.Errorf("Expected hello, got %q", transcript)
	}

	// a second close is a no-op
	stream.(*recognizeStream).socket.close()

	select {
	case obs := <-observed:
		if obs.query.Get("watson-token") != "tok" || obs.query.Get("model") != DefaultModel {
			t.Errorf("Unexpected query %v", obs.query)
		}
		if obs.start["action"] != "start" || obs.start["content-type"] != "audio/flac" {
			t.Errorf("Unexpected start action %v", obs.start)
		}
		if len(obs.audio) != 1 || string(obs.audio[0]) != "fLaC" {
			t.Errorf("Expected one audio frame, got %q", obs.audio)
		}
		if obs.stop["action"] != "stop" {
			t.Errorf("Unexpected stop action %v", obs.stop)
		}
		if obs.closes != 1 || obs.code != websocket.CloseNormalClosure {
			t.Errorf("Expected exactly one normal close, got %d (code %d)", obs.closes, obs.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not observe the session")
	}
}

func TestRecognizeServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.TextMessage && string(data) != "" {
				var action map[string]string
				json.Unmarshal(data, &action)
				if action["action"] == "stop" {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unable to transcode data stream"}`))
				}
			}
		}
	}))
	defer server.Close()

	client, _ := NewSpeechToText(SpeechToTextConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	_, err := client.TranscribeAudio(context.Background(), []byte("junk"), repositories.AudioConfig{AccessToken: "tok"})
	if !domain.IsKind(err, domain.KindProtocol) {
		t.Errorf("Expected protocol error, got %v", err)
	}
}

func TestRecognizeCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, _ := NewSpeechToText(SpeechToTextConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.TranscribeAudio(ctx, []byte("audio"), repositories.AudioConfig{AccessToken: "tok"})
	if !domain.IsKind(err, domain.KindNetwork) || !domain.IsTimeout(err) {
		t.Errorf("Expected network timeout error, got %v", err)
	}
}

func TestRecognizeHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _ := NewSpeechToText(SpeechToTextConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	_, err := client.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{AccessToken: "expired"})
	if !domain.IsKind(err, domain.KindAuth) {
		t.Errorf("Expected auth error, got %v", err)
	}

	_, err = client.InitTranscribeStreaming(context.Background(), repositories.AudioConfig{})
	if !domain.IsKind(err, domain.KindAuth) {
		t.Errorf("Expected auth error without token, got %v", err)
	}
}

func collect(chunks <-chan []byte, errs <-chan error) ([][]byte, error) {
	var got [][]byte
	for chunk := range chunks {
		got = append(got, chunk)
	}
	return got, <-errs
}

func TestSynthesizeDeliversChunksInOrder(t *testing.T) {
	requests := make(chan synthesizeRequest, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("voice") != DefaultVoice || r.URL.Query().Get("watson-token") != "tok" {
			t.Errorf("Unexpected query %v", r.URL.Query())
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req synthesizeRequest
		conn.ReadJSON(&req)
		requests <- req

		conn.WriteMessage(websocket.TextMessage, []byte(`{"binary_streams":[{"content_type":"audio/ogg;codecs=opus"}]}`))
		for _, chunk := range []string{"a", "b", "c"} {
			conn.WriteMessage(websocket.BinaryMessage, []byte(chunk))
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	}))
	defer server.Close()

	client, err := NewTextToSpeech(TextToSpeechConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	buffer := entities.NewSynthesisBuffer()
	chunks, err := collect(client.ConvertTextToSpeech(context.Background(), "olá", repositories.VoiceConfig{AccessToken: "tok"}))
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	for _, chunk := range chunks {
		buffer.Append(chunk)
	}
	if string(buffer.Bytes()) != "abc" {
		t.Errorf("Expected abc, got %q", buffer.Bytes())
	}

	req := <-requests
	if req.Text != "olá" || req.Accept != "*/*" {
		t.Errorf("Unexpected synthesize request %+v", req)
	}
}

func TestSynthesizeKeepsAudioOnAbnormalClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.WriteMessage(websocket.BinaryMessage, []byte("a"))
		conn.WriteMessage(websocket.BinaryMessage, []byte("b"))
		// drop the TCP connection without a close frame
		conn.Close()
	}))
	defer server.Close()

	client, _ := NewTextToSpeech(TextToSpeechConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	chunks, err := collect(client.ConvertTextToSpeech(context.Background(), "olá", repositories.VoiceConfig{AccessToken: "tok"}))
	if err != nil {
		t.Fatalf("Expected received audio to be kept, got %v", err)
	}

	var joined []byte
	for _, chunk := range chunks {
		joined = append(joined, chunk...)
	}
	if string(joined) != "ab" {
		t.Errorf("Expected ab, got %q", joined)
	}
}

func TestSynthesizeAbnormalCloseWithoutAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))
	defer server.Close()

	client, _ := NewTextToSpeech(TextToSpeechConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))
	_, err := collect(client.ConvertTextToSpeech(context.Background(), "olá", repositories.VoiceConfig{AccessToken: "tok"}))
	if !domain.IsKind(err, domain.KindNetwork) {
		t.Errorf("Expected network error when nothing arrived, got %v", err)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("watson-token") == "expired" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"Model pt-XX_Voice not found"}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	client, _ := NewTextToSpeech(TextToSpeechConfig{ServiceURL: server.URL}, zaptest.NewLogger(t))

	tests := []struct {
		name  string
		text  string
		token string
		want  domain.ErrorKind
	}{
		{"service error", "olá", "tok", domain.KindProtocol},
		{"rejected token", "olá", "expired", domain.KindAuth},
		{"missing token", "olá", "", domain.KindAuth},
		{"empty text", " ", "tok", domain.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := collect(client.ConvertTextToSpeech(context.Background(), tt.text, repositories.VoiceConfig{AccessToken: tt.token}))
			if len(chunks) != 0 {
				t.Errorf("Expected no chunks, got %d", len(chunks))
			}
			if !domain.IsKind(err, tt.want) {
				t.Errorf("Expected %s error, got %v", tt.want, err)
			}
		})
	}
}
