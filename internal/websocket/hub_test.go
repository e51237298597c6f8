package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain"
	"github.com/satriahrh/ditado/domain/entities"
	"github.com/satriahrh/ditado/usecase"
)

type mockController struct {
	mu        sync.Mutex
	toggles   int
	texts     []string
	cancelled bool
}

func (m *mockController) ToggleRecord(ctx context.Context) (*usecase.ToggleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles++
	return &usecase.ToggleResult{Recording: true, FileName: "record1.3gp"}, nil
}

func (m *mockController) Synthesize(ctx context.Context, text string) (*entities.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	if text == "busy" {
		return nil, domain.InvalidTransitionError("synthesize", errors.New("workflow running"))
	}
	return &entities.WorkflowRecord{ID: "wf-1", Kind: entities.WorkflowSynthesis, Text: text}, nil
}

func (m *mockController) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = true
	return false
}

func (m *mockController) State() domain.UIState {
	return domain.UIState{WorkflowState: entities.WorkflowStateIdle, RecognizedText: "previous"}
}

func setupTestServer(t *testing.T) (*Hub, *mockController, string) {
	logger := zap.NewNop()
	controller := &mockController{}
	hub := NewHub(controller, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, "", logger)
	})
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return hub, controller, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_InitialStateSnapshot(t *testing.T) {
	_, _, url := setupTestServer(t)
	conn := dial(t, url)

	msg := readJSON(t, conn)
	if msg["type"] != "state" {
		t.Fatalf("Expected state message first, got %v", msg["type"])
	}
	state, _ := msg["state"].(map[string]interface{})
	if state["recognized_text"] != "previous" {
		t.Errorf("Unexpected state %v", state)
	}
}

func TestHub_PublishBroadcastsToAllClients(t *testing.T) {
	hub, _, url := setupTestServer(t)
	first := dial(t, url)
	second := dial(t, url)
	readJSON(t, first)
	readJSON(t, second)
	waitForClients(t, hub, 2)

	busy := true
	hub.Publish(domain.UIEvent{Type: domain.UIEventBusy, Busy: &busy, Label: "Aguarde...", Timestamp: time.Now()})

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readJSON(t, conn)
		if msg["type"] != "busy" || msg["busy"] != true || msg["label"] != "Aguarde..." {
			t.Errorf("Unexpected broadcast %v", msg)
		}
	}
}

func TestHub_Commands(t *testing.T) {
	_, controller, url := setupTestServer(t)
	conn := dial(t, url)
	readJSON(t, conn)

	tests := []struct {
		name     string
		request  string
		wantType string
		check    func(t *testing.T, msg map[string]interface{})
	}{
		{
			name:     "ping",
			request:  `{"type":"ping","message_id":"m1","data":"x"}`,
			wantType: "pong",
			check: func(t *testing.T, msg map[string]interface{}) {
				if msg["data"] != "x" || msg["message_id"] != "m1" {
					t.Errorf("Unexpected pong %v", msg)
				}
			},
		},
		{
			name:     "toggle",
			request:  `{"type":"toggle_record","message_id":"m2"}`,
			wantType: "command_result",
			check: func(t *testing.T, msg map[string]interface{}) {
				result, _ := msg["result"].(map[string]interface{})
				if msg["command"] != "toggle_record" || result["file_name"] != "record1.3gp" {
					t.Errorf("Unexpected result %v", msg)
				}
			},
		},
		{
			name:     "synthesize",
			request:  `{"type":"synthesize","message_id":"m3","text":"olá"}`,
			wantType: "command_result",
			check: func(t *testing.T, msg map[string]interface{}) {
				result, _ := msg["result"].(map[string]interface{})
				if result["text"] != "olá" {
					t.Errorf("Unexpected result %v", msg)
				}
			},
		},
		{
			name:     "rejected synthesize",
			request:  `{"type":"synthesize","message_id":"m4","text":"busy"}`,
			wantType: "error",
			check: func(t *testing.T, msg map[string]interface{}) {
				if msg["error_code"] != "invalid_transition" || msg["message_id"] != "m4" {
					t.Errorf("Unexpected error %v", msg)
				}
			},
		},
		{
			name:     "cancel",
			request:  `{"type":"cancel"}`,
			wantType: "command_result",
			check: func(t *testing.T, msg map[string]interface{}) {
				result, _ := msg["result"].(map[string]interface{})
				if result["cancelled"] != false {
					t.Errorf("Unexpected result %v", msg)
				}
			},
		},
		{
			name:     "unknown type",
			request:  `{"type":"audio_chunk"}`,
			wantType: "error",
			check: func(t *testing.T, msg map[string]interface{}) {
				if msg["error_code"] != "invalid_request" {
					t.Errorf("Unexpected error %v", msg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.request)); err != nil {
				t.Fatalf("Failed to send: %v", err)
			}
			msg := readJSON(t, conn)
			if msg["type"] != tt.wantType {
				t.Fatalf("Expected %s, got %v", tt.wantType, msg)
			}
			tt.check(t, msg)
		})
	}

	controller.mu.Lock()
	defer controller.mu.Unlock()
	if controller.toggles != 1 || len(controller.texts) != 2 || !controller.cancelled {
		t.Errorf("Unexpected controller calls: toggles=%d texts=%v cancelled=%v",
			controller.toggles, controller.texts, controller.cancelled)
	}
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, _, url := setupTestServer(t)
	conn := dial(t, url)
	readJSON(t, conn)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_StoppedHubDoesNotBlockClients(t *testing.T) {
	logger := zap.NewNop()
	hub := NewHub(&mockController{}, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	left := make(chan struct{})
	go func() {
		hub.leave(&Client{hub: hub, id: "late"})
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked on a stopped hub")
	}

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, "", logger)
	})
	server := httptest.NewServer(e)
	defer server.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws")
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going away close from a stopped hub, got %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected no registered clients, got %d", hub.ClientCount())
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(nil, nil, nil, zap.NewNop())
	for i := 0; i < broadcastBufferSize+10; i++ {
		hub.Publish(domain.UIEvent{Type: domain.UIEventState})
	}
	if len(hub.broadcast) != broadcastBufferSize {
		t.Errorf("Expected a full buffer without blocking, got %d", len(hub.broadcast))
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://ui.local"})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://ui.local")
	if !check(req) {
		t.Error("Expected allowed origin to pass")
	}

	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Error("Expected unknown origin to be rejected")
	}

	if !originChecker(nil)(req) {
		t.Error("Expected permissive checker without configured origins")
	}
}

func TestEventEncoding(t *testing.T) {
	busy := false
	payload, err := json.Marshal(domain.UIEvent{Type: domain.UIEventBusy, Busy: &busy})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(payload), `"busy":false`) {
		t.Errorf("Expected explicit busy false, got %s", payload)
	}
}
