package watson

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/ditado/domain"
)

const (
	defaultHandshakeTimeout = 30 * time.Second
	closeGracePeriod        = time.Second
	writeWait               = 10 * time.Second
)

// socketURL turns an https service URL into its wss endpoint with query params
func socketURL(serviceURL, path string, params url.Values) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", fmt.Errorf("invalid service url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported service url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func newDialer(handshakeTimeout time.Duration) *websocket.Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
}

// dial opens the socket, classifying handshake rejections as auth errors
func dial(ctx context.Context, dialer *websocket.Dialer, op, target string) (*websocket.Conn, error) {
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err == nil {
		return conn, nil
	}
	if resp != nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, domain.AuthError(op, fmt.Errorf("handshake rejected with %d", resp.StatusCode))
		}
		return nil, domain.NetworkError(op, fmt.Errorf("handshake failed with %d: %w", resp.StatusCode, err))
	}
	return nil, domain.NetworkError(op, err)
}

// socket wraps a connection that must be closed exactly once
type socket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{conn: conn, closed: make(chan struct{})}
}

func (s *socket) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *socket) writeBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// close sends a normal closure and tears the connection down
func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		s.conn.Close()
	})
}

func (s *socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// isNormalClose reports whether err is the peer ending the socket cleanly
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived, websocket.CloseGoingAway)
}

var errSocketClosed = errors.New("socket closed")
