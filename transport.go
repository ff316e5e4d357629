package gophxchannels

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// TransportHandlers are the inbound notification hooks a transport delivers
// to its owner: connection opened, connection closed (with the underlying
// error, nil for a caller-initiated close) and a received frame.
type TransportHandlers struct {
	OnOpen    func()
	OnClose   func(err error)
	OnMessage func(data []byte)
}

// Transport is the connection collaborator contract. The core never performs
// raw socket I/O itself; it only writes encoded frames and reacts to the
// handler notifications.
type Transport interface {
	// SetHandlers installs the notification hooks. Must be called before
	// Connect.
	SetHandlers(handlers TransportHandlers)
	Connect() error
	Disconnect() error
	IsConnected() bool
	Write(data []byte, binary bool) error
}

// websocketTransport is the gorilla/websocket implementation of Transport.
type websocketTransport struct {
	endpoint string
	dialer   *websocket.Dialer
	header   http.Header
	handlers TransportHandlers

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
}

// NewWebsocketTransport creates a transport dialing the given endpoint URL.
func NewWebsocketTransport(endpoint string) Transport {
	return &websocketTransport{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
	}
}

func (t *websocketTransport) SetHandlers(handlers TransportHandlers) {
	t.handlers = handlers
}

func (t *websocketTransport) Connect() error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, _, err := t.dialer.Dial(t.endpoint, t.header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.closing = false
	t.mu.Unlock()

	if t.handlers.OnOpen != nil {
		t.handlers.OnOpen()
	}
	go t.readPump(conn)
	return nil
}

func (t *websocketTransport) Disconnect() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	// Best effort close handshake; the read pump ends when the peer or the
	// Close below tears the connection down.
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (t *websocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *websocketTransport) Write(data []byte, binary bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	return t.conn.WriteMessage(messageType, data)
}

func (t *websocketTransport) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			t.mu.Lock()
			wasClosing := t.closing
			t.connected = false
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()

			if t.handlers.OnClose != nil {
				if wasClosing {
					t.handlers.OnClose(nil)
				} else {
					t.handlers.OnClose(err)
				}
			}
			return
		}
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(data)
		}
	}
}

// appendWebsocketPath ensures the endpoint path ends with the /websocket
// segment Phoenix serves the transport on.
func appendWebsocketPath(endpoint string) string {
	if strings.HasSuffix(endpoint, "/websocket") {
		return endpoint
	}
	return strings.TrimSuffix(endpoint, "/") + "/websocket"
}

// connectURL builds the dial URL: endpoint plus the protocol version and the
// connect params as query values.
func connectURL(endpoint string, params map[string]interface{}, vsn string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("vsn", vsn)
	for key, value := range params {
		q.Set(key, fmt.Sprint(value))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
