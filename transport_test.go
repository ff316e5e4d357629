package gophxchannels

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport satisfies Transport for tests: it records written frames and
// lets tests inject server frames and connection drops.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	frames     [][]byte
	handlers   TransportHandlers
	connectErr error
	connects   int

	serializer *Serializer
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{serializer: NewSerializer()}
}

func (t *fakeTransport) SetHandlers(handlers TransportHandlers) {
	t.handlers = handlers
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	t.connects++
	if t.connectErr != nil {
		err := t.connectErr
		t.mu.Unlock()
		return err
	}
	t.connected = true
	t.mu.Unlock()
	t.handlers.OnOpen()
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()
	if wasConnected {
		t.handlers.OnClose(nil)
	}
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Write(data []byte, binary bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	t.frames = append(t.frames, data)
	return nil
}

// drop simulates an unexpected connection loss.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.handlers.OnClose(err)
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// lastMessage decodes the most recently written frame.
func (t *fakeTransport) lastMessage(tb testing.TB) *Message {
	t.mu.Lock()
	require.NotEmpty(tb, t.frames)
	data := t.frames[len(t.frames)-1]
	t.mu.Unlock()

	msg, err := t.serializer.Decode(data)
	require.NoError(tb, err)
	return msg
}

// serverReply injects a phx_reply frame for the given ref.
func (t *fakeTransport) serverReply(tb testing.TB, joinRef, ref, topic, status string, response interface{}) {
	t.serverPush(tb, joinRef, ref, topic, EventReply, map[string]interface{}{
		"status":   status,
		"response": response,
	})
}

// serverPush injects an arbitrary inbound frame.
func (t *fakeTransport) serverPush(tb testing.TB, joinRef, ref, topic, event string, payload interface{}) {
	data, err := t.serializer.Encode(&Message{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   event,
		Payload: payload,
	})
	require.NoError(tb, err)
	t.handlers.OnMessage(data)
}

func TestAppendWebsocketPath(t *testing.T) {
	assert.Equal(t, "ws://localhost:4000/socket/websocket", appendWebsocketPath("ws://localhost:4000/socket"))
	assert.Equal(t, "ws://localhost:4000/socket/websocket", appendWebsocketPath("ws://localhost:4000/socket/"))
	assert.Equal(t, "ws://localhost:4000/socket/websocket", appendWebsocketPath("ws://localhost:4000/socket/websocket"))
}

func TestConnectURL(t *testing.T) {
	url := connectURL("ws://localhost:4000/socket/websocket", map[string]interface{}{
		"token":   "abc123",
		"user_id": 42,
	}, "2.0.0")

	assert.Contains(t, url, "vsn=2.0.0")
	assert.Contains(t, url, "token=abc123")
	assert.Contains(t, url, "user_id=42")
	assert.Contains(t, url, "ws://localhost:4000/socket/websocket?")
}

func TestConnectURLInvalidEndpoint(t *testing.T) {
	// An unparseable endpoint passes through untouched.
	url := connectURL("://not a url", nil, "2.0.0")
	assert.Equal(t, "://not a url", url)
}
