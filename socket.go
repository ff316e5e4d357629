package gophxchannels

import (
	"log"
	"os"
	"sync"
	"time"
)

// SocketOptions configures the socket behavior
type SocketOptions struct {
	// Timeout is the per-push deadline; a push with no reply by then
	// resolves with status "timeout" (default: 10 seconds, 0 keeps the
	// default, negative disables)
	Timeout time.Duration

	// HeartbeatInterval for sending heartbeats (default: 30 seconds)
	HeartbeatInterval time.Duration

	// ReconnectInterval between reconnect attempts after an unexpected
	// disconnect (default: 5 seconds)
	ReconnectInterval time.Duration

	// MaxReconnectAttempts limits reconnection attempts (0 = unlimited)
	MaxReconnectAttempts int

	// ReconnectEnabled controls automatic reconnection (default: true)
	ReconnectEnabled *bool

	// Params to send as query values on connect
	Params map[string]interface{}

	// VSN is the protocol version (default: "2.0.0")
	VSN string

	// Logger for debug output
	Logger *log.Logger

	// Transport overrides the default websocket transport
	Transport Transport
}

// debugLog logs debug messages if PHX_DEBUG environment variable is set
func debugLog(format string, args ...interface{}) {
	if os.Getenv("PHX_DEBUG") != "" {
		log.Printf("[PHX_DEBUG] "+format, args...)
	}
}

// setDefaultOptions sets default values for unspecified options
func setDefaultOptions(options *SocketOptions) {
	if options.Timeout == 0 {
		options.Timeout = 10 * time.Second
	}
	if options.HeartbeatInterval == 0 {
		options.HeartbeatInterval = 30 * time.Second
	}
	if options.ReconnectInterval == 0 {
		options.ReconnectInterval = 5 * time.Second
	}
	if options.VSN == "" {
		options.VSN = "2.0.0"
	}
	if options.Params == nil {
		options.Params = make(map[string]interface{})
	}
	// ReconnectEnabled defaults to true
	if options.ReconnectEnabled == nil {
		enabled := true
		options.ReconnectEnabled = &enabled
	}
}

// ConnectionState represents the state of the socket connection
type ConnectionState int

const (
	StateInitial ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// String returns the string representation of the connection state
func (cs ConnectionState) String() string {
	switch cs {
	case StateInitial:
		return "initial"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StateChangeCallback observes connection state transitions.
type StateChangeCallback func(state ConnectionState)

// Socket is the top-level orchestrator: it owns the transport handle, the
// pending-push correlation table, the channel registry, the heartbeat loop
// and the reconnect policy. It is the single owner of shared mutable state;
// everything behind mu is never touched elsewhere.
type Socket struct {
	endpoint   string
	options    *SocketOptions
	serializer *Serializer
	refGen     *RefGenerator
	transport  Transport

	mu                 sync.Mutex
	state              ConnectionState
	channels           map[string]*Channel
	pending            map[string]*Push
	expectedDisconnect bool
	reconnectTries     int
	generation         int
	reconnectTimer     *time.Timer

	openCallbacks  []func()
	closeCallbacks []func(error)
	stateCallbacks []StateChangeCallback
}

// NewSocket creates a socket for the given endpoint. The endpoint path is
// normalized to end with /websocket; connect params and the protocol version
// become query values on the dial URL.
func NewSocket(endpoint string, options *SocketOptions) *Socket {
	if options == nil {
		options = &SocketOptions{}
	}
	setDefaultOptions(options)

	s := &Socket{
		endpoint:   appendWebsocketPath(endpoint),
		options:    options,
		serializer: NewSerializer(),
		refGen:     NewRefGenerator(),
		state:      StateInitial,
		channels:   make(map[string]*Channel),
		pending:    make(map[string]*Push),
	}

	if options.Transport != nil {
		s.transport = options.Transport
	} else {
		s.transport = NewWebsocketTransport(connectURL(s.endpoint, options.Params, options.VSN))
	}

	s.transport.SetHandlers(TransportHandlers{
		OnOpen:    s.handleOpen,
		OnClose:   s.handleClose,
		OnMessage: s.handleFrame,
	})

	return s
}

// Connect starts connecting. It returns immediately; the outcome is
// observed via OnOpen, OnClose and OnStateChange callbacks.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	go s.dial()
}

// dial performs one connect attempt. On failure the disconnect notification
// fires and, unless the caller disconnected, another attempt is scheduled.
func (s *Socket) dial() {
	s.setState(StateConnecting)
	if err := s.transport.Connect(); err != nil {
		s.logf("Connection failed: %v", err)
		s.setState(StateDisconnected)
		s.fireClose(err)
		s.scheduleReconnect()
	}
}

// Disconnect closes the connection. The expected-disconnect flag suppresses
// the reconnect policy until the next successful connect.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.expectedDisconnect = true
	s.reconnectTries = 0
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()

	s.setState(StateDisconnecting)
	if err := s.transport.Disconnect(); err != nil {
		s.logf("Disconnect error: %v", err)
	}
	// The transport close notification finalizes teardown; when nothing was
	// ever connected it never comes, so finalize here.
	s.handleClose(nil)
}

// IsConnected returns true if connected to the server
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// ConnectionState returns the current connection state
func (s *Socket) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnOpen registers a callback fired on every successful connect.
func (s *Socket) OnOpen(callback func()) {
	s.mu.Lock()
	s.openCallbacks = append(s.openCallbacks, callback)
	s.mu.Unlock()
}

// OnClose registers a callback fired when the connection ends, carrying the
// underlying transport error (nil for a caller-initiated disconnect).
func (s *Socket) OnClose(callback func(error)) {
	s.mu.Lock()
	s.closeCallbacks = append(s.closeCallbacks, callback)
	s.mu.Unlock()
}

// OnStateChange registers an observer for connection state transitions.
func (s *Socket) OnStateChange(callback StateChangeCallback) {
	s.mu.Lock()
	s.stateCallbacks = append(s.stateCallbacks, callback)
	s.mu.Unlock()
}

// Channel returns the channel for a topic, creating it on first use.
func (s *Socket) Channel(topic string, params map[string]interface{}) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, exists := s.channels[topic]; exists {
		return ch
	}
	ch := newChannel(topic, params, s)
	s.channels[topic] = ch
	return ch
}

// removeChannel drops a channel from the registry after it closed.
func (s *Socket) removeChannel(topic string) {
	s.mu.Lock()
	delete(s.channels, topic)
	s.mu.Unlock()
}

// makeRef generates a unique push ref.
func (s *Socket) makeRef() string {
	return s.refGen.Ref()
}

// sendPush delivers a push to the wire. With the transport disconnected the
// push fails synchronously with no wire I/O; an unserializable payload fails
// it before registration. Otherwise the push is registered in the pending
// table keyed by its ref, its deadline armed, and the frame written.
func (s *Socket) sendPush(push *Push) {
	if !s.transport.IsConnected() {
		push.fail(ErrNotConnected)
		return
	}

	msg := &Message{
		JoinRef: push.JoinRef,
		Ref:     push.Ref,
		Topic:   push.Topic,
		Event:   push.Event,
		Payload: push.Payload,
	}
	data, err := s.serializer.Encode(msg)
	if err != nil {
		s.logf("Failed to encode message: %v", err)
		push.fail(ErrInvalidPayload)
		return
	}

	s.mu.Lock()
	s.pending[push.Ref] = push
	s.mu.Unlock()

	if s.options.Timeout > 0 {
		push.startTimeout(s.options.Timeout, func() {
			s.mu.Lock()
			delete(s.pending, push.Ref)
			s.mu.Unlock()
			push.expire()
		})
	}

	if err := s.transport.Write(data, msg.IsBinary()); err != nil {
		s.logf("Failed to send message: %v", err)
		s.mu.Lock()
		delete(s.pending, push.Ref)
		s.mu.Unlock()
		push.fail(ErrNotConnected)
	}
}

// handleFrame decodes an inbound frame. Malformed frames are dropped; decode
// failure is always recoverable.
func (s *Socket) handleFrame(data []byte) {
	msg, err := s.serializer.Decode(data)
	if err != nil {
		s.logf("Dropping malformed frame: %v", err)
		return
	}
	s.routeMessage(msg)
}

// routeMessage resolves the pending push matching the ref, if any, and
// routes the message to the owning channel by topic. The pending-table entry
// is removed unconditionally so at most one reply ever reaches a push.
func (s *Socket) routeMessage(msg *Message) {
	var push *Push
	s.mu.Lock()
	if msg.Ref != "" {
		push = s.pending[msg.Ref]
		delete(s.pending, msg.Ref)
	}
	ch := s.channels[msg.Topic]
	s.mu.Unlock()

	if push != nil {
		push.resolve(msg)
	}
	if ch != nil {
		ch.handleMessage(msg)
	} else if push == nil {
		s.logf("No channel found for topic: %s", msg.Topic)
	}
}

// handleOpen runs on every successful connect: reset the reconnect state,
// start a fresh heartbeat generation, notify observers and rejoin channels
// errored by the previous connection.
func (s *Socket) handleOpen() {
	s.mu.Lock()
	s.state = StateConnected
	s.expectedDisconnect = false
	s.reconnectTries = 0
	s.generation++
	gen := s.generation
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	stateCbs := append([]StateChangeCallback(nil), s.stateCallbacks...)
	openCbs := append([]func(){}, s.openCallbacks...)
	channels := s.channelList()
	s.mu.Unlock()

	s.logf("Connected to %s", s.endpoint)
	for _, cb := range stateCbs {
		cb(StateConnected)
	}
	s.scheduleHeartbeat(gen)
	for _, cb := range openCbs {
		cb()
	}
	for _, ch := range channels {
		if ch.shouldRejoin() {
			ch.join()
		}
	}
}

// handleClose runs when the connection ends, expected or not. The whole
// pending table is swept: every stranded push resolves with the
// not-connected error instead of being silently dropped. Joined channels are
// marked errored so a later reconnect rejoins them.
func (s *Socket) handleClose(err error) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	expected := s.expectedDisconnect
	s.generation++
	stranded := s.pending
	s.pending = make(map[string]*Push)
	stateCbs := append([]StateChangeCallback(nil), s.stateCallbacks...)
	closeCbs := append([]func(error){}, s.closeCallbacks...)
	channels := s.channelList()
	s.mu.Unlock()

	if err != nil {
		s.logf("Connection closed: %v", err)
	} else {
		s.logf("Disconnected from %s", s.endpoint)
	}

	for _, cb := range stateCbs {
		cb(StateDisconnected)
	}
	for _, push := range stranded {
		push.fail(ErrNotConnected)
	}
	for _, ch := range channels {
		ch.markErrored()
	}
	for _, cb := range closeCbs {
		cb(err)
	}

	if !expected {
		s.scheduleReconnect()
	}
}

// channelList snapshots the registry. Callers must hold mu.
func (s *Socket) channelList() []*Channel {
	channels := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	return channels
}

// scheduleHeartbeat arms the next heartbeat send. The chain reschedules
// itself after every fire regardless of the heartbeat's outcome; a timer
// firing after disconnect no-ops thanks to the generation check.
func (s *Socket) scheduleHeartbeat(gen int) {
	time.AfterFunc(s.options.HeartbeatInterval, func() {
		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if stale || !s.transport.IsConnected() {
			return
		}
		s.sendHeartbeat()
		s.scheduleHeartbeat(gen)
	})
}

// sendHeartbeat pushes the protocol heartbeat with a prefixed ref so it is
// distinguishable from user pushes.
func (s *Socket) sendHeartbeat() {
	push := newPush("phoenix", EventHeartbeat, map[string]interface{}{}, s.refGen.PrefixedRef(HeartbeatPrefix))
	s.sendPush(push)
}

// scheduleReconnect arms the next reconnect attempt after an unexpected
// disconnect. Attempts repeat at ReconnectInterval until a connect succeeds,
// the attempt cap is hit or the caller disconnects.
func (s *Socket) scheduleReconnect() {
	s.mu.Lock()
	if !*s.options.ReconnectEnabled || s.options.ReconnectInterval <= 0 || s.expectedDisconnect {
		s.mu.Unlock()
		return
	}
	if s.options.MaxReconnectAttempts > 0 && s.reconnectTries >= s.options.MaxReconnectAttempts {
		s.mu.Unlock()
		s.logf("Max reconnect attempts (%d) reached", s.options.MaxReconnectAttempts)
		return
	}
	s.reconnectTries++
	tries := s.reconnectTries
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(s.options.ReconnectInterval, s.attemptReconnect)
	s.mu.Unlock()

	s.logf("Scheduling reconnect attempt %d in %v", tries, s.options.ReconnectInterval)
	debugLog("Scheduled reconnect attempt %d", tries)
}

func (s *Socket) attemptReconnect() {
	s.mu.Lock()
	if s.expectedDisconnect || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logf("Attempting to reconnect...")
	s.setState(StateConnecting)
	if err := s.transport.Connect(); err != nil {
		s.logf("Reconnect failed: %v", err)
		s.setState(StateDisconnected)
		s.scheduleReconnect()
	}
}

// setState transitions the connection state and notifies observers.
func (s *Socket) setState(state ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	callbacks := append([]StateChangeCallback(nil), s.stateCallbacks...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(state)
	}
}

func (s *Socket) fireClose(err error) {
	s.mu.Lock()
	callbacks := append([]func(error){}, s.closeCallbacks...)
	s.mu.Unlock()
	for _, cb := range callbacks {
		cb(err)
	}
}

func (s *Socket) logf(format string, args ...interface{}) {
	debugLog(format, args...)
	if s.options.Logger != nil {
		s.options.Logger.Printf(format, args...)
	}
}
