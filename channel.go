package gophxchannels

import (
	"sync"
)

// ChannelState represents the channel state
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelErrored
	ChannelJoined
	ChannelJoining
	ChannelLeaving
)

// String returns the string representation of the channel state
func (cs ChannelState) String() string {
	switch cs {
	case ChannelClosed:
		return "closed"
	case ChannelErrored:
		return "errored"
	case ChannelJoined:
		return "joined"
	case ChannelJoining:
		return "joining"
	case ChannelLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// EventCallback handles a server-pushed event payload.
type EventCallback func(payload interface{})

// Channel represents a logical multiplexed session for one topic over the
// shared socket connection. It owns the topic's presence state and routes
// inbound events to registered handlers. The socket owns the channel
// registry; a channel holds a non-owning back-reference to its socket.
type Channel struct {
	mu         sync.Mutex
	topic      string
	params     map[string]interface{}
	socket     *Socket
	state      ChannelState
	joinRef    string
	joinedOnce bool
	bindings   map[string]EventCallback
	presence   *Presence
}

func newChannel(topic string, params map[string]interface{}, socket *Socket) *Channel {
	if params == nil {
		params = make(map[string]interface{})
	}
	return &Channel{
		topic:    topic,
		params:   params,
		socket:   socket,
		state:    ChannelClosed,
		bindings: make(map[string]EventCallback),
		presence: NewPresence(),
	}
}

// Join joins the channel: the state moves to joining synchronously and to
// joined once an "ok" reply with a matching ref arrives. Returns the join
// push so callers can chain further status handling.
func (ch *Channel) Join() *Push {
	return ch.join()
}

// join sends phx_join under a fresh joinRef. Also the rejoin path after a
// reconnect; replies correlated to an older joinRef are dropped by isMember.
func (ch *Channel) join() *Push {
	ref := ch.socket.makeRef()

	ch.mu.Lock()
	ch.state = ChannelJoining
	ch.joinedOnce = true
	ch.joinRef = ref
	params := ch.params
	ch.mu.Unlock()

	push := newPush(ch.topic, EventJoin, params, ref)
	push.JoinRef = ref

	push.Receive("ok", func(interface{}) {
		ch.setState(ChannelJoined)
	})
	push.Receive("error", func(interface{}) {
		ch.setState(ChannelErrored)
	})
	push.Receive("timeout", func(interface{}) {
		ch.setState(ChannelErrored)
	})

	ch.socket.sendPush(push)
	return push
}

// Leave leaves the channel. On an "ok" reply all event handlers and presence
// callbacks are cleared and the state moves to closed. When the transport is
// unreachable the channel closes locally.
func (ch *Channel) Leave() *Push {
	ch.setState(ChannelLeaving)

	push := newPush(ch.topic, EventLeave, map[string]interface{}{}, ch.socket.makeRef())
	push.JoinRef = ch.JoinRef()

	onClose := func(interface{}) {
		ch.close()
	}
	push.Receive("ok", onClose)
	push.Receive("timeout", onClose)

	ch.socket.sendPush(push)

	if push.LastError() != nil {
		// No reply will ever come; close locally.
		ch.close()
	}
	return push
}

// JoinIfNeeded invokes callback immediately with no error when the channel
// is already joined; otherwise it joins and delivers the join push's stored
// error (nil on success) once that push resolves.
func (ch *Channel) JoinIfNeeded(callback func(error)) {
	if ch.IsJoined() {
		callback(nil)
		return
	}
	push := ch.join()
	push.Always(func(string, interface{}) {
		callback(push.LastError())
	})
}

// Push sends an event on the channel's topic and returns the push awaiting
// the correlated reply.
func (ch *Channel) Push(event string, payload interface{}) *Push {
	push := newPush(ch.topic, event, payload, ch.socket.makeRef())
	push.JoinRef = ch.JoinRef()
	ch.socket.sendPush(push)
	return push
}

// On registers the handler for a server-pushed event. A later registration
// for the same event replaces the earlier one.
func (ch *Channel) On(event string, callback EventCallback) {
	ch.mu.Lock()
	ch.bindings[event] = callback
	ch.mu.Unlock()
}

// Off removes the handler for an event.
func (ch *Channel) Off(event string) {
	ch.mu.Lock()
	delete(ch.bindings, event)
	ch.mu.Unlock()
}

// OnPresenceUpdate registers a callback fired after every applied presence
// sync (full state or diff).
func (ch *Channel) OnPresenceUpdate(callback PresenceChangeCallback) {
	ch.presence.OnChange(callback)
}

// Presence returns the channel's replicated membership state.
func (ch *Channel) Presence() *Presence {
	return ch.presence
}

// handleMessage dispatches an inbound message for this channel's topic.
// Events with no registered handler are silently dropped.
func (ch *Channel) handleMessage(msg *Message) {
	if !ch.isMember(msg) {
		return
	}

	switch msg.Event {
	case EventPresenceState:
		ch.presence.SyncState(msg.PayloadMap())
		ch.presence.notifyChange()
	case EventPresenceDiff:
		ch.presence.SyncDiff(msg.PayloadMap())
	case EventError:
		ch.socket.logf("Channel error %s: %v", ch.topic, msg.Payload)
		ch.setState(ChannelErrored)
	case EventClose:
		ch.socket.logf("Channel close %s", ch.topic)
		ch.close()
	case EventReply:
		// Replies resolve through the socket's pending table.
	default:
		ch.mu.Lock()
		handler := ch.bindings[msg.Event]
		ch.mu.Unlock()
		if handler != nil {
			handler(msg.Payload)
		}
	}
}

// isMember checks if a message belongs to this channel's current join
// session. Messages tagged with an outdated joinRef are dropped.
func (ch *Channel) isMember(msg *Message) bool {
	if ch.topic != msg.Topic {
		return false
	}
	if msg.JoinRef != "" && msg.JoinRef != ch.JoinRef() {
		ch.socket.logf("Dropping outdated message: topic=%s, event=%s, joinRef=%s", msg.Topic, msg.Event, msg.JoinRef)
		return false
	}
	return true
}

// close clears handlers and presence callbacks, moves the state to closed
// and removes the channel from the socket registry.
func (ch *Channel) close() {
	ch.mu.Lock()
	ch.state = ChannelClosed
	ch.bindings = make(map[string]EventCallback)
	ch.mu.Unlock()

	ch.presence.clearCallbacks()
	ch.socket.removeChannel(ch.topic)
}

// markErrored flags the channel after a connection loss so it rejoins on
// the next successful connect.
func (ch *Channel) markErrored() {
	ch.mu.Lock()
	active := ch.state == ChannelJoined || ch.state == ChannelJoining
	if active {
		ch.state = ChannelErrored
	}
	ch.mu.Unlock()
}

// shouldRejoin reports whether a reconnect should re-issue the join.
func (ch *Channel) shouldRejoin() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinedOnce && ch.state == ChannelErrored
}

func (ch *Channel) setState(state ChannelState) {
	ch.mu.Lock()
	ch.state = state
	ch.mu.Unlock()
}

// State query methods

// IsClosed returns true if the channel is closed
func (ch *Channel) IsClosed() bool {
	return ch.GetState() == ChannelClosed
}

// IsErrored returns true if the channel is in error state
func (ch *Channel) IsErrored() bool {
	return ch.GetState() == ChannelErrored
}

// IsJoined returns true if the channel is joined
func (ch *Channel) IsJoined() bool {
	return ch.GetState() == ChannelJoined
}

// IsJoining returns true if the channel is joining
func (ch *Channel) IsJoining() bool {
	return ch.GetState() == ChannelJoining
}

// IsLeaving returns true if the channel is leaving
func (ch *Channel) IsLeaving() bool {
	return ch.GetState() == ChannelLeaving
}

// GetState returns the current channel state
func (ch *Channel) GetState() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Topic returns the channel topic
func (ch *Channel) Topic() string {
	return ch.topic
}

// JoinRef returns the current join reference
func (ch *Channel) JoinRef() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joinRef
}
