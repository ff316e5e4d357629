package gophxchannels

import (
	"errors"
	"sync"
	"time"
)

// Reason strings delivered through the synthetic "error" reply path.
const (
	ReasonNotConnected   = "Not connected to socket"
	ReasonInvalidPayload = "Invalid payload"
	ReasonTimeout        = "Push timed out"
)

var (
	// ErrNotConnected is stored on a push that was sent while the
	// transport was disconnected.
	ErrNotConnected = errors.New(ReasonNotConnected)

	// ErrInvalidPayload is stored on a push whose payload could not be
	// serialized to the wire format.
	ErrInvalidPayload = errors.New(ReasonInvalidPayload)

	// ErrPushTimeout is stored on a push whose deadline expired before a
	// matching reply arrived.
	ErrPushTimeout = errors.New(ReasonTimeout)
)

// ReceiveCallback handles the response portion of a resolved reply.
type ReceiveCallback func(response interface{})

// AlwaysCallback fires exactly once when a push resolves, regardless of the
// reply status.
type AlwaysCallback func(status string, response interface{})

// Push represents a single outbound request awaiting at most one correlated
// reply. A push resolves exactly once: by a matching-ref reply, by a
// synthetic error (not connected, invalid payload) or by its deadline.
type Push struct {
	mu sync.Mutex

	Topic   string
	Event   string
	Payload interface{}
	Ref     string
	JoinRef string

	resolved       bool
	receivedStatus string
	receivedResp   interface{}
	lastError      error

	recHooks    map[string][]ReceiveCallback
	alwaysHooks []AlwaysCallback

	timeoutTimer *time.Timer
}

func newPush(topic, event string, payload interface{}, ref string) *Push {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Push{
		Topic:    topic,
		Event:    event,
		Payload:  payload,
		Ref:      ref,
		recHooks: make(map[string][]ReceiveCallback),
	}
}

// Receive registers a callback for a specific reply status. If the push has
// already resolved with a matching status the callback is invoked
// synchronously with the stored response; a non-matching status never fires.
// Returns the push for chaining.
func (p *Push) Receive(status string, callback ReceiveCallback) *Push {
	p.mu.Lock()
	if p.resolved {
		matched := p.receivedStatus == status
		resp := p.receivedResp
		p.mu.Unlock()
		if matched {
			callback(resp)
		}
		return p
	}
	p.recHooks[status] = append(p.recHooks[status], callback)
	p.mu.Unlock()
	return p
}

// Always registers a callback that fires exactly once on resolution,
// whatever the status. Registered after resolution it fires synchronously.
// Returns the push for chaining.
func (p *Push) Always(callback AlwaysCallback) *Push {
	p.mu.Lock()
	if p.resolved {
		status, resp := p.receivedStatus, p.receivedResp
		p.mu.Unlock()
		callback(status, resp)
		return p
	}
	p.alwaysHooks = append(p.alwaysHooks, callback)
	p.mu.Unlock()
	return p
}

// resolve completes the push from a decoded reply message, taking the status
// from the payload's "status" field.
func (p *Push) resolve(msg *Message) {
	pm := msg.PayloadMap()
	status, _ := pm["status"].(string)
	p.resolveWith(status, pm["response"], nil)
}

// fail completes the push with a synthetic "error"-status response carrying
// a human-readable reason. Errors are never returned at the call site.
func (p *Push) fail(reason error) {
	p.resolveWith("error", map[string]interface{}{"reason": reason.Error()}, reason)
}

// expire completes the push with a synthetic "timeout" status.
func (p *Push) expire() {
	p.resolveWith("timeout", map[string]interface{}{"reason": ReasonTimeout}, ErrPushTimeout)
}

// resolveWith is the single resolution path. A second call is a no-op; both
// callback collections are cleared unconditionally after firing, so a push
// fires its callbacks at most once.
func (p *Push) resolveWith(status string, response interface{}, err error) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.receivedStatus = status
	p.receivedResp = response
	p.lastError = err

	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
		p.timeoutTimer = nil
	}

	always := p.alwaysHooks
	matched := p.recHooks[status]
	p.alwaysHooks = nil
	p.recHooks = make(map[string][]ReceiveCallback)
	p.mu.Unlock()

	for _, cb := range always {
		cb(status, response)
	}
	for _, cb := range matched {
		cb(response)
	}
}

// startTimeout arms the push deadline. onExpire runs once if no resolution
// happens first; the socket uses it to drop the pending-table entry.
func (p *Push) startTimeout(timeout time.Duration, onExpire func()) {
	if timeout <= 0 {
		return
	}
	p.mu.Lock()
	if p.resolved || p.timeoutTimer != nil {
		p.mu.Unlock()
		return
	}
	p.timeoutTimer = time.AfterFunc(timeout, onExpire)
	p.mu.Unlock()
}

// IsResolved returns true once the push has completed.
func (p *Push) IsResolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// HasReceived returns true if the push resolved with the given status.
func (p *Push) HasReceived(status string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved && p.receivedStatus == status
}

// Status returns the resolved reply status, or "" while pending.
func (p *Push) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivedStatus
}

// Response returns the stored reply response, or nil while pending.
func (p *Push) Response() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivedResp
}

// LastError returns the synthetic error the push resolved with, or nil for
// a server reply.
func (p *Push) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}
