package gophxchannels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okReply(response interface{}) *Message {
	return &Message{
		Event: EventReply,
		Payload: map[string]interface{}{
			"status":   "ok",
			"response": response,
		},
	}
}

func TestPushResolveFiresMatchingAndAlwaysOnce(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")

	var okCount, errCount, alwaysCount int
	push.Receive("ok", func(interface{}) { okCount++ })
	push.Receive("error", func(interface{}) { errCount++ })
	push.Always(func(string, interface{}) { alwaysCount++ })

	push.resolve(okReply(map[string]interface{}{"id": float64(1)}))

	assert.Equal(t, 1, okCount)
	assert.Equal(t, 0, errCount)
	assert.Equal(t, 1, alwaysCount)

	// A second resolution attempt fires nothing.
	push.resolve(okReply(nil))
	push.fail(ErrNotConnected)

	assert.Equal(t, 1, okCount)
	assert.Equal(t, 0, errCount)
	assert.Equal(t, 1, alwaysCount)
}

func TestPushCallbackOrder(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")

	var order []string
	push.Receive("ok", func(interface{}) { order = append(order, "ok1") })
	push.Always(func(string, interface{}) { order = append(order, "always1") })
	push.Receive("ok", func(interface{}) { order = append(order, "ok2") })
	push.Always(func(string, interface{}) { order = append(order, "always2") })

	push.resolve(okReply(nil))

	// Always callbacks fire first, then matching-status callbacks, each in
	// registration order.
	assert.Equal(t, []string{"always1", "always2", "ok1", "ok2"}, order)
}

func TestPushReceiveAfterResolution(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")
	response := map[string]interface{}{"id": float64(42)}
	push.resolve(okReply(response))

	var got interface{}
	fired := false
	push.Receive("ok", func(resp interface{}) {
		fired = true
		got = resp
	})
	assert.True(t, fired, "matching status should fire synchronously")
	assert.Equal(t, response, got)

	push.Receive("error", func(interface{}) {
		t.Fatal("non-matching status must never fire")
	})

	alwaysFired := false
	push.Always(func(status string, resp interface{}) {
		alwaysFired = true
		assert.Equal(t, "ok", status)
		assert.Equal(t, response, resp)
	})
	assert.True(t, alwaysFired)
}

func TestPushChaining(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")

	result := push.
		Receive("ok", func(interface{}) {}).
		Receive("error", func(interface{}) {}).
		Always(func(string, interface{}) {})

	assert.Same(t, push, result)
}

func TestPushFailNotConnected(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")

	var reason interface{}
	push.Receive("error", func(resp interface{}) {
		reason = resp
	})

	push.fail(ErrNotConnected)

	require.NotNil(t, reason)
	assert.Equal(t, map[string]interface{}{"reason": "Not connected to socket"}, reason)
	assert.Equal(t, ErrNotConnected, push.LastError())
	assert.True(t, push.HasReceived("error"))
}

func TestPushResolveClearsLastError(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")
	push.resolve(okReply(nil))

	assert.NoError(t, push.LastError())
	assert.Equal(t, "ok", push.Status())
}

func TestPushExpire(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")

	var status string
	push.Always(func(st string, _ interface{}) { status = st })

	push.expire()

	assert.Equal(t, "timeout", status)
	assert.True(t, push.HasReceived("timeout"))
	assert.Equal(t, ErrPushTimeout, push.LastError())

	// A reply arriving after expiry is ignored.
	push.resolve(okReply(nil))
	assert.True(t, push.HasReceived("timeout"))
}

func TestPushDefaultPayload(t *testing.T) {
	push := newPush("room:test", "new_msg", nil, "ref1")
	assert.Equal(t, map[string]interface{}{}, push.Payload)
}
