package gophxchannels

import (
	"encoding/json"
	"fmt"
)

const (
	headerLength = 1
	metaLength   = 4
)

// Message kinds for the binary protocol
const (
	KindPush      byte = 0
	KindReply     byte = 1
	KindBroadcast byte = 2
)

// Reserved Phoenix event names.
const (
	EventHeartbeat = "heartbeat"
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"

	EventPresenceState = "presence_state"
	EventPresenceDiff  = "presence_diff"
)

// Message represents a Phoenix channel message
type Message struct {
	JoinRef string      `json:"join_ref"`
	Ref     string      `json:"ref"`
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// BinaryPayload represents a binary payload
type BinaryPayload struct {
	Data []byte
}

// IsBinary checks if the message payload is binary
func (m *Message) IsBinary() bool {
	_, ok := m.Payload.(BinaryPayload)
	return ok
}

// PayloadMap returns the payload as an object, or an empty map for any
// other payload shape.
func (m *Message) PayloadMap() map[string]interface{} {
	if pm, ok := m.Payload.(map[string]interface{}); ok {
		return pm
	}
	return map[string]interface{}{}
}

// Serializer handles encoding/decoding of Phoenix messages.
//
// The JSON wire format is an array of exactly 5 elements in protocol-mandated
// order: [join_ref, ref, topic, event, payload].
type Serializer struct{}

// NewSerializer creates a new serializer instance
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Encode encodes a message for transmission
func (s *Serializer) Encode(msg *Message) ([]byte, error) {
	if msg.IsBinary() {
		return s.binaryEncode(msg)
	}
	return s.jsonEncode(msg)
}

// Decode decodes a received message. Decode errors are recoverable: the
// caller logs and drops the frame.
func (s *Serializer) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	// Binary frames start with a kind byte; JSON frames start with '['.
	if data[0] == KindPush || data[0] == KindReply || data[0] == KindBroadcast {
		return s.binaryDecode(data)
	}
	return s.jsonDecode(data)
}

func (s *Serializer) jsonEncode(msg *Message) ([]byte, error) {
	payload := msg.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	tuple := []interface{}{msg.JoinRef, msg.Ref, msg.Topic, msg.Event, payload}
	data, err := json.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

func (s *Serializer) jsonDecode(data []byte) (*Message, error) {
	var tuple []interface{}
	if err := json.Unmarshal(data, &tuple); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	if len(tuple) != 5 {
		return nil, fmt.Errorf("invalid message format: expected 5 elements, got %d", len(tuple))
	}

	msg := &Message{}

	// join_ref and ref may be null on server broadcasts; default to "".
	if str, ok := tuple[0].(string); ok {
		msg.JoinRef = str
	}
	if str, ok := tuple[1].(string); ok {
		msg.Ref = str
	}

	str, ok := tuple[2].(string)
	if !ok {
		return nil, fmt.Errorf("invalid topic type")
	}
	msg.Topic = str

	str, ok = tuple[3].(string)
	if !ok {
		return nil, fmt.Errorf("invalid event type")
	}
	msg.Event = str

	payload, ok := tuple[4].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid payload type: expected object")
	}
	msg.Payload = payload

	return msg, nil
}

func (s *Serializer) binaryEncode(msg *Message) ([]byte, error) {
	binaryPayload, ok := msg.Payload.(BinaryPayload)
	if !ok {
		return nil, fmt.Errorf("payload is not binary")
	}

	joinRef := msg.JoinRef
	ref := msg.Ref
	topic := msg.Topic
	event := msg.Event

	metaSize := metaLength + len(joinRef) + len(ref) + len(topic) + len(event)
	header := make([]byte, headerLength+metaSize)
	offset := 0

	header[offset] = KindPush
	offset++

	header[offset] = byte(len(joinRef))
	offset++
	header[offset] = byte(len(ref))
	offset++
	header[offset] = byte(len(topic))
	offset++
	header[offset] = byte(len(event))
	offset++

	copy(header[offset:], joinRef)
	offset += len(joinRef)
	copy(header[offset:], ref)
	offset += len(ref)
	copy(header[offset:], topic)
	offset += len(topic)
	copy(header[offset:], event)
	offset += len(event)

	result := make([]byte, len(header)+len(binaryPayload.Data))
	copy(result, header)
	copy(result[len(header):], binaryPayload.Data)

	return result, nil
}

func (s *Serializer) binaryDecode(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, fmt.Errorf("message too short")
	}

	switch data[0] {
	case KindPush:
		return s.decodeBinaryPush(data)
	case KindReply:
		return s.decodeBinaryReply(data)
	case KindBroadcast:
		return s.decodeBinaryBroadcast(data)
	default:
		return nil, fmt.Errorf("unknown message kind: %d", data[0])
	}
}

func (s *Serializer) decodeBinaryPush(data []byte) (*Message, error) {
	// Pushes carry no ref.
	if len(data) < headerLength+metaLength-1 {
		return nil, fmt.Errorf("push message too short")
	}

	joinRefSize := int(data[1])
	topicSize := int(data[2])
	eventSize := int(data[3])
	offset := headerLength + metaLength - 1

	if len(data) < offset+joinRefSize+topicSize+eventSize {
		return nil, fmt.Errorf("push message truncated")
	}

	joinRef := string(data[offset : offset+joinRefSize])
	offset += joinRefSize
	topic := string(data[offset : offset+topicSize])
	offset += topicSize
	event := string(data[offset : offset+eventSize])
	offset += eventSize

	return &Message{
		JoinRef: joinRef,
		Topic:   topic,
		Event:   event,
		Payload: BinaryPayload{Data: data[offset:]},
	}, nil
}

func (s *Serializer) decodeBinaryReply(data []byte) (*Message, error) {
	if len(data) < headerLength+metaLength {
		return nil, fmt.Errorf("reply message too short")
	}

	joinRefSize := int(data[1])
	refSize := int(data[2])
	topicSize := int(data[3])
	eventSize := int(data[4])
	offset := headerLength + metaLength

	if len(data) < offset+joinRefSize+refSize+topicSize+eventSize {
		return nil, fmt.Errorf("reply message truncated")
	}

	joinRef := string(data[offset : offset+joinRefSize])
	offset += joinRefSize
	ref := string(data[offset : offset+refSize])
	offset += refSize
	topic := string(data[offset : offset+topicSize])
	offset += topicSize
	event := string(data[offset : offset+eventSize])
	offset += eventSize

	// Binary replies encode the reply status in the event position.
	payload := map[string]interface{}{
		"status":   event,
		"response": BinaryPayload{Data: data[offset:]},
	}

	return &Message{
		JoinRef: joinRef,
		Ref:     ref,
		Topic:   topic,
		Event:   EventReply,
		Payload: payload,
	}, nil
}

func (s *Serializer) decodeBinaryBroadcast(data []byte) (*Message, error) {
	if len(data) < headerLength+2 {
		return nil, fmt.Errorf("broadcast message too short")
	}

	topicSize := int(data[1])
	eventSize := int(data[2])
	offset := headerLength + 2

	if len(data) < offset+topicSize+eventSize {
		return nil, fmt.Errorf("broadcast message truncated")
	}

	topic := string(data[offset : offset+topicSize])
	offset += topicSize
	event := string(data[offset : offset+eventSize])
	offset += eventSize

	return &Message{
		Topic:   topic,
		Event:   event,
		Payload: BinaryPayload{Data: data[offset:]},
	}, nil
}

// ReplyPayload represents the structure of a reply payload
type ReplyPayload struct {
	Status   string      `json:"status"`
	Response interface{} `json:"response"`
}

// GetReplyPayload extracts a reply payload from a message
func GetReplyPayload(msg *Message) (*ReplyPayload, error) {
	payloadMap, ok := msg.Payload.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid reply payload format")
	}

	status, ok := payloadMap["status"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid status in reply")
	}

	return &ReplyPayload{
		Status:   status,
		Response: payloadMap["response"],
	}, nil
}
