// Package queue implements the durable at-least-once message queue: a Postgres-backed
// store, a bus that serializes and routes messages, and workers that claim, decode and
// hand messages to single or batch handlers.
//
// Every serialized body carries the message tag verbatim. Tag maintenance (delete or
// reschedule a not-yet-delivered message) locates rows by that substring, so the
// envelope is encoded without HTML escaping and the tag format must never collide with
// unrelated body content.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Message is anything that can travel through the queue.
type Message interface {
	// Kind names the message type; it selects the decoder and the destination queue.
	Kind() string
	// Tag correlates the logical event or notification across its lifetime.
	Tag() string
}

// DecodeFunc rebuilds a message from its JSON form.
type DecodeFunc func(data []byte) (Message, error)

// ErrUnknownKind is returned when no decoder is registered for an envelope.
var ErrUnknownKind = errors.New("unknown message kind")

type envelope struct {
	Kind    string          `json:"kind"`
	Tag     string          `json:"tag"`
	Message json.RawMessage `json:"message"`
}

// Codec converts messages to and from queue bodies.
type Codec struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

// NewCodec creates an empty codec.
func NewCodec() *Codec {
	return &Codec{decoders: make(map[string]DecodeFunc)}
}

// Register binds a message kind to its decoder.
func (c *Codec) Register(kind string, fn DecodeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[kind] = fn
}

// Encode serializes msg into a body that contains msg.Tag() verbatim.
func (c *Codec) Encode(msg Message) (string, error) {
	payload, err := marshalNoEscape(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s message: %w", msg.Kind(), err)
	}
	body, err := marshalNoEscape(envelope{Kind: msg.Kind(), Tag: msg.Tag(), Message: json.RawMessage(payload)})
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	if !strings.Contains(body, msg.Tag()) {
		return "", fmt.Errorf("tag %q does not survive encoding", msg.Tag())
	}
	return body, nil
}

// Decode rebuilds the message stored in body.
func (c *Codec) Decode(body string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	c.mu.RLock()
	fn, ok := c.decoders[env.Kind]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	msg, err := fn(env.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", env.Kind, err)
	}
	return msg, nil
}

func marshalNoEscape(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
