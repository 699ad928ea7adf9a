// Package proto defines the wire protocol spoken over the chat WebSocket.
//
// Every frame is a UTF-8 text message carrying an Envelope: a type tag plus an
// independently-serialized payload string. The payload is encoded separately
// from the envelope so that payload schemas can evolve without touching how
// the outer type is dispatched.
package proto

import (
	"encoding/json"
	"fmt"
)

// Type identifies the payload schema of an envelope.
type Type string

const (
	TypeMessage       Type = "MESSAGE"
	TypeTyping        Type = "TYPING"
	TypeStoppedTyping Type = "STOPPED_TYPING"
	TypeReaction      Type = "REACTION"
	TypeReadReceipt   Type = "READ_RECEIPT"
	TypePresence      Type = "PRESENCE"
	TypeConnect       Type = "CONNECT"
	TypeDisconnect    Type = "DISCONNECT"
	TypeError         Type = "ERROR"
)

// Envelope is the outer wire wrapper. Data holds the payload as an opaque
// JSON string; it is decoded into a concrete payload struct by the handler
// that dispatched on Type.
type Envelope struct {
	Type Type   `json:"type"`
	Data string `json:"data,omitempty"`
}

// NewEnvelope serializes payload and wraps it in an envelope of the given
// type. A nil payload produces an envelope with no data, which is valid for
// the transport-lifecycle types (CONNECT, DISCONNECT).
func NewEnvelope(t Type, payload any) (*Envelope, error) {
	env := &Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env.Data = string(b)
	return env, nil
}

// Payload decodes the envelope's data string into v.
func (e *Envelope) Payload(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// Marshal encodes the envelope to its wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// Unmarshal decodes an envelope from its wire form. The payload string is
// left opaque.
func Unmarshal(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}
