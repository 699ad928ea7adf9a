package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	sent := MessagePayload{
		MessageID:  "m1",
		EventID:    "e1",
		SenderID:   "u1",
		SenderName: "Alice",
		Content:    "hello",
		Section:    "logistics",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
	}

	env, err := NewEnvelope(TypeMessage, sent)
	require.NoError(t, err)

	b, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, decoded.Type)

	var got MessagePayload
	require.NoError(t, decoded.Payload(&got))
	assert.Equal(t, sent, got)
}

func TestEnvelopeDataIsDoubleEncoded(t *testing.T) {
	env, err := NewEnvelope(TypeReaction, ReactionPayload{
		MessageID: "m1", UserID: "u1", Emoji: "❤️", Action: ReactionAdd,
	})
	require.NoError(t, err)

	b, err := env.Marshal()
	require.NoError(t, err)

	// The outer envelope must carry the payload as an opaque string, not as
	// structured JSON fields.
	var outer struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &outer))
	assert.Equal(t, "REACTION", outer.Type)

	var inner ReactionPayload
	require.NoError(t, json.Unmarshal([]byte(outer.Data), &inner))
	assert.Equal(t, "m1", inner.MessageID)
	assert.Equal(t, ReactionAdd, inner.Action)
}

func TestNewEnvelopeNilPayload(t *testing.T) {
	env, err := NewEnvelope(TypeConnect, nil)
	require.NoError(t, err)
	assert.Empty(t, env.Data)

	b, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, TypeConnect, decoded.Type)
}

func TestUnmarshalMalformed(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		_, err := Unmarshal([]byte("not json at all"))
		assert.Error(t, err)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := Unmarshal([]byte(`{"data":"{}"}`))
		assert.Error(t, err)
	})
}
