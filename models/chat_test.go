package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddReaction(t *testing.T) {
	t.Run("adding the same reaction twice stores it once", func(t *testing.T) {
		m := ChatMessage{ID: "m1"}
		now := time.Now()

		assert.True(t, m.AddReaction("userA", "❤️", now))
		assert.False(t, m.AddReaction("userA", "❤️", now.Add(time.Second)))

		assert.Len(t, m.Reactions, 1)
		assert.Equal(t, "userA", m.Reactions[0].UserID)
		assert.Equal(t, "❤️", m.Reactions[0].Emoji)
	})

	t.Run("same emoji from different users is kept per user", func(t *testing.T) {
		m := ChatMessage{ID: "m1"}
		now := time.Now()

		assert.True(t, m.AddReaction("userA", "👍", now))
		assert.True(t, m.AddReaction("userB", "👍", now))

		assert.Len(t, m.Reactions, 2)
	})
}

func TestRemoveReaction(t *testing.T) {
	t.Run("removes an existing reaction", func(t *testing.T) {
		m := ChatMessage{ID: "m1"}
		m.AddReaction("userA", "❤️", time.Now())

		assert.True(t, m.RemoveReaction("userA", "❤️"))
		assert.Empty(t, m.Reactions)
	})

	t.Run("removing an absent reaction is a no-op", func(t *testing.T) {
		m := ChatMessage{ID: "m1"}

		assert.False(t, m.RemoveReaction("userA", "❤️"))
	})
}

func TestMarkReadBy(t *testing.T) {
	t.Run("read by only grows and flips status to READ", func(t *testing.T) {
		m := ChatMessage{ID: "m1", Status: StatusDelivered}

		m.MarkReadBy("userA")
		m.MarkReadBy("userA")
		m.MarkReadBy("userB")

		assert.Equal(t, []string{"userA", "userB"}, m.ReadBy)
		assert.Equal(t, StatusRead, m.Status)
	})
}

func TestTypingIndicatorExpired(t *testing.T) {
	now := time.Now()
	ti := TypingIndicator{UserID: "u1", LastSeenTyping: now}

	assert.False(t, ti.Expired(now.Add(TypingTTL/2)))
	assert.True(t, ti.Expired(now.Add(TypingTTL)))
}
