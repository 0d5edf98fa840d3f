package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairKey_Canonical(t *testing.T) {
	lo, hi := PairKey("bbb", "aaa")
	assert.Equal(t, "aaa", lo)
	assert.Equal(t, "bbb", hi)

	// Symétrique : l'ordre d'appel ne change rien
	lo2, hi2 := PairKey("aaa", "bbb")
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestNewConversation_CanonicalParticipants(t *testing.T) {
	conv := NewConversation("zoe", "adam")
	assert.Equal(t, "adam", conv.ParticipantLo)
	assert.Equal(t, "zoe", conv.ParticipantHi)
	assert.True(t, conv.IsActive)
	assert.Equal(t, 0, conv.Unread["adam"])
	assert.Equal(t, 0, conv.Unread["zoe"])

	assert.True(t, conv.HasParticipant("zoe"))
	assert.False(t, conv.HasParticipant("eve"))
	assert.Equal(t, "zoe", conv.Other("adam"))
}

func TestNewMessage_Validation(t *testing.T) {
	// Le texte est trimé avant toute vérification
	_, err := NewMessage("conv-1", "alice", "  \t\n ", 0)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	// La borne se compte en runes : 10 'é' multi-octets restent 10 runes
	msg, err := NewMessage("conv-1", "alice", strings.Repeat("é", 10), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, len([]rune(msg.Text)))

	_, err = NewMessage("conv-1", "alice", strings.Repeat("é", 11), 10)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	// maxRunes <= 0 retombe sur la borne par défaut
	_, err = NewMessage("conv-1", "alice", strings.Repeat("a", MaxMessageRunes), 0)
	assert.NoError(t, err)
	_, err = NewMessage("conv-1", "alice", strings.Repeat("a", MaxMessageRunes+1), 0)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestMessage_IsReadBy(t *testing.T) {
	msg, err := NewMessage("conv-1", "alice", "salut", 0)
	require.NoError(t, err)

	assert.False(t, msg.IsReadBy("bob"))
	msg.ReadBy = append(msg.ReadBy, "bob")
	assert.True(t, msg.IsReadBy("bob"))
}
