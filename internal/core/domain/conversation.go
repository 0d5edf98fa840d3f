package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageRunes borne la taille d'un message après trim.
// La valeur peut être abaissée par config, jamais dépassée.
const MaxMessageRunes = 4000

// Conversation est un fil direct entre exactement 2 comptes.
// Invariant : une seule conversation par paire non ordonnée — le lookup est
// symétrique grâce au tri canonique (ParticipantLo < ParticipantHi).
// La suppression est un soft delete (IsActive=false) : l'historique des
// messages est conservé pour audit/restauration.
type Conversation struct {
	ID            string
	ParticipantLo string // min(a, b) — ordre canonique pour l'unicité
	ParticipantHi string // max(a, b)
	LastMessageID string
	LastMessageAt time.Time
	Unread        map[string]int // compte -> nb de messages non lus (jamais négatif)
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PairKey canonicalise une paire non ordonnée.
func PairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// NewConversation crée un fil avec compteurs non-lus à zéro pour les deux.
func NewConversation(a, b string) *Conversation {
	lo, hi := PairKey(a, b)
	now := time.Now().UTC()
	return &Conversation{
		ID:            uuid.NewString(),
		ParticipantLo: lo,
		ParticipantHi: hi,
		Unread:        map[string]int{lo: 0, hi: 0},
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HasParticipant vérifie l'appartenance au fil.
func (c *Conversation) HasParticipant(accountID string) bool {
	return accountID == c.ParticipantLo || accountID == c.ParticipantHi
}

// Other retourne l'autre participant du fil.
func (c *Conversation) Other(accountID string) string {
	if accountID == c.ParticipantLo {
		return c.ParticipantHi
	}
	return c.ParticipantLo
}

// Message est immuable après création, à deux exceptions près :
// ReadBy ne fait que croître (union monotone), et seul l'expéditeur peut
// supprimer son message. Ordre total dans un fil : (CreatedAt, Seq).
type Message struct {
	ID             string
	Seq            int64 // Ordre d'insertion (départage les CreatedAt identiques)
	ConversationID string
	SenderID       string
	Text           string
	ReadBy         []string
	CreatedAt      time.Time
}

// NewMessage valide et crée un message.
// maxRunes <= 0 applique la borne par défaut MaxMessageRunes.
func NewMessage(conversationID, senderID, text string, maxRunes int) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if maxRunes <= 0 || maxRunes > MaxMessageRunes {
		maxRunes = MaxMessageRunes
	}
	if utf8.RuneCountInString(text) > maxRunes {
		return nil, ErrMessageTooLong
	}

	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// IsReadBy vérifie la présence d'un accusé de lecture.
func (m *Message) IsReadBy(accountID string) bool {
	for _, id := range m.ReadBy {
		if id == accountID {
			return true
		}
	}
	return false
}
