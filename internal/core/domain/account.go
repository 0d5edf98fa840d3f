package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account est la projection locale d'un compte du service d'identité.
// Le cœur ne manipule QUE le handle canonique (ID) : l'alias ne sert qu'à la
// résolution en bordure (voir services.IdentityResolver).
type Account struct {
	ID          string // Handle canonique (UUID, généré par le service d'identité)
	Alias       string // Alias lisible unique (ex: "jean.dupont")
	DisplayName string
	IsActive    bool // Utile pour le soft delete / ban
	CreatedAt   time.Time
}

// NewAccount crée une projection valide.
// C'est le SEUL moyen d'en créer une proprement (validation + normalisation).
func NewAccount(id, alias, displayName string) (*Account, error) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if len(alias) < 3 {
		return nil, ErrInvalidAlias
	}

	// L'ID vient normalement de l'event identity.user.registered ; on n'en
	// génère un que pour les comptes créés localement (tests, seed).
	if id == "" {
		id = uuid.NewString()
	}

	return &Account{
		ID:          id,
		Alias:       alias,
		DisplayName: strings.TrimSpace(displayName),
		IsActive:    true,
		CreatedAt:   time.Now().UTC(), // Toujours UTC
	}, nil
}
