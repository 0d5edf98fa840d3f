package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

// IdentityResolver implémente ports.IdentityResolver.
//
// Une référence externe peut être le handle canonique (UUID) ou l'alias
// lisible : la résolution se fait ICI, une seule fois, en bordure. Le reste du
// cœur ne manipule plus qu'un seul type d'identifiant — fini la logique de
// fallback dupliquée dans chaque opération.
type IdentityResolver struct {
	repo ports.AccountRepository
}

func NewIdentityResolver(repo ports.AccountRepository) *IdentityResolver {
	return &IdentityResolver{repo: repo}
}

func (s *IdentityResolver) Resolve(ctx context.Context, ref string) (*domain.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.ErrAccountNotFound
	}

	// Un UUID valide se cherche d'abord par ID ; tout le reste est un alias.
	if _, err := uuid.Parse(ref); err == nil {
		acc, err := s.repo.GetByID(ctx, ref)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
		// ID inconnu : on retombe sur l'alias (un alias PEUT ressembler à un
		// UUID, c'est rare mais permis).
	}

	return s.repo.GetByAlias(ctx, strings.ToLower(ref))
}

func (s *IdentityResolver) Provision(ctx context.Context, cmd ports.ProvisionAccountCmd) (*domain.Account, error) {
	account, err := domain.NewAccount(cmd.ID, cmd.Alias, cmd.DisplayName)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, account); err != nil {
		// Rejeu d'un event déjà traité : idempotent, on renvoie l'existant.
		if errors.Is(err, domain.ErrAccountExists) {
			return s.repo.GetByID(ctx, account.ID)
		}
		return nil, err
	}

	return account, nil
}
