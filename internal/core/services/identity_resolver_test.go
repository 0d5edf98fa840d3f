package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cercle/internal/adapters/secondary/memory"
	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

func TestResolve_ByHandleAndAlias(t *testing.T) {
	repo := memory.NewAccountRepo()
	resolver := NewIdentityResolver(repo)
	ctx := context.Background()

	acc, err := domain.NewAccount("", "Jean.Dupont", "Jean Dupont")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, acc))

	// Par handle canonique
	got, err := resolver.Resolve(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	// Par alias, insensible à la casse (normalisé en lowercase à la création)
	got, err = resolver.Resolve(ctx, "JEAN.dupont")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
}

func TestResolve_Unknown(t *testing.T) {
	resolver := NewIdentityResolver(memory.NewAccountRepo())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	// Un UUID valide mais inconnu retombe sur l'alias, puis échoue proprement
	_, err = resolver.Resolve(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = resolver.Resolve(ctx, "   ")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestProvision_IdempotentReplay(t *testing.T) {
	resolver := NewIdentityResolver(memory.NewAccountRepo())
	ctx := context.Background()

	cmd := ports.ProvisionAccountCmd{
		ID:          uuid.NewString(),
		Alias:       "alice",
		DisplayName: "Alice",
	}

	first, err := resolver.Provision(ctx, cmd)
	require.NoError(t, err)

	// Rejeu du même event : pas d'erreur, on récupère l'existant
	second, err := resolver.Provision(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestProvision_InvalidAlias(t *testing.T) {
	resolver := NewIdentityResolver(memory.NewAccountRepo())

	_, err := resolver.Provision(context.Background(), ports.ProvisionAccountCmd{
		ID:    uuid.NewString(),
		Alias: "ab",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAlias)
}
