// Package memory fournit des implémentations en mémoire des ports Driven.
// Elles honorent les MÊMES contrats d'atomicité que les adapters Postgres /
// Neo4j / Redis (sous mutex), ce qui permet aux tests des services d'exercer
// les vrais invariants sans infrastructure. Utilisables aussi en mode local.
package memory

import (
	"context"
	"sync"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// AccountRepo : table des comptes en mémoire, unique sur id ET alias.
type AccountRepo struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Account
	byAlias map[string]*domain.Account
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		byID:    make(map[string]*domain.Account),
		byAlias: make(map[string]*domain.Account),
	}
}

func (r *AccountRepo) Save(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[account.ID]; ok {
		return domain.ErrAccountExists
	}
	if _, ok := r.byAlias[account.Alias]; ok {
		return domain.ErrAccountExists
	}

	cp := *account
	r.byID[cp.ID] = &cp
	r.byAlias[cp.Alias] = &cp
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *AccountRepo) GetByAlias(ctx context.Context, alias string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.byAlias[alias]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}
