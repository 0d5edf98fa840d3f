package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// sqlAccount est un DTO interne : tampon entre la base et le domaine.
type sqlAccount struct {
	ID          string    `db:"id"`
	Alias       string    `db:"alias"`
	DisplayName string    `db:"display_name"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
}

// PostgresAccountRepo stocke la projection locale des comptes.
// Alimenté par les events identity.user.registered ; consulté par le resolver
// à chaque résolution de référence.
type PostgresAccountRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAccountRepo(pool *pgxpool.Pool) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: pool}
}

// EnsureSchema crée la table si besoin (idempotent).
func (r *PostgresAccountRepo) EnsureSchema(ctx context.Context) error {
	q := `
		CREATE TABLE IF NOT EXISTS accounts (
			id           UUID PRIMARY KEY,
			alias        TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			is_active    BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL
		)
	`
	_, err := r.db.Exec(ctx, q)
	return err
}

func (r *PostgresAccountRepo) Save(ctx context.Context, account *domain.Account) error {
	q := `
		INSERT INTO accounts (id, alias, display_name, is_active, created_at)
		VALUES (@id, @alias, @display_name, @is_active, @created_at)
	`

	args := pgx.NamedArgs{
		"id":           account.ID,
		"alias":        account.Alias,
		"display_name": account.DisplayName,
		"is_active":    account.IsActive,
		"created_at":   account.CreatedAt,
	}

	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return r.handleError(err)
	}
	return nil
}

func (r *PostgresAccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	q := `SELECT id, alias, display_name, is_active, created_at FROM accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, q, id))
}

func (r *PostgresAccountRepo) GetByAlias(ctx context.Context, alias string) (*domain.Account, error) {
	q := `SELECT id, alias, display_name, is_active, created_at FROM accounts WHERE alias = $1`
	return r.scanOne(r.db.QueryRow(ctx, q, alias))
}

// --- HELPERS ---

func (r *PostgresAccountRepo) scanOne(row pgx.Row) (*domain.Account, error) {
	var a sqlAccount
	err := row.Scan(&a.ID, &a.Alias, &a.DisplayName, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound // Traduction technique -> Domaine
		}
		return nil, fmt.Errorf("db: get account: %w", err)
	}

	return &domain.Account{
		ID:          a.ID,
		Alias:       a.Alias,
		DisplayName: a.DisplayName,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt,
	}, nil
}

// handleError traduit les codes d'erreur PostgreSQL en erreurs du Domaine.
func (r *PostgresAccountRepo) handleError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Code 23505 = Unique Violation (id OU alias déjà pris)
		if pgErr.Code == "23505" {
			return domain.ErrAccountExists
		}
	}
	return err
}
