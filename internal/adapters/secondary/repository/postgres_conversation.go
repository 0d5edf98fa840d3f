package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// PostgresConversationRepo est le ledger : conversations, messages, accusés de
// lecture et compteurs non-lus. C'est la source de vérité — le cache Redis se
// reconstruit toujours depuis ici.
//
// Deux garanties structurelles portées par le schéma, pas par le code :
//   - une conversation par paire non ordonnée : UNIQUE (participant_lo,
//     participant_hi) + ON CONFLICT (insert-or-fail, pas de read-then-write) ;
//   - compteurs jamais perdus sous concurrence : UPDATE ... unread_count =
//     unread_count + 1 dans la tx du message (incrément atomique SQL).
type PostgresConversationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresConversationRepo(pool *pgxpool.Pool) *PostgresConversationRepo {
	return &PostgresConversationRepo{db: pool}
}

func (r *PostgresConversationRepo) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              UUID PRIMARY KEY,
			participant_lo  UUID NOT NULL,
			participant_hi  UUID NOT NULL,
			last_message_id UUID,
			last_message_at TIMESTAMPTZ,
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			CONSTRAINT conversations_pair_unique UNIQUE (participant_lo, participant_hi)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			account_id      UUID NOT NULL,
			unread_count    INT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			PRIMARY KEY (conversation_id, account_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              UUID PRIMARY KEY,
			seq             BIGSERIAL,
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			sender_id       UUID NOT NULL,
			body            TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, created_at DESC, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			account_id UUID NOT NULL,
			read_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (message_id, account_id)
		)`,
	}

	for _, q := range queries {
		if _, err := r.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}

// --- CYCLE DE VIE DU FIL ---

// CreateOrReactivate : l'index unique sur la paire fait tout le travail.
// Deux appels concurrents pour la même paire retombent sur la même ligne ;
// un fil soft-deleted repasse actif au lieu d'être dupliqué.
func (r *PostgresConversationRepo) CreateOrReactivate(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback après commit est un no-op

	q := `
		INSERT INTO conversations (id, participant_lo, participant_hi, is_active, created_at, updated_at)
		VALUES (@id, @lo, @hi, TRUE, @now, @now)
		ON CONFLICT (participant_lo, participant_hi)
		DO UPDATE SET is_active = TRUE, updated_at = EXCLUDED.updated_at
		RETURNING id, participant_lo, participant_hi, last_message_id, last_message_at, is_active, created_at, updated_at
	`
	args := pgx.NamedArgs{
		"id":  conv.ID,
		"lo":  conv.ParticipantLo,
		"hi":  conv.ParticipantHi,
		"now": conv.CreatedAt,
	}

	row := tx.QueryRow(ctx, q, args)
	result, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	// Lignes de compteurs (idempotent — elles existent déjà si le fil existait)
	pq := `
		INSERT INTO conversation_participants (conversation_id, account_id, unread_count)
		VALUES ($1, $2, 0), ($1, $3, 0)
		ON CONFLICT (conversation_id, account_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, pq, result.ID, result.ParticipantLo, result.ParticipantHi); err != nil {
		return nil, err
	}

	if err := loadUnread(ctx, tx, result); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresConversationRepo) GetByID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	q := `
		SELECT id, participant_lo, participant_hi, last_message_id, last_message_at, is_active, created_at, updated_at
		FROM conversations WHERE id = $1
	`
	conv, err := scanConversation(r.db.QueryRow(ctx, q, conversationID))
	if err != nil {
		return nil, err
	}
	if err := loadUnread(ctx, r.db, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *PostgresConversationRepo) Deactivate(ctx context.Context, conversationID string) error {
	q := `UPDATE conversations SET is_active = FALSE, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, conversationID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// --- MESSAGES ---

// AppendMessage : insert + lastMessage + incrément des compteurs, UNE tx.
func (r *PostgresConversationRepo) AppendMessage(ctx context.Context, msg *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// 1. Le message lui-même (seq attribué par la séquence = ordre d'insertion)
	insertQ := `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`
	if err := tx.QueryRow(ctx, insertQ, msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.CreatedAt).Scan(&msg.Seq); err != nil {
		return fmt.Errorf("db: insert message: %w", err)
	}

	// 2. Référence du dernier message
	lastQ := `UPDATE conversations SET last_message_id = $1, last_message_at = $2, updated_at = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, lastQ, msg.ID, msg.CreatedAt, msg.ConversationID); err != nil {
		return err
	}

	// 3. Incrément ATOMIQUE des compteurs des autres participants.
	// Jamais de read-modify-write : deux envois simultanés font bien +2.
	unreadQ := `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND account_id <> $2
	`
	if _, err := tx.Exec(ctx, unreadQ, msg.ConversationID, msg.SenderID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkRead : accusés + remise à zéro du compteur, UNE tx.
// Ne couvre que les messages présents au moment de l'exécution.
func (r *PostgresConversationRepo) MarkRead(ctx context.Context, conversationID, accountID string, at time.Time) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// ReadBy est une union monotone : ON CONFLICT DO NOTHING rejoue sans danger.
	receiptsQ := `
		INSERT INTO message_reads (message_id, account_id, read_at)
		SELECT m.id, $2, $3
		FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, account_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, receiptsQ, conversationID, accountID, at)
	if err != nil {
		return 0, err
	}

	resetQ := `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1 AND account_id = $2
	`
	if _, err := tx.Exec(ctx, resetQ, conversationID, accountID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteMessage : suppression par l'expéditeur + recalcul des compteurs et du
// lastMessage depuis le ledger, UNE tx. Les compteurs sont un cache de la
// vérité dérivée des accusés : après mutation du ledger, on recalcule.
func (r *PostgresConversationRepo) DeleteMessage(ctx context.Context, messageID, senderID string) (*domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// sender_id dans le WHERE : un non-expéditeur obtient ErrMessageNotFound,
	// on ne lui confirme même pas que le message existe.
	delQ := `
		DELETE FROM messages
		WHERE id = $1 AND sender_id = $2
		RETURNING id, seq, conversation_id, sender_id, body, created_at
	`
	var m domain.Message
	err = tx.QueryRow(ctx, delQ, messageID, senderID).Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.Text, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("db: delete message: %w", err)
	}

	// Recalcul des compteurs de TOUS les participants du fil
	if _, err := tx.Exec(ctx, recomputeAllQ, m.ConversationID); err != nil {
		return nil, err
	}

	// Si c'était le dernier message, on repointe lastMessage sur le précédent
	lastQ := `
		UPDATE conversations c
		SET last_message_id = sub.id, last_message_at = sub.created_at
		FROM (
			SELECT id, created_at FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) AS sub
		WHERE c.id = $1 AND c.last_message_id = $2
	`
	if _, err := tx.Exec(ctx, lastQ, m.ConversationID, m.ID); err != nil {
		return nil, err
	}
	// Fil redevenu vide : plus de lastMessage du tout
	emptyQ := `
		UPDATE conversations SET last_message_id = NULL, last_message_at = NULL
		WHERE id = $1 AND last_message_id = $2
		AND NOT EXISTS (SELECT 1 FROM messages WHERE conversation_id = $1)
	`
	if _, err := tx.Exec(ctx, emptyQ, m.ConversationID, m.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &m, nil
}

// recomputeAllQ rebâtit unread_count depuis messages + message_reads.
const recomputeAllQ = `
	UPDATE conversation_participants p
	SET unread_count = (
		SELECT count(*)
		FROM messages m
		WHERE m.conversation_id = p.conversation_id
		  AND m.sender_id <> p.account_id
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads rd
			WHERE rd.message_id = m.id AND rd.account_id = p.account_id
		  )
	)
	WHERE p.conversation_id = $1
`

// RecomputeUnread : réconciliation d'un seul participant (dérive détectée).
func (r *PostgresConversationRepo) RecomputeUnread(ctx context.Context, conversationID, accountID string) (int, error) {
	q := `
		UPDATE conversation_participants p
		SET unread_count = (
			SELECT count(*)
			FROM messages m
			WHERE m.conversation_id = p.conversation_id
			  AND m.sender_id <> p.account_id
			  AND NOT EXISTS (
				SELECT 1 FROM message_reads rd
				WHERE rd.message_id = m.id AND rd.account_id = p.account_id
			  )
		)
		WHERE p.conversation_id = $1 AND p.account_id = $2
		RETURNING unread_count
	`
	var n int
	if err := r.db.QueryRow(ctx, q, conversationID, accountID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrConversationNotFound
		}
		return 0, err
	}
	return n, nil
}

// --- LECTURES ---

// ListMessages : pagination keyset DESC sur (created_at, seq).
// before zéro = première page.
func (r *PostgresConversationRepo) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time, beforeSeq int64) ([]*domain.Message, error) {
	base := `
		SELECT m.id, m.seq, m.conversation_id, m.sender_id, m.body, m.created_at,
		       COALESCE(array_agg(rd.account_id) FILTER (WHERE rd.account_id IS NOT NULL), '{}') AS read_by
		FROM messages m
		LEFT JOIN message_reads rd ON rd.message_id = m.id
	`

	var rows pgx.Rows
	var err error
	if before.IsZero() {
		q := base + `
			WHERE m.conversation_id = $1
			GROUP BY m.id
			ORDER BY m.created_at DESC, m.seq DESC
			LIMIT $2
		`
		rows, err = r.db.Query(ctx, q, conversationID, limit)
	} else {
		q := base + `
			WHERE m.conversation_id = $1 AND (m.created_at, m.seq) < ($2, $3)
			GROUP BY m.id
			ORDER BY m.created_at DESC, m.seq DESC
			LIMIT $4
		`
		rows, err = r.db.Query(ctx, q, conversationID, before, beforeSeq, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.Text, &m.CreatedAt, &m.ReadBy); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (r *PostgresConversationRepo) ListByParticipant(ctx context.Context, accountID string) ([]*domain.Conversation, error) {
	q := `
		SELECT c.id, c.participant_lo, c.participant_hi, c.last_message_id, c.last_message_at,
		       c.is_active, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.account_id = $1 AND c.is_active
		ORDER BY c.last_message_at DESC NULLS LAST
	`
	rows, err := r.db.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversationRows(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, conv := range convs {
		if err := loadUnread(ctx, r.db, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (r *PostgresConversationRepo) UnreadCounts(ctx context.Context, accountID string) (map[string]int, error) {
	q := `
		SELECT p.conversation_id, p.unread_count
		FROM conversation_participants p
		JOIN conversations c ON c.id = p.conversation_id
		WHERE p.account_id = $1 AND c.is_active
	`
	rows, err := r.db.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// --- HELPERS ---

// querier couvre pool et tx pour les helpers de scan.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	var lastID *string
	var lastAt *time.Time

	err := row.Scan(&c.ID, &c.ParticipantLo, &c.ParticipantHi, &lastID, &lastAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("db: get conversation: %w", err)
	}

	if lastID != nil {
		c.LastMessageID = *lastID
	}
	if lastAt != nil {
		c.LastMessageAt = *lastAt
	}
	c.Unread = make(map[string]int)
	return &c, nil
}

func scanConversationRows(rows pgx.Rows) (*domain.Conversation, error) {
	var c domain.Conversation
	var lastID *string
	var lastAt *time.Time

	if err := rows.Scan(&c.ID, &c.ParticipantLo, &c.ParticipantHi, &lastID, &lastAt, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if lastID != nil {
		c.LastMessageID = *lastID
	}
	if lastAt != nil {
		c.LastMessageAt = *lastAt
	}
	c.Unread = make(map[string]int)
	return &c, nil
}

func loadUnread(ctx context.Context, db querier, conv *domain.Conversation) error {
	rows, err := db.Query(ctx, `SELECT account_id, unread_count FROM conversation_participants WHERE conversation_id = $1`, conv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		conv.Unread[id] = n
	}
	return rows.Err()
}
