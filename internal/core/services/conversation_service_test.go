package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cercle/internal/adapters/secondary/memory"
	"github.com/jupiterclapton/cercle/internal/core/domain"
)

type conversationFixture struct {
	svc      *ConversationService
	accounts *memory.AccountRepo
	graph    *memory.GraphRepo
	repo     *memory.ConversationRepo
	cache    *memory.UnreadCache
	events   *memory.EventRecorder
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	accounts := memory.NewAccountRepo()
	graph := memory.NewGraphRepo()
	repo := memory.NewConversationRepo()
	cache := memory.NewUnreadCache()
	events := memory.NewEventRecorder()
	resolver := NewIdentityResolver(accounts)
	return &conversationFixture{
		svc:      NewConversationService(resolver, repo, graph, cache, events, 0),
		accounts: accounts,
		graph:    graph,
		repo:     repo,
		cache:    cache,
		events:   events,
	}
}

func (f *conversationFixture) seedAccount(t *testing.T, alias string) *domain.Account {
	t.Helper()
	acc, err := domain.NewAccount("", alias, alias)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Save(context.Background(), acc))
	return acc
}

func countSubject(recorded []string, subject string) int {
	n := 0
	for _, s := range recorded {
		if s == subject {
			n++
		}
	}
	return n
}

// --- CYCLE DE VIE DU FIL ---

func TestStartConversation_SymmetricLookup(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	first, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// L'ordre des participants ne compte pas : même paire = même fil
	second, err := f.svc.StartConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestStartConversation_Self(t *testing.T) {
	f := newConversationFixture(t)
	alice := f.seedAccount(t, "alice")

	_, err := f.svc.StartConversation(context.Background(), alice.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrSelfRelation)
}

func TestStartConversation_Blocked(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	require.NoError(t, f.graph.Block(ctx, domain.NewBlockEntry(alice.ID, bob.ID)))

	// Cross-composant : le ledger consulte le graphe, dans les DEUX sens
	_, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrBlocked)
	_, err = f.svc.StartConversation(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrBlocked)
}

func TestDeleteConversation_SoftDelete(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "salut")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteConversation(ctx, conv.ID, bob.ID))

	// Un fil désactivé n'accepte plus de messages et disparaît des listes
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "encore là ?")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	convs, err := f.svc.ListConversations(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)

	// StartConversation réactive LE MÊME fil, avec son historique intact
	revived, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, revived.ID)

	msgs, _, err := f.svc.ListMessages(ctx, conv.ID, alice.ID, 10, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDeleteConversation_ResetsWarmBadge(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "salut")
	require.NoError(t, err)

	// Réchauffer le cache de bob avant la suppression
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	// Le fil sort de la source de vérité : le badge chaud doit suivre,
	// pas attendre une expiration
	require.NoError(t, f.svc.DeleteConversation(ctx, conv.ID, alice.ID))

	total, err = f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Réactivation : les compteurs du ledger redeviennent visibles
	revived, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.Equal(t, conv.ID, revived.ID)

	total, err = f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// --- MESSAGES & COMPTEURS ---

func TestSendMessage_IncrementsRecipientUnread(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for _, text := range []string{"un", "deux", "trois"} {
		_, err := f.svc.SendMessage(ctx, conv.ID, alice.ID, text)
		require.NoError(t, err)
	}

	// Le compteur du destinataire grimpe, celui de l'expéditeur reste à zéro
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	total, err = f.svc.UnreadTotal(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Second appel : le badge vient du cache réchauffé, même valeur
	total, err = f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSendMessage_WarmCacheStaysInSync(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Premier UnreadTotal : cache froid, Fill depuis la source de vérité
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, 0, total)

	// Les envois suivants incrémentent le cache chaud ET le ledger
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "coucou")
	require.NoError(t, err)

	total, err = f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Vide après trim
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "   \n\t ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	// Au-delà de la borne (comptée en runes, pas en octets)
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, strings.Repeat("é", domain.MaxMessageRunes+1))
	assert.ErrorIs(t, err, domain.ErrMessageTooLong)

	// Rien n'a été commité
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSendMessage_NotParticipant(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")
	carol := f.seedAccount(t, "carol")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, conv.ID, carol.ID, "je m'incruste")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestSendMessage_BlockedAfterStart(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Le blocage arrive APRÈS la création du fil : l'envoi est revérifié
	require.NoError(t, f.graph.Block(ctx, domain.NewBlockEntry(bob.ID, alice.ID)))

	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "tu es là ?")
	assert.ErrorIs(t, err, domain.ErrBlocked)
}

func TestMarkAsRead(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "lu ?")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, conv.ID, alice.ID, "toujours pas ?")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkAsRead(ctx, conv.ID, bob.ID))

	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Les accusés de lecture sont posés sur chaque message étranger
	msgs, _, err := f.svc.ListMessages(ctx, conv.ID, bob.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.IsReadBy(bob.ID))
	}

	// Rejouer ne publie pas de second event (rien de nouveau à marquer)
	require.NoError(t, f.svc.MarkAsRead(ctx, conv.ID, bob.ID))
	assert.Equal(t, 1, countSubject(f.events.Recorded(), "chat.conversation.read"))
}

func TestDeleteMessage_OnlySender(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, conv.ID, alice.ID, "oups")
	require.NoError(t, err)

	// Pour le destinataire, le message "n'existe pas" à la suppression
	err = f.svc.DeleteMessage(ctx, msg.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	require.NoError(t, f.svc.DeleteMessage(ctx, msg.ID, alice.ID))

	msgs, _, err := f.svc.ListMessages(ctx, conv.ID, alice.ID, 10, "")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Le compteur de bob est recalculé depuis le ledger : plus rien à lire
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

// --- LECTURES ---

func TestListMessages_KeysetPagination(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	texts := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, text := range texts {
		_, err := f.svc.SendMessage(ctx, conv.ID, alice.ID, text)
		require.NoError(t, err)
	}

	// Page 1 : les 2 plus récents
	page1, cursor, err := f.svc.ListMessages(ctx, conv.ID, bob.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	assert.Equal(t, "m5", page1[0].Text)
	assert.Equal(t, "m4", page1[1].Text)

	// Page 2 : on reprend strictement après le curseur, aucun doublon
	page2, cursor, err := f.svc.ListMessages(ctx, conv.ID, bob.ID, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "m3", page2[0].Text)
	assert.Equal(t, "m2", page2[1].Text)

	// Dernière page incomplète : pas de curseur suivant
	page3, cursor, err := f.svc.ListMessages(ctx, conv.ID, bob.ID, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, "m1", page3[0].Text)
	assert.Empty(t, cursor)
}

func TestListMessages_InvalidCursor(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Erreur franche : on ne repart pas silencieusement du début
	_, _, err = f.svc.ListMessages(ctx, conv.ID, alice.ID, 10, "n'importe quoi")
	assert.Error(t, err)
}

func TestListMessages_NotParticipant(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")
	carol := f.seedAccount(t, "carol")

	conv, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, _, err = f.svc.ListMessages(ctx, conv.ID, carol.ID, 10, "")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestUnreadTotal_AcrossConversations(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")
	carol := f.seedAccount(t, "carol")

	convAB, err := f.svc.StartConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convCB, err := f.svc.StartConversation(ctx, carol.ID, bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, convAB.ID, alice.ID, "salut")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, convCB.ID, carol.ID, "hello")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, convCB.ID, carol.ID, "t'es là ?")
	require.NoError(t, err)

	// Le badge agrège tous les fils du compte
	total, err := f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	// Lire UN fil ne touche pas les compteurs des autres
	require.NoError(t, f.svc.MarkAsRead(ctx, convCB.ID, bob.ID))

	total, err = f.svc.UnreadTotal(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
