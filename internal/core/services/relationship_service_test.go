package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cercle/internal/adapters/secondary/memory"
	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// Fixture : le service branché sur les adapters mémoire, qui honorent les
// mêmes contrats d'atomicité que Neo4j (voir le doc du package memory).
type relationFixture struct {
	svc      *RelationshipService
	accounts *memory.AccountRepo
	graph    *memory.GraphRepo
	events   *memory.EventRecorder
}

func newRelationFixture(t *testing.T) *relationFixture {
	t.Helper()
	accounts := memory.NewAccountRepo()
	graph := memory.NewGraphRepo()
	events := memory.NewEventRecorder()
	resolver := NewIdentityResolver(accounts)
	return &relationFixture{
		svc:      NewRelationshipService(resolver, graph, events),
		accounts: accounts,
		graph:    graph,
		events:   events,
	}
}

func (f *relationFixture) seedAccount(t *testing.T, alias string) *domain.Account {
	t.Helper()
	acc, err := domain.NewAccount("", alias, alias)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Save(context.Background(), acc))
	return acc
}

// --- DEMANDES D'AMITIÉ ---

func TestSendFriendRequest_CreatesPending(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, edge.Status)
	assert.Equal(t, alice.ID, edge.Requester)
	assert.Equal(t, bob.ID, edge.Recipient)

	// Visible côté destinataire uniquement
	pending, err := f.svc.GetPendingRequests(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, edge.ID, pending[0].ID)

	assert.Equal(t, []string{"relation.request.sent"}, f.events.Recorded())
}

func TestSendFriendRequest_ByAlias(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	f.seedAccount(t, "alice")
	f.seedAccount(t, "bob")

	// La résolution accepte l'alias, y compris avec une casse différente
	edge, err := f.svc.SendFriendRequest(ctx, "Alice", "BOB")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, edge.Status)
}

func TestSendFriendRequest_Self(t *testing.T) {
	f := newRelationFixture(t)
	alice := f.seedAccount(t, "alice")

	// Par handle ET par alias : les deux références pointent le même compte
	_, err := f.svc.SendFriendRequest(context.Background(), alice.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrSelfRelation)
	assert.Empty(t, f.events.Recorded())
}

func TestSendFriendRequest_Duplicate(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	_, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrRequestExists)
}

func TestSendFriendRequest_UnknownAccount(t *testing.T) {
	f := newRelationFixture(t)
	alice := f.seedAccount(t, "alice")

	_, err := f.svc.SendFriendRequest(context.Background(), alice.ID, "ghost")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestSendFriendRequest_MutualCollapse(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	first, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Demande croisée : PAS de second pending, l'arête existante passe à
	// accepted en conservant son ID.
	second, err := f.svc.SendFriendRequest(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, second.Status)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Since.IsZero())

	// Les deux se voient amis, plus aucun pending nulle part
	for _, acc := range []*domain.Account{alice, bob} {
		friends, err := f.svc.GetFriends(ctx, acc.ID)
		require.NoError(t, err)
		assert.Len(t, friends, 1)

		pending, err := f.svc.GetPendingRequests(ctx, acc.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)
	}

	// Le collapse publie une acceptation, pas une seconde demande
	assert.Equal(t, []string{"relation.request.sent", "relation.request.accepted"}, f.events.Recorded())
}

func TestSendFriendRequest_ConcurrentCross(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	// Deux demandes croisées qui se courent après : quelle que soit
	// l'intercalation, on finit avec UNE arête acceptée, jamais deux pendings.
	var wg sync.WaitGroup
	results := make([]*domain.FriendEdge, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.svc.SendFriendRequest(ctx, bob.ID, alice.ID)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].ID, results[1].ID)

	status, err := f.svc.CheckRelation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, status.Friendship)
}

func TestAcceptFriendRequest(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	accepted, err := f.svc.AcceptFriendRequest(ctx, edge.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, accepted.Status)
	assert.False(t, accepted.Since.IsZero())

	friends, err := f.svc.GetFriends(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.ID}, friends)
}

func TestAcceptFriendRequest_OnlyRecipient(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")
	carol := f.seedAccount(t, "carol")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Ni le demandeur ni un tiers ne peuvent accepter — et la réponse ne
	// révèle pas que la demande existe.
	_, err = f.svc.AcceptFriendRequest(ctx, edge.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	_, err = f.svc.AcceptFriendRequest(ctx, edge.ID, carol.ID)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestRejectFriendRequest_Replay(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.RejectFriendRequest(ctx, edge.ID, bob.ID))

	// Rejouable sans danger : la demande n'existe simplement plus
	err = f.svc.RejectFriendRequest(ctx, edge.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	// Le refus supprime l'arête : alice peut redemander
	_, err = f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	assert.NoError(t, err)
}

func TestCancelFriendRequest_OnlyRequester(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	err = f.svc.CancelFriendRequest(ctx, edge.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	require.NoError(t, f.svc.CancelFriendRequest(ctx, edge.ID, alice.ID))

	pending, err := f.svc.GetPendingRequests(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRemoveFriend_SymmetricAndReplayable(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, edge.ID, bob.ID)
	require.NoError(t, err)

	// Peu importe qui avait demandé : bob peut retirer alice
	require.NoError(t, f.svc.RemoveFriend(ctx, bob.ID, alice.ID))

	friends, err := f.svc.GetFriends(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)

	err = f.svc.RemoveFriend(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrNotFriends)
}

// --- BLOCAGES ---

func TestBlockUser_CascadesFriendship(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	edge, err := f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.svc.AcceptFriendRequest(ctx, edge.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.BlockUser(ctx, alice.ID, bob.ID))

	// La cascade a supprimé l'amitié dans la même mutation
	status, err := f.svc.CheckRelation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, status.IsBlocked)
	assert.Equal(t, domain.StatusNone, status.Friendship)

	// Aucune nouvelle demande ne passe, dans AUCUN des deux sens
	_, err = f.svc.SendFriendRequest(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrBlocked)
	_, err = f.svc.SendFriendRequest(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrBlocked)
}

func TestBlockUser_AlreadyBlocked(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	require.NoError(t, f.svc.BlockUser(ctx, alice.ID, bob.ID))

	// Policy : re-bloquer est un conflit, pas un succès silencieux
	err := f.svc.BlockUser(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyBlocked)
}

func TestUnblockUser(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	err := f.svc.UnblockUser(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotBlocked)

	require.NoError(t, f.svc.BlockUser(ctx, alice.ID, bob.ID))
	require.NoError(t, f.svc.UnblockUser(ctx, alice.ID, bob.ID))

	// Le déblocage ne restaure PAS l'amitié supprimée, mais rouvre la porte
	_, err = f.svc.SendFriendRequest(ctx, bob.ID, alice.ID)
	assert.NoError(t, err)
}

// --- FOLLOWS ---

func TestFollow_Lifecycle(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	alice := f.seedAccount(t, "alice")
	bob := f.seedAccount(t, "bob")

	require.NoError(t, f.svc.Follow(ctx, alice.ID, bob.ID))

	err := f.svc.Follow(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyFollowing)

	status, err := f.svc.CheckRelation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, status.IsFollowing)
	assert.False(t, status.IsFollowedBy)

	require.NoError(t, f.svc.Unfollow(ctx, alice.ID, bob.ID))

	err = f.svc.Unfollow(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotFollowing)

	// follow / unfollow / follow : la séquence complète reste valide
	require.NoError(t, f.svc.Follow(ctx, alice.ID, bob.ID))
}

func TestFollow_Self(t *testing.T) {
	f := newRelationFixture(t)
	alice := f.seedAccount(t, "alice")

	err := f.svc.Follow(context.Background(), alice.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrSelfRelation)
}

func TestStreamFollowers_Batches(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()
	star := f.seedAccount(t, "star")

	for _, alias := range []string{"fan1", "fan2", "fan3", "fan4", "fan5"} {
		fan := f.seedAccount(t, alias)
		require.NoError(t, f.svc.Follow(ctx, fan.ID, star.ID))
	}

	var batches [][]string
	var total int
	err := f.svc.StreamFollowers(ctx, star.ID, 2, func(batch []string) error {
		batches = append(batches, batch)
		total += len(batch)
		return nil
	})
	require.NoError(t, err)

	// 5 followers par paquets de 2 : 2 + 2 + 1
	assert.Len(t, batches, 3)
	assert.Equal(t, 5, total)
}
