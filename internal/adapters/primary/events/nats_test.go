package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupiterclapton/cercle/internal/adapters/secondary/memory"
	"github.com/jupiterclapton/cercle/internal/core/services"
)

// Le handler se teste sans serveur NATS : on construit le message à la main.
func natsMsg(t *testing.T, payload string) *nats.Msg {
	t.Helper()
	return &nats.Msg{Subject: SubjectUserRegistered, Data: []byte(payload)}
}

func TestHandleUserRegistered_ProvisionsAccount(t *testing.T) {
	repo := memory.NewAccountRepo()
	handler := NewEventHandler(services.NewIdentityResolver(repo))

	userID := uuid.NewString()
	handler.HandleUserRegistered(natsMsg(t,
		`{"user_id":"`+userID+`","email":"jean@exemple.fr","username":"jean.dupont","full_name":"Jean Dupont"}`))

	acc, err := repo.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "jean.dupont", acc.Alias)
	assert.Equal(t, "Jean Dupont", acc.DisplayName)
}

func TestHandleUserRegistered_AliasFallsBackToEmail(t *testing.T) {
	repo := memory.NewAccountRepo()
	handler := NewEventHandler(services.NewIdentityResolver(repo))

	// Vieux format d'event : pas de username, l'alias vient de l'email
	userID := uuid.NewString()
	handler.HandleUserRegistered(natsMsg(t,
		`{"user_id":"`+userID+`","email":"marie@exemple.fr","full_name":"Marie"}`))

	acc, err := repo.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "marie", acc.Alias)
}

func TestHandleUserRegistered_ReplayIsSafe(t *testing.T) {
	repo := memory.NewAccountRepo()
	handler := NewEventHandler(services.NewIdentityResolver(repo))

	userID := uuid.NewString()
	payload := `{"user_id":"` + userID + `","email":"jean@exemple.fr","username":"jean.dupont"}`

	// Redelivery NATS : le second passage ne doit ni paniquer ni dupliquer
	handler.HandleUserRegistered(natsMsg(t, payload))
	handler.HandleUserRegistered(natsMsg(t, payload))

	acc, err := repo.GetByAlias(context.Background(), "jean.dupont")
	require.NoError(t, err)
	assert.Equal(t, userID, acc.ID)
}

func TestHandleUserRegistered_InvalidPayload(t *testing.T) {
	repo := memory.NewAccountRepo()
	handler := NewEventHandler(services.NewIdentityResolver(repo))

	// Un event illisible est logué et ignoré, pas de panique
	handler.HandleUserRegistered(natsMsg(t, `{pas du json`))
}
