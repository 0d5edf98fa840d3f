package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

// SubjectUserRegistered est le contract implicite avec le service d'identité.
const SubjectUserRegistered = "identity.user.registered"

// EventHandler provisionne la projection locale des comptes à partir des
// événements du service d'identité. C'est l'unique chemin d'écriture de la
// table accounts en production.
type EventHandler struct {
	resolver ports.IdentityResolver
}

func NewEventHandler(resolver ports.IdentityResolver) *EventHandler {
	return &EventHandler{resolver: resolver}
}

// UserRegisteredEvent : payload publié par identity-service.
type UserRegisteredEvent struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func (h *EventHandler) HandleUserRegistered(msg *nats.Msg) {
	// 1. Extraction du contexte de trace depuis les headers NATS
	ctx := context.Background()
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))

	// 2. Span de traitement (visible dans Jaeger, lié au service d'identité)
	tracer := otel.Tracer("cercle-core")
	ctx, span := tracer.Start(ctx, "process_user_registered", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var event UserRegisteredEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		span.RecordError(err)
		slog.Error("invalid user.registered event", "error", err)
		return
	}

	// L'alias vient du username ; certains vieux events n'ont que l'email,
	// on retombe sur sa partie locale.
	alias := event.Username
	if alias == "" {
		alias, _, _ = strings.Cut(event.Email, "@")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := h.resolver.Provision(ctx, ports.ProvisionAccountCmd{
		ID:          event.UserID,
		Alias:       alias,
		DisplayName: event.FullName,
	})
	if err != nil {
		// Rejeu d'un event déjà traité : ce n'est PAS une erreur.
		if errors.Is(err, domain.ErrAccountExists) {
			return
		}
		span.RecordError(err)
		slog.Error("account provisioning failed", "user_id", event.UserID, "error", err)
		return
	}

	slog.Info("account provisioned", "user_id", event.UserID, "alias", alias)
}
