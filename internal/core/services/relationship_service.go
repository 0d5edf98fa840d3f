package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/jupiterclapton/cercle/internal/core/ports"
)

// RelationshipService implémente ports.RelationshipService.
//
// Il orchestre : résolution des références en bordure, garde-fous métier
// (relation avec soi-même), délégation au GraphRepository pour les mutations
// atomiques, puis publication d'événements en best effort.
type RelationshipService struct {
	resolver ports.IdentityResolver
	graph    ports.GraphRepository
	broker   ports.RelationEventPublisher
}

func NewRelationshipService(
	resolver ports.IdentityResolver,
	graph ports.GraphRepository,
	broker ports.RelationEventPublisher,
) *RelationshipService {
	return &RelationshipService{
		resolver: resolver,
		graph:    graph,
		broker:   broker,
	}
}

// --- AMITIÉS ---

func (s *RelationshipService) SendFriendRequest(ctx context.Context, requesterRef, recipientRef string) (*domain.FriendEdge, error) {
	requester, recipient, err := s.resolvePair(ctx, requesterRef, recipientRef)
	if err != nil {
		return nil, err
	}
	if requester.ID == recipient.ID {
		return nil, domain.ErrSelfRelation
	}

	// Toute la machine à états (déjà amis / pending / collapse mutuel /
	// blocage) vit dans UNE transaction côté repo : deux demandes croisées qui
	// se courent après produisent exactement une arête acceptée, jamais deux
	// pendings.
	edge, err := s.graph.SendFriendRequest(ctx, domain.NewFriendRequest(requester.ID, recipient.ID))
	if err != nil {
		return nil, err
	}

	// Publication best effort : la donnée est commitée, on ne fait pas échouer
	// l'appelant si le broker est lent/down (on logue et on continue).
	if edge.Status == domain.StatusAccepted {
		// Collapse mutuel : les deux voulaient se connecter, c'est une
		// acceptation, pas une nouvelle demande.
		if err := s.broker.PublishRequestAccepted(ctx, edge); err != nil {
			slog.Warn("publish request.accepted failed", "request_id", edge.ID, "error", err)
		}
	} else {
		if err := s.broker.PublishRequestSent(ctx, edge); err != nil {
			slog.Warn("publish request.sent failed", "request_id", edge.ID, "error", err)
		}
	}

	return edge, nil
}

func (s *RelationshipService) AcceptFriendRequest(ctx context.Context, requestID, actorRef string) (*domain.FriendEdge, error) {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return nil, err
	}

	// Le repo fusionne "introuvable" et "pas le destinataire" en
	// ErrRequestNotFound : on ne révèle pas l'existence d'une demande à un
	// tiers.
	edge, err := s.graph.AcceptFriendRequest(ctx, requestID, actor.ID)
	if err != nil {
		return nil, err
	}

	if err := s.broker.PublishRequestAccepted(ctx, edge); err != nil {
		slog.Warn("publish request.accepted failed", "request_id", edge.ID, "error", err)
	}
	return edge, nil
}

func (s *RelationshipService) RejectFriendRequest(ctx context.Context, requestID, actorRef string) error {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return err
	}
	// Rejouable : un second reject rapporte simplement ErrRequestNotFound.
	return s.graph.RejectFriendRequest(ctx, requestID, actor.ID)
}

func (s *RelationshipService) CancelFriendRequest(ctx context.Context, requestID, actorRef string) error {
	actor, err := s.resolver.Resolve(ctx, actorRef)
	if err != nil {
		return err
	}
	return s.graph.CancelFriendRequest(ctx, requestID, actor.ID)
}

func (s *RelationshipService) RemoveFriend(ctx context.Context, actorRef, friendRef string) error {
	actor, friend, err := s.resolvePair(ctx, actorRef, friendRef)
	if err != nil {
		return err
	}

	// Peu importe qui avait demandé à l'origine : une fois acceptée,
	// l'amitié est symétrique.
	if err := s.graph.RemoveFriend(ctx, actor.ID, friend.ID); err != nil {
		return err
	}

	if err := s.broker.PublishFriendRemoved(ctx, actor.ID, friend.ID); err != nil {
		slog.Warn("publish friend.removed failed", "error", err)
	}
	return nil
}

// --- BLOCAGES ---

func (s *RelationshipService) BlockUser(ctx context.Context, blockerRef, targetRef string) error {
	blocker, target, err := s.resolvePair(ctx, blockerRef, targetRef)
	if err != nil {
		return err
	}
	if blocker.ID == target.ID {
		return domain.ErrSelfRelation
	}

	// Policy retenue : re-bloquer est un conflit (ErrAlreadyBlocked), pas un
	// succès silencieux. La cascade (suppression des arêtes d'amitié de la
	// paire) est dans la même tx côté repo.
	if err := s.graph.Block(ctx, domain.NewBlockEntry(blocker.ID, target.ID)); err != nil {
		return err
	}

	if err := s.broker.PublishUserBlocked(ctx, blocker.ID, target.ID); err != nil {
		slog.Warn("publish user.blocked failed", "error", err)
	}
	return nil
}

func (s *RelationshipService) UnblockUser(ctx context.Context, blockerRef, targetRef string) error {
	blocker, target, err := s.resolvePair(ctx, blockerRef, targetRef)
	if err != nil {
		return err
	}
	return s.graph.Unblock(ctx, blocker.ID, target.ID)
}

// --- FOLLOWS ---

func (s *RelationshipService) Follow(ctx context.Context, followerRef, followeeRef string) error {
	follower, followee, err := s.resolvePair(ctx, followerRef, followeeRef)
	if err != nil {
		return err
	}
	if follower.ID == followee.ID {
		return domain.ErrSelfRelation
	}

	if err := s.graph.Follow(ctx, follower.ID, followee.ID, time.Now().UTC()); err != nil {
		return err
	}

	if err := s.broker.PublishFollowed(ctx, follower.ID, followee.ID); err != nil {
		slog.Warn("publish followed failed", "error", err)
	}
	return nil
}

func (s *RelationshipService) Unfollow(ctx context.Context, followerRef, followeeRef string) error {
	follower, followee, err := s.resolvePair(ctx, followerRef, followeeRef)
	if err != nil {
		return err
	}

	if err := s.graph.Unfollow(ctx, follower.ID, followee.ID); err != nil {
		return err
	}

	if err := s.broker.PublishUnfollowed(ctx, follower.ID, followee.ID); err != nil {
		slog.Warn("publish unfollowed failed", "error", err)
	}
	return nil
}

// --- LECTURES ---

func (s *RelationshipService) GetFriends(ctx context.Context, ref string) ([]string, error) {
	account, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.graph.FriendIDs(ctx, account.ID)
}

func (s *RelationshipService) GetPendingRequests(ctx context.Context, ref string) ([]*domain.FriendEdge, error) {
	account, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.graph.PendingRequests(ctx, account.ID)
}

func (s *RelationshipService) CheckRelation(ctx context.Context, actorRef, targetRef string) (*domain.RelationStatus, error) {
	actor, target, err := s.resolvePair(ctx, actorRef, targetRef)
	if err != nil {
		return nil, err
	}
	return s.graph.RelationStatus(ctx, actor.ID, target.ID)
}

func (s *RelationshipService) StreamFollowers(ctx context.Context, ref string, batchSize int, yield func([]string) error) error {
	account, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return s.graph.StreamFollowerIDs(ctx, account.ID, batchSize, yield)
}

// --- HELPERS ---

func (s *RelationshipService) resolvePair(ctx context.Context, aRef, bRef string) (*domain.Account, *domain.Account, error) {
	a, err := s.resolver.Resolve(ctx, aRef)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.resolver.Resolve(ctx, bRef)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
