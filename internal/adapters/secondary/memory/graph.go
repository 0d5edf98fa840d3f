package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
)

// GraphRepo : graphe relationnel en mémoire.
// Comme l'adapter Neo4j, chaque mutation est atomique (ici : sous mutex) —
// la machine à états de SendFriendRequest s'évalue et s'applique d'un bloc.
type GraphRepo struct {
	mu      sync.Mutex
	edges   map[string]*domain.FriendEdge // request/friend edges par id
	follows map[[2]string]time.Time       // (follower, followee) -> date
	blocks  map[[2]string]time.Time       // (blocker, blocked) -> date
}

func NewGraphRepo() *GraphRepo {
	return &GraphRepo{
		edges:   make(map[string]*domain.FriendEdge),
		follows: make(map[[2]string]time.Time),
		blocks:  make(map[[2]string]time.Time),
	}
}

func (r *GraphRepo) EnsureSchema(ctx context.Context) error { return nil }

// --- AMITIÉS ---

func (r *GraphRepo) SendFriendRequest(ctx context.Context, edge *domain.FriendEdge) (*domain.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasBlockLocked(edge.Requester, edge.Recipient) {
		return nil, domain.ErrBlocked
	}

	for _, e := range r.edges {
		if !samePair(e, edge.Requester, edge.Recipient) {
			continue
		}
		switch {
		case e.Status == domain.StatusAccepted:
			return nil, domain.ErrAlreadyFriends
		case e.Requester == edge.Requester:
			return nil, domain.ErrRequestExists
		default:
			// Collapse mutuel : l'arête inverse pending passe à accepted
			e.Accept()
			cp := *e
			return &cp, nil
		}
	}

	cp := *edge
	r.edges[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *GraphRepo) AcceptFriendRequest(ctx context.Context, requestID, actorID string) (*domain.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.edges[requestID]
	if !ok || e.Status != domain.StatusPending || e.Recipient != actorID {
		// Fusion introuvable / pas le destinataire
		return nil, domain.ErrRequestNotFound
	}

	e.Accept()
	cp := *e
	return &cp, nil
}

func (r *GraphRepo) RejectFriendRequest(ctx context.Context, requestID, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.edges[requestID]
	if !ok || e.Status != domain.StatusPending || e.Recipient != actorID {
		return domain.ErrRequestNotFound
	}
	delete(r.edges, requestID)
	return nil
}

func (r *GraphRepo) CancelFriendRequest(ctx context.Context, requestID, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.edges[requestID]
	if !ok || e.Status != domain.StatusPending || e.Requester != actorID {
		return domain.ErrRequestNotFound
	}
	delete(r.edges, requestID)
	return nil
}

func (r *GraphRepo) RemoveFriend(ctx context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.edges {
		if e.Status == domain.StatusAccepted && samePair(e, a, b) {
			delete(r.edges, id)
			return nil
		}
	}
	return domain.ErrNotFriends
}

// --- BLOCAGES ---

func (r *GraphRepo) Block(ctx context.Context, entry *domain.BlockEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := [2]string{entry.Blocker, entry.Blocked}
	if _, ok := r.blocks[k]; ok {
		return domain.ErrAlreadyBlocked
	}
	r.blocks[k] = entry.CreatedAt

	// Cascade : toute arête d'amitié de la paire saute avec le blocage
	for id, e := range r.edges {
		if samePair(e, entry.Blocker, entry.Blocked) {
			delete(r.edges, id)
		}
	}
	return nil
}

func (r *GraphRepo) Unblock(ctx context.Context, blockerID, blockedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := [2]string{blockerID, blockedID}
	if _, ok := r.blocks[k]; !ok {
		return domain.ErrNotBlocked
	}
	delete(r.blocks, k)
	return nil
}

func (r *GraphRepo) HasBlock(ctx context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasBlockLocked(a, b), nil
}

// --- FOLLOWS ---

func (r *GraphRepo) Follow(ctx context.Context, followerID, followeeID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := [2]string{followerID, followeeID}
	if _, ok := r.follows[k]; ok {
		return domain.ErrAlreadyFollowing
	}
	r.follows[k] = at
	return nil
}

func (r *GraphRepo) Unfollow(ctx context.Context, followerID, followeeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := [2]string{followerID, followeeID}
	if _, ok := r.follows[k]; !ok {
		return domain.ErrNotFollowing
	}
	delete(r.follows, k)
	return nil
}

// --- LECTURES ---

func (r *GraphRepo) FriendIDs(ctx context.Context, accountID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, e := range r.edges {
		if e.Status != domain.StatusAccepted {
			continue
		}
		if e.Requester == accountID {
			ids = append(ids, e.Recipient)
		} else if e.Recipient == accountID {
			ids = append(ids, e.Requester)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *GraphRepo) PendingRequests(ctx context.Context, recipientID string) ([]*domain.FriendEdge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var edges []*domain.FriendEdge
	for _, e := range r.edges {
		if e.Status == domain.StatusPending && e.Recipient == recipientID {
			cp := *e
			edges = append(edges, &cp)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].CreatedAt.After(edges[j].CreatedAt) })
	return edges, nil
}

func (r *GraphRepo) RelationStatus(ctx context.Context, actorID, targetID string) (*domain.RelationStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := &domain.RelationStatus{
		Friendship:   domain.StatusNone,
		IsFollowing:  r.hasFollow(actorID, targetID),
		IsFollowedBy: r.hasFollow(targetID, actorID),
		IsBlocked:    r.hasBlockLocked(actorID, targetID),
	}

	for _, e := range r.edges {
		if !samePair(e, actorID, targetID) {
			continue
		}
		status.Friendship = e.Status
		if e.Status == domain.StatusPending {
			status.PendingFrom = e.Requester
		}
		break
	}
	return status, nil
}

func (r *GraphRepo) StreamFollowerIDs(ctx context.Context, accountID string, batchSize int, yield func([]string) error) error {
	r.mu.Lock()
	var followers []string
	for k := range r.follows {
		if k[1] == accountID {
			followers = append(followers, k[0])
		}
	}
	r.mu.Unlock()
	sort.Strings(followers)

	for i := 0; i < len(followers); i += batchSize {
		end := i + batchSize
		if end > len(followers) {
			end = len(followers)
		}
		if err := yield(followers[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// --- HELPERS ---

func (r *GraphRepo) hasBlockLocked(a, b string) bool {
	if _, ok := r.blocks[[2]string{a, b}]; ok {
		return true
	}
	_, ok := r.blocks[[2]string{b, a}]
	return ok
}

func (r *GraphRepo) hasFollow(follower, followee string) bool {
	_, ok := r.follows[[2]string{follower, followee}]
	return ok
}

func samePair(e *domain.FriendEdge, a, b string) bool {
	return (e.Requester == a && e.Recipient == b) || (e.Requester == b && e.Recipient == a)
}
