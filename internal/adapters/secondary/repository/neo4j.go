package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jupiterclapton/cercle/internal/core/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jGraphRepo stocke le graphe relationnel :
//
//	(a:Account)-[:REQUESTED {id, created_at}]->(b)   demande pending
//	(a:Account)-[:FRIENDS  {id, since}]->(b)         amitié acceptée (symétrique, matchée sans direction)
//	(a:Account)-[:FOLLOWS  {created_at}]->(b)        follow (existence = actif)
//	(a:Account)-[:BLOCKED  {created_at}]->(b)        blocage
//
// Toutes les mutations sont des ExecuteWrite UNIQUES : la lecture de l'état de
// la paire et la décision (créer / collapse / erreur) se font dans la même
// transaction managée, jamais en read-then-write applicatif.
//
// Les timestamps d'arêtes relus par le Go sont stockés en epoch millis ($now)
// pour éviter le juggling des types temporels du driver.
type Neo4jGraphRepo struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphRepo(driver neo4j.DriverWithContext) *Neo4jGraphRepo {
	return &Neo4jGraphRepo{driver: driver}
}

// EnsureSchema crée les contraintes et index pour des lookups O(1) (idempotent).
func (r *Neo4jGraphRepo) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		// Contrainte d'unicité sur Account.id (crée aussi un index)
		`CREATE CONSTRAINT account_id_unique IF NOT EXISTS FOR (a:Account) REQUIRE a.id IS UNIQUE`,
		// Index sur l'id des demandes pour AcceptFriendRequest & co
		`CREATE INDEX requested_id IF NOT EXISTS FOR ()-[r:REQUESTED]-() ON (r.id)`,
		`CREATE INDEX friends_id IF NOT EXISTS FOR ()-[f:FRIENDS]-() ON (f.id)`,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, q := range queries {
			if _, err := tx.Run(ctx, q, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// --- AMITIÉS ---

// SendFriendRequest applique toute la machine à états de la paire en une tx.
func (r *Neo4jGraphRepo) SendFriendRequest(ctx context.Context, edge *domain.FriendEdge) (*domain.FriendEdge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// 1. Photographier l'état de la paire (une seule requête, les deux sens).
		// Le SET/REMOVE prend le write lock des deux noeuds jusqu'au commit :
		// les décisions concurrentes sur la même paire se sérialisent, deux
		// demandes croisées ne peuvent pas voir toutes les deux "aucune arête".
		stateQuery := `
			MERGE (a:Account {id: $requesterId})
			MERGE (b:Account {id: $recipientId})
			SET a._lock = true, b._lock = true
			REMOVE a._lock, b._lock
			WITH a, b
			OPTIONAL MATCH (a)-[f:FRIENDS]-(b)
			OPTIONAL MATCH (a)-[out:REQUESTED]->(b)
			OPTIONAL MATCH (b)-[inc:REQUESTED]->(a)
			OPTIONAL MATCH (a)-[blk:BLOCKED]-(b)
			RETURN f IS NOT NULL AS friends,
			       blk IS NOT NULL AS blocked,
			       out.id AS outId,
			       inc.id AS incId,
			       inc.created_at AS incCreatedAt
		`
		res, err := tx.Run(ctx, stateQuery, map[string]any{
			"requesterId": edge.Requester,
			"recipientId": edge.Recipient,
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}

		friends, _ := rec.Get("friends")
		blocked, _ := rec.Get("blocked")
		outID, _ := rec.Get("outId")
		incID, _ := rec.Get("incId")

		// 2. Brancher selon l'état
		switch {
		case blocked.(bool):
			return nil, domain.ErrBlocked
		case friends.(bool):
			return nil, domain.ErrAlreadyFriends
		case outID != nil:
			return nil, domain.ErrRequestExists
		case incID != nil:
			// COLLAPSE MUTUEL : le destinataire avait déjà demandé dans l'autre
			// sens. On flippe SON arête en FRIENDS (même id) — aucune nouvelle
			// arête, "send request" devient commutatif avec "accept".
			incCreatedAt, _ := rec.Get("incCreatedAt")
			collapseQuery := `
				MATCH (b:Account {id: $recipientId})-[r:REQUESTED {id: $requestId}]->(a:Account {id: $requesterId})
				DELETE r
				CREATE (b)-[:FRIENDS {id: $requestId, since: $now}]->(a)
			`
			if _, err := tx.Run(ctx, collapseQuery, map[string]any{
				"requesterId": edge.Requester,
				"recipientId": edge.Recipient,
				"requestId":   incID.(string),
				"now":         time.Now().UTC().UnixMilli(),
			}); err != nil {
				return nil, err
			}

			accepted := &domain.FriendEdge{
				ID:        incID.(string),
				Requester: edge.Recipient, // le demandeur d'origine
				Recipient: edge.Requester,
				Status:    domain.StatusAccepted,
				Since:     time.Now().UTC(),
			}
			if ms, ok := incCreatedAt.(int64); ok {
				accepted.CreatedAt = time.UnixMilli(ms).UTC()
			}
			return accepted, nil
		}

		// 3. Cas nominal : création de l'arête pending
		createQuery := `
			MATCH (a:Account {id: $requesterId}), (b:Account {id: $recipientId})
			CREATE (a)-[:REQUESTED {id: $requestId, created_at: $now}]->(b)
		`
		if _, err := tx.Run(ctx, createQuery, map[string]any{
			"requesterId": edge.Requester,
			"recipientId": edge.Recipient,
			"requestId":   edge.ID,
			"now":         edge.CreatedAt.UnixMilli(),
		}); err != nil {
			return nil, err
		}
		return edge, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*domain.FriendEdge), nil
}

// AcceptFriendRequest : seul le destinataire matche — sinon ErrRequestNotFound
// (on ne distingue pas "inexistant" de "pas à toi", pas de fuite d'existence).
func (r *Neo4jGraphRepo) AcceptFriendRequest(ctx context.Context, requestID, actorID string) (*domain.FriendEdge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (q:Account)-[r:REQUESTED {id: $requestId}]->(t:Account {id: $actorId})
			WITH q, t, r, r.created_at AS createdAt
			DELETE r
			CREATE (q)-[:FRIENDS {id: $requestId, since: $now}]->(t)
			RETURN q.id AS requesterId, t.id AS recipientId, createdAt
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"requestId": requestID,
			"actorId":   actorID,
			"now":       time.Now().UTC().UnixMilli(),
		})
		if err != nil {
			return nil, err
		}

		rec, err := res.Single(ctx)
		if err != nil {
			// Aucune arête matchée : introuvable OU pas le destinataire.
			return nil, domain.ErrRequestNotFound
		}

		requesterID, _ := rec.Get("requesterId")
		recipientID, _ := rec.Get("recipientId")
		createdAt, _ := rec.Get("createdAt")

		edge := &domain.FriendEdge{
			ID:        requestID,
			Requester: requesterID.(string),
			Recipient: recipientID.(string),
			Status:    domain.StatusAccepted,
			Since:     time.Now().UTC(),
		}
		if ms, ok := createdAt.(int64); ok {
			edge.CreatedAt = time.UnixMilli(ms).UTC()
		}
		return edge, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*domain.FriendEdge), nil
}

func (r *Neo4jGraphRepo) RejectFriendRequest(ctx context.Context, requestID, actorID string) error {
	// Le destinataire refuse : l'arête est supprimée, pas archivée.
	query := `
		MATCH (q:Account)-[r:REQUESTED {id: $requestId}]->(t:Account {id: $actorId})
		DELETE r
		RETURN count(r) AS deleted
	`
	return r.deleteEdge(ctx, query, map[string]any{"requestId": requestID, "actorId": actorID}, domain.ErrRequestNotFound)
}

func (r *Neo4jGraphRepo) CancelFriendRequest(ctx context.Context, requestID, actorID string) error {
	// Le demandeur annule sa propre demande.
	query := `
		MATCH (q:Account {id: $actorId})-[r:REQUESTED {id: $requestId}]->(t:Account)
		DELETE r
		RETURN count(r) AS deleted
	`
	return r.deleteEdge(ctx, query, map[string]any{"requestId": requestID, "actorId": actorID}, domain.ErrRequestNotFound)
}

func (r *Neo4jGraphRepo) RemoveFriend(ctx context.Context, a, b string) error {
	// Match sans direction : l'amitié est symétrique une fois acceptée.
	query := `
		MATCH (x:Account {id: $a})-[f:FRIENDS]-(y:Account {id: $b})
		DELETE f
		RETURN count(f) AS deleted
	`
	return r.deleteEdge(ctx, query, map[string]any{"a": a, "b": b}, domain.ErrNotFriends)
}

// --- BLOCAGES ---

// Block ajoute l'entrée ET supprime toute arête d'amitié de la paire, en une tx.
func (r *Neo4jGraphRepo) Block(ctx context.Context, entry *domain.BlockEntry) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Même verrou pessimiste que SendFriendRequest : la vérification et la
		// cascade qui suit se sérialisent par paire.
		checkQuery := `
			MERGE (a:Account {id: $blockerId})
			MERGE (b:Account {id: $blockedId})
			SET a._lock = true, b._lock = true
			REMOVE a._lock, b._lock
			WITH a, b
			OPTIONAL MATCH (a)-[existing:BLOCKED]->(b)
			RETURN existing IS NOT NULL AS alreadyBlocked
		`
		res, err := tx.Run(ctx, checkQuery, map[string]any{
			"blockerId": entry.Blocker,
			"blockedId": entry.Blocked,
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if already, _ := rec.Get("alreadyBlocked"); already.(bool) {
			return nil, domain.ErrAlreadyBlocked
		}

		// Cascade : les demandes ET amitiés de la paire sautent avec le blocage.
		cascadeQuery := `
			MATCH (a:Account {id: $blockerId}), (b:Account {id: $blockedId})
			OPTIONAL MATCH (a)-[req:REQUESTED]-(b)
			OPTIONAL MATCH (a)-[fr:FRIENDS]-(b)
			DELETE req, fr
			WITH a, b
			CREATE (a)-[:BLOCKED {created_at: $now}]->(b)
		`
		_, err = tx.Run(ctx, cascadeQuery, map[string]any{
			"blockerId": entry.Blocker,
			"blockedId": entry.Blocked,
			"now":       entry.CreatedAt.UnixMilli(),
		})
		return nil, err
	})
	return err
}

func (r *Neo4jGraphRepo) Unblock(ctx context.Context, blockerID, blockedID string) error {
	query := `
		MATCH (a:Account {id: $blockerId})-[blk:BLOCKED]->(b:Account {id: $blockedId})
		DELETE blk
		RETURN count(blk) AS deleted
	`
	return r.deleteEdge(ctx, query, map[string]any{"blockerId": blockerID, "blockedId": blockedID}, domain.ErrNotBlocked)
}

func (r *Neo4jGraphRepo) HasBlock(ctx context.Context, a, b string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Match sans direction : un blocage dans UN SEUL sens suffit.
		query := `
			MATCH (a:Account {id: $a})-[:BLOCKED]-(b:Account {id: $b})
			RETURN count(*) > 0 AS blocked
		`
		res, err := tx.Run(ctx, query, map[string]any{"a": a, "b": b})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			blocked, _ := res.Record().Get("blocked")
			return blocked.(bool), nil
		}
		return false, res.Err()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// --- FOLLOWS ---

func (r *Neo4jGraphRepo) Follow(ctx context.Context, followerID, followeeID string, at time.Time) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// MERGE est idempotent ; le flag ON CREATE nous dit si l'arête vient
		// d'être créée — un duplicat est un conflit, pas un no-op silencieux.
		query := `
			MERGE (a:Account {id: $followerId})
			MERGE (b:Account {id: $followeeId})
			MERGE (a)-[r:FOLLOWS]->(b)
			ON CREATE SET r.created_at = $now, r.was_created = true
			ON MATCH SET r.was_created = false
			WITH r, r.was_created AS created
			REMOVE r.was_created
			RETURN created
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"followerId": followerID,
			"followeeId": followeeID,
			"now":        at.UnixMilli(),
		})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if created, _ := rec.Get("created"); !created.(bool) {
			return nil, domain.ErrAlreadyFollowing
		}
		return nil, nil
	})
	return err
}

func (r *Neo4jGraphRepo) Unfollow(ctx context.Context, followerID, followeeID string) error {
	query := `
		MATCH (a:Account {id: $followerId})-[r:FOLLOWS]->(b:Account {id: $followeeId})
		DELETE r
		RETURN count(r) AS deleted
	`
	return r.deleteEdge(ctx, query, map[string]any{"followerId": followerID, "followeeId": followeeID}, domain.ErrNotFollowing)
}

// --- LECTURES ---

func (r *Neo4jGraphRepo) FriendIDs(ctx context.Context, accountID string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (a:Account {id: $id})-[:FRIENDS]-(f:Account) RETURN f.id AS friendId ORDER BY friendId`
		res, err := tx.Run(ctx, query, map[string]any{"id": accountID})
		if err != nil {
			return nil, err
		}

		var ids []string
		for res.Next(ctx) {
			id, _ := res.Record().Get("friendId")
			ids = append(ids, id.(string))
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *Neo4jGraphRepo) PendingRequests(ctx context.Context, recipientID string) ([]*domain.FriendEdge, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (q:Account)-[r:REQUESTED]->(t:Account {id: $id})
			RETURN r.id AS requestId, q.id AS requesterId, r.created_at AS createdAt
			ORDER BY r.created_at DESC
		`
		res, err := tx.Run(ctx, query, map[string]any{"id": recipientID})
		if err != nil {
			return nil, err
		}

		var edges []*domain.FriendEdge
		for res.Next(ctx) {
			rec := res.Record()
			requestID, _ := rec.Get("requestId")
			requesterID, _ := rec.Get("requesterId")
			createdAt, _ := rec.Get("createdAt")

			edge := &domain.FriendEdge{
				ID:        requestID.(string),
				Requester: requesterID.(string),
				Recipient: recipientID,
				Status:    domain.StatusPending,
			}
			if ms, ok := createdAt.(int64); ok {
				edge.CreatedAt = time.UnixMilli(ms).UTC()
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*domain.FriendEdge), nil
}

func (r *Neo4jGraphRepo) RelationStatus(ctx context.Context, actorID, targetID string) (*domain.RelationStatus, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Une seule requête pour toute la paire (amitié, pending, follows, blocage)
		query := `
			OPTIONAL MATCH (a:Account {id: $actorId})
			OPTIONAL MATCH (b:Account {id: $targetId})
			RETURN EXISTS((a)-[:FRIENDS]-(b)) AS friends,
			       EXISTS((a)-[:REQUESTED]->(b)) AS requestedOut,
			       EXISTS((b)-[:REQUESTED]->(a)) AS requestedIn,
			       EXISTS((a)-[:FOLLOWS]->(b)) AS following,
			       EXISTS((b)-[:FOLLOWS]->(a)) AS followedBy,
			       EXISTS((a)-[:BLOCKED]-(b)) AS blocked
		`
		res, err := tx.Run(ctx, query, map[string]any{"actorId": actorID, "targetId": targetID})
		if err != nil {
			return nil, err
		}

		if res.Next(ctx) {
			rec := res.Record()
			get := func(key string) bool {
				v, _ := rec.Get(key)
				b, ok := v.(bool)
				return ok && b
			}

			status := &domain.RelationStatus{
				Friendship:   domain.StatusNone,
				IsFollowing:  get("following"),
				IsFollowedBy: get("followedBy"),
				IsBlocked:    get("blocked"),
			}
			switch {
			case get("friends"):
				status.Friendship = domain.StatusAccepted
			case get("requestedOut"):
				status.Friendship = domain.StatusPending
				status.PendingFrom = actorID
			case get("requestedIn"):
				status.Friendship = domain.StatusPending
				status.PendingFrom = targetID
			}
			return status, nil
		}
		// Aucun noeud : paire sans aucune relation
		return &domain.RelationStatus{Friendship: domain.StatusNone}, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.RelationStatus), nil
}

// StreamFollowerIDs : la méthode pour le fan-out des collaborateurs.
func (r *Neo4jGraphRepo) StreamFollowerIDs(ctx context.Context, accountID string, batchSize int, yield func([]string) error) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// Pas d'ExecuteRead ici : on veut streamer le résultat manuellement.
	query := `MATCH (u:Account {id: $id})<-[:FOLLOWS]-(f:Account) RETURN f.id AS followerId`

	res, err := session.Run(ctx, query, map[string]any{"id": accountID})
	if err != nil {
		return err
	}

	batch := make([]string, 0, batchSize)

	for res.Next(ctx) {
		id, _ := res.Record().Get("followerId")
		batch = append(batch, id.(string))

		if len(batch) >= batchSize {
			if err := yield(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := yield(batch); err != nil {
			return err
		}
	}

	return res.Err()
}

// --- HELPERS ---

// deleteEdge exécute une suppression et traduit "0 arête matchée" en sentinelle.
func (r *Neo4jGraphRepo) deleteEdge(ctx context.Context, query string, params map[string]any, notFound error) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, fmt.Errorf("graph delete: %w", err)
		}
		deleted, _ := rec.Get("deleted")
		if n, ok := deleted.(int64); !ok || n == 0 {
			return nil, notFound
		}
		return nil, nil
	})
	return err
}
