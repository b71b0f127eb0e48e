package repository

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Neo4jRepo struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jRepo(driver neo4j.DriverWithContext) *Neo4jRepo {
	return &Neo4jRepo{driver: driver}
}

// EnsureSchema makes User lookups by id O(1).
func (r *Neo4jRepo) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`
		_, err := tx.Run(ctx, query, nil)
		return nil, err
	})
	return err
}

func (r *Neo4jRepo) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			OPTIONAL MATCH (a:User {id: $actorId})-[r:FOLLOWS]->(b:User {id: $targetId})
			RETURN r IS NOT NULL AS following
		`
		res, err := tx.Run(ctx, query, map[string]any{"actorId": actorID, "targetId": targetID})
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return false, err
		}
		following, _ := rec.Get("following")
		return following.(bool), nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// ToggleFollow flips the FOLLOWS edge in a single write transaction and returns the new
// state.
func (r *Neo4jRepo) ToggleFollow(ctx context.Context, actorID, targetID string) (bool, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"actorId": actorID, "targetId": targetID}

		res, err := tx.Run(ctx, `
			MATCH (:User {id: $actorId})-[r:FOLLOWS]->(:User {id: $targetId})
			DELETE r
			RETURN count(r) AS removed
		`, params)
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return false, err
		}
		if removed, _ := rec.Get("removed"); removed.(int64) > 0 {
			return false, nil
		}

		_, err = tx.Run(ctx, `
			MERGE (a:User {id: $actorId})
			MERGE (b:User {id: $targetId})
			MERGE (a)-[r:FOLLOWS]->(b)
			ON CREATE SET r.created_at = datetime()
		`, params)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// RecommendedIDs ranks friends of friends by the number of shared followees.
func (r *Neo4jRepo) RecommendedIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (me:User {id: $userId})-[:FOLLOWS]->(:User)-[:FOLLOWS]->(s:User)
			WHERE s <> me AND NOT (me)-[:FOLLOWS]->(s)
			RETURN s.id AS id, count(*) AS mutual
			ORDER BY mutual DESC, id ASC
			LIMIT $limit
		`
		res, err := tx.Run(ctx, query, map[string]any{"userId": userID, "limit": limit})
		if err != nil {
			return nil, err
		}

		var ids []string
		for res.Next(ctx) {
			id, _ := res.Record().Get("id")
			ids = append(ids, id.(string))
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
