package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CrossRefStatus is the integrity status of a cross-reference.
type CrossRefStatus string

// Cross-reference statuses.
const (
	CrossRefStatusActive            CrossRefStatus = "Active"
	CrossRefStatusPartiallyOrphaned CrossRefStatus = "PartiallyOrphaned"
	CrossRefStatusOrphaned          CrossRefStatus = "Orphaned"
	CrossRefStatusPendingDeletion   CrossRefStatus = "PendingDeletion"
)

// CrossReference links one logical entity across the SQL, graph, and search
// stores. The SQL row is canonical; graph and search entries are derived
// mirrors identified by their external ids.
type CrossReference struct {
	PrimaryID     string         `db:"primary_id" json:"primaryId"`
	EntityType    string         `db:"entity_type" json:"entityType"`
	SQLID         *string        `db:"sql_id" json:"sqlId,omitempty"`
	GraphID       *string        `db:"graph_id" json:"graphId,omitempty"`
	SearchID      *string        `db:"search_id" json:"searchId,omitempty"`
	Status        CrossRefStatus `db:"status" json:"status"`
	IntegrityHash string         `db:"integrity_hash" json:"integrityHash"`
	Metadata      string         `db:"metadata" json:"metadata"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}

// ComputeIntegrityHash returns the sha-256 of the id tuple. Nil external ids
// contribute an empty segment so the hash is stable across placeholder and
// final states only when the ids themselves are unchanged.
func (c *CrossReference) ComputeIntegrityHash() string {
	return IntegrityHash(c.PrimaryID, c.EntityType, deref(c.SQLID), deref(c.GraphID), deref(c.SearchID))
}

// IntegrityHash computes sha256(primaryId|entityType|sqlId|graphId|searchId).
func IntegrityHash(primaryID, entityType, sqlID, graphID, searchID string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{primaryID, entityType, sqlID, graphID, searchID}, "|")))
	return hex.EncodeToString(sum[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ValidationResult reports the outcome of validating a cross-reference
// against its external stores.
type ValidationResult struct {
	PrimaryID             string `json:"primaryId"`
	SQLValid              bool   `json:"sqlValid"`
	GraphValid            bool   `json:"graphValid"`
	SearchValid           bool   `json:"searchValid"`
	HasOrphanedReferences bool   `json:"hasOrphanedReferences"`
	IntegrityHashValid    bool   `json:"integrityHashValid"`
}
