// Package graphstore defines the graph-store contract the cross-reference
// registry writes through. The production backend (Neo4j in the system this
// replaces) is external; only the contract is specified here.
package graphstore

import (
	"context"
	"errors"
)

// ErrNodeNotFound is returned when the node id does not resolve.
var ErrNodeNotFound = errors.New("graph node not found")

// Store is the graph-store contract.
type Store interface {
	// CreateNode creates a node of the given type carrying data, tagged with
	// the entity's primary id, and returns the store's external id.
	CreateNode(ctx context.Context, nodeType string, data map[string]any, primaryID string) (string, error)

	// DeleteNode removes a node by external id.
	DeleteNode(ctx context.Context, id string) error

	// NodeExists reports whether an external id still resolves.
	NodeExists(ctx context.Context, id string) (bool, error)

	// CreateRelationship links two nodes by external id.
	CreateRelationship(ctx context.Context, fromID, toID, relType string, props map[string]any) error

	// QueryNodes returns the nodes of a type matching every filter.
	QueryNodes(ctx context.Context, nodeType string, filters map[string]any) ([]Node, error)
}

// Node is a graph node snapshot.
type Node struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	PrimaryID string         `json:"primaryId"`
	Data      map[string]any `json:"data"`
}

// Relationship is a typed edge between two nodes.
type Relationship struct {
	FromID string         `json:"fromId"`
	ToID   string         `json:"toId"`
	Type   string         `json:"type"`
	Props  map[string]any `json:"props,omitempty"`
}
