package graphstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-process reference implementation of Store. It backs
// single-node deployments and tests; swapping in a real graph database means
// implementing Store against its driver.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges []Relationship

	// FailCreates forces CreateNode to fail; used to exercise the
	// cross-reference compensation path.
	FailCreates bool
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]Node)}
}

// CreateNode stores a node and returns a fresh external id.
func (s *MemoryStore) CreateNode(_ context.Context, nodeType string, data map[string]any, primaryID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreates {
		return "", fmt.Errorf("graph store unavailable")
	}
	id := "gn-" + uuid.New().String()
	s.nodes[id] = Node{ID: id, Type: nodeType, PrimaryID: primaryID, Data: data}
	return id, nil
}

// DeleteNode removes a node; deleting an unknown id is a no-op.
func (s *MemoryStore) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

// NodeExists reports whether the external id resolves.
func (s *MemoryStore) NodeExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok, nil
}

// CreateRelationship links two existing nodes.
func (s *MemoryStore) CreateRelationship(_ context.Context, fromID, toID, relType string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[fromID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, fromID)
	}
	if _, ok := s.nodes[toID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, toID)
	}
	s.edges = append(s.edges, Relationship{FromID: fromID, ToID: toID, Type: relType, Props: props})
	return nil
}

// QueryNodes returns nodes of a type whose data matches every filter.
func (s *MemoryStore) QueryNodes(_ context.Context, nodeType string, filters map[string]any) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for _, n := range s.nodes {
		if n.Type != nodeType {
			continue
		}
		match := true
		for k, v := range filters {
			if n.Data[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, n)
		}
	}
	return out, nil
}
