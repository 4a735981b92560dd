package searchindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryIndex is the in-process reference implementation of Index. Matching
// is case-insensitive substring search over string fields — enough for
// single-node deployments and tests.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document // key: docType + "/" + id

	// FailIndexing forces IndexDocument to fail; used to exercise the
	// cross-reference compensation path.
	FailIndexing bool
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Document)}
}

func docKey(docType, id string) string {
	return docType + "/" + id
}

// IndexDocument stores a document and returns a fresh external id.
func (m *MemoryIndex) IndexDocument(_ context.Context, docType string, doc map[string]any, primaryID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIndexing {
		return "", fmt.Errorf("search index unavailable")
	}
	id := "sd-" + uuid.New().String()
	m.docs[docKey(docType, id)] = Document{ID: id, Type: docType, PrimaryID: primaryID, Fields: doc}
	return id, nil
}

// Delete removes a document; deleting an unknown id is a no-op.
func (m *MemoryIndex) Delete(_ context.Context, docType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docKey(docType, id))
	return nil
}

// Exists reports whether the document id resolves.
func (m *MemoryIndex) Exists(_ context.Context, docType, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[docKey(docType, id)]
	return ok, nil
}

// Search matches the query as a case-insensitive substring against string
// fields and applies equality filters, then paginates.
func (m *MemoryIndex) Search(_ context.Context, docType, query string, filters map[string]any, from, size int) (*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query = strings.ToLower(query)
	var matches []Document
	for _, d := range m.docs {
		if d.Type != docType {
			continue
		}
		if !m.matchesFilters(d, filters) {
			continue
		}
		if query != "" && !m.matchesQuery(d, query) {
			continue
		}
		matches = append(matches, d)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	total := len(matches)
	if from >= total {
		return &SearchResult{Total: total}, nil
	}
	end := from + size
	if size <= 0 || end > total {
		end = total
	}
	return &SearchResult{Docs: matches[from:end], Total: total}, nil
}

func (m *MemoryIndex) matchesFilters(d Document, filters map[string]any) bool {
	for k, v := range filters {
		if d.Fields[k] != v {
			return false
		}
	}
	return true
}

func (m *MemoryIndex) matchesQuery(d Document, query string) bool {
	for _, v := range d.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}
