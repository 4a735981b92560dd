// Package searchindex defines the full-text index contract the
// cross-reference registry writes through. The production backend
// (Elasticsearch in the system this replaces) is external; only the contract
// is specified here.
package searchindex

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned when the document id does not resolve.
var ErrDocumentNotFound = errors.New("search document not found")

// Index is the full-text index contract.
type Index interface {
	// IndexDocument stores a document of the given type tagged with the
	// entity's primary id and returns the index's external id.
	IndexDocument(ctx context.Context, docType string, doc map[string]any, primaryID string) (string, error)

	// Delete removes a document by type and external id.
	Delete(ctx context.Context, docType, id string) error

	// Exists reports whether a document id still resolves.
	Exists(ctx context.Context, docType, id string) (bool, error)

	// Search returns documents of a type matching the query and filters,
	// paginated by from/size.
	Search(ctx context.Context, docType, query string, filters map[string]any, from, size int) (*SearchResult, error)
}

// Document is an indexed document snapshot.
type Document struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	PrimaryID string         `json:"primaryId"`
	Fields    map[string]any `json:"fields"`
}

// SearchResult is one page of matches plus the total match count.
type SearchResult struct {
	Docs  []Document `json:"docs"`
	Total int        `json:"total"`
}
