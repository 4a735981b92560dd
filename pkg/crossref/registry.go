// Package crossref implements the cross-reference registry: every durable
// entity the pipeline produces gets a primary id here before any external
// write, and its per-store ids are recorded as the graph and search mirrors
// are created. Writes are ordered SQL row -> graph -> search; partial
// failures are compensated with best-effort deletes, never retried.
package crossref

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ensemble/maestro/pkg/graphstore"
	"github.com/ensemble/maestro/pkg/models"
	"github.com/ensemble/maestro/pkg/searchindex"
)

// ErrNotFound is returned when a primary id has no registry row.
var ErrNotFound = errors.New("cross-reference not found")

// Registry coordinates entity ids across the SQL, graph, and search stores.
type Registry struct {
	db     *sqlx.DB
	graph  graphstore.Store
	search searchindex.Index
	log    *slog.Logger
}

// NewRegistry creates a Registry over the three stores.
func NewRegistry(db *sqlx.DB, graph graphstore.Store, search searchindex.Index) *Registry {
	return &Registry{
		db:     db,
		graph:  graph,
		search: search,
		log:    slog.With("component", "crossref"),
	}
}

// Create allocates a primary id for a new entity and records it across all
// three stores, in order: SQL row, graph node, search document. If the graph
// or search write fails, every side that succeeded is deleted (best effort)
// along with the registry row, and the original error is returned.
func (r *Registry) Create(ctx context.Context, entityType string, entityData map[string]any) (*models.CrossReference, error) {
	primaryID := uuid.New().String()
	now := time.Now().UTC()

	sqlID := primaryID
	if v, ok := entityData["sqlId"].(string); ok && v != "" {
		sqlID = v
	}

	metadata, err := json.Marshal(entityData)
	if err != nil {
		return nil, fmt.Errorf("marshaling entity metadata: %w", err)
	}

	ref := &models.CrossReference{
		PrimaryID:  primaryID,
		EntityType: entityType,
		SQLID:      &sqlID,
		Status:     models.CrossRefStatusActive,
		Metadata:   string(metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	ref.IntegrityHash = ref.ComputeIntegrityHash()

	if err := r.insertRow(ctx, ref); err != nil {
		return nil, fmt.Errorf("persisting cross-reference row: %w", err)
	}

	graphID, err := r.graph.CreateNode(ctx, entityType, entityData, primaryID)
	if err != nil {
		r.compensate(ctx, ref)
		return nil, fmt.Errorf("creating graph node: %w", err)
	}
	ref.GraphID = &graphID

	searchID, err := r.search.IndexDocument(ctx, entityType, entityData, primaryID)
	if err != nil {
		r.compensate(ctx, ref)
		return nil, fmt.Errorf("indexing search document: %w", err)
	}
	ref.SearchID = &searchID

	ref.UpdatedAt = time.Now().UTC()
	ref.IntegrityHash = ref.ComputeIntegrityHash()
	if err := r.updateRow(ctx, ref); err != nil {
		r.compensate(ctx, ref)
		return nil, fmt.Errorf("finalizing cross-reference row: %w", err)
	}

	return ref, nil
}

// compensate deletes every store entry the failed Create managed to write.
// Failures here are logged only — the entity is gone either way, and the
// janitor reclaims leftovers.
func (r *Registry) compensate(ctx context.Context, ref *models.CrossReference) {
	if ref.GraphID != nil {
		if err := r.graph.DeleteNode(ctx, *ref.GraphID); err != nil {
			r.log.Warn("Compensation delete failed on graph store",
				"primary_id", ref.PrimaryID, "graph_id", *ref.GraphID, "error", err)
		}
	}
	if ref.SearchID != nil {
		if err := r.search.Delete(ctx, ref.EntityType, *ref.SearchID); err != nil {
			r.log.Warn("Compensation delete failed on search index",
				"primary_id", ref.PrimaryID, "search_id", *ref.SearchID, "error", err)
		}
	}
	if err := r.deleteRow(ctx, ref.PrimaryID); err != nil {
		r.log.Warn("Compensation delete failed on registry row",
			"primary_id", ref.PrimaryID, "error", err)
	}
}

// Get loads a cross-reference by primary id.
func (r *Registry) Get(ctx context.Context, primaryID string) (*models.CrossReference, error) {
	var ref models.CrossReference
	err := r.db.GetContext(ctx, &ref,
		`SELECT primary_id, entity_type, sql_id, graph_id, search_id, status,
		        integrity_hash, metadata, created_at, updated_at
		   FROM cross_references WHERE primary_id = $1`, primaryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, primaryID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading cross-reference: %w", err)
	}
	return &ref, nil
}

// Update rewrites the mutable fields of a cross-reference and recomputes the
// integrity hash. The hash is recomputed on every id update by construction.
func (r *Registry) Update(ctx context.Context, updated *models.CrossReference) error {
	updated.UpdatedAt = time.Now().UTC()
	updated.IntegrityHash = updated.ComputeIntegrityHash()
	return r.updateRow(ctx, updated)
}

// Delete removes the entity from every store: externals first (best effort),
// source row last so a crash mid-delete leaves an inspectable row.
func (r *Registry) Delete(ctx context.Context, primaryID string) error {
	ref, err := r.Get(ctx, primaryID)
	if err != nil {
		return err
	}

	if ref.GraphID != nil {
		if err := r.graph.DeleteNode(ctx, *ref.GraphID); err != nil {
			r.log.Warn("Delete failed on graph store", "primary_id", primaryID, "error", err)
		}
	}
	if ref.SearchID != nil {
		if err := r.search.Delete(ctx, ref.EntityType, *ref.SearchID); err != nil {
			r.log.Warn("Delete failed on search index", "primary_id", primaryID, "error", err)
		}
	}
	return r.deleteRow(ctx, primaryID)
}

// Validate checks that each non-null external id still resolves and updates
// the row status accordingly: Active when everything resolves,
// PartiallyOrphaned when some external ids are gone, Orphaned when all are.
func (r *Registry) Validate(ctx context.Context, primaryID string) (*models.ValidationResult, error) {
	ref, err := r.Get(ctx, primaryID)
	if err != nil {
		return nil, err
	}

	result := &models.ValidationResult{
		PrimaryID:          primaryID,
		SQLValid:           true, // the row itself just resolved
		GraphValid:         true,
		SearchValid:        true,
		IntegrityHashValid: ref.IntegrityHash == ref.ComputeIntegrityHash(),
	}

	if ref.GraphID != nil {
		ok, err := r.graph.NodeExists(ctx, *ref.GraphID)
		if err != nil {
			return nil, fmt.Errorf("checking graph node: %w", err)
		}
		result.GraphValid = ok
	}
	if ref.SearchID != nil {
		ok, err := r.search.Exists(ctx, ref.EntityType, *ref.SearchID)
		if err != nil {
			return nil, fmt.Errorf("checking search document: %w", err)
		}
		result.SearchValid = ok
	}

	result.HasOrphanedReferences = !result.GraphValid || !result.SearchValid

	status := models.CrossRefStatusActive
	switch {
	case !result.GraphValid && !result.SearchValid:
		status = models.CrossRefStatusOrphaned
	case result.HasOrphanedReferences:
		status = models.CrossRefStatusPartiallyOrphaned
	}
	if status != ref.Status {
		ref.Status = status
		if err := r.Update(ctx, ref); err != nil {
			return nil, fmt.Errorf("recording validation status: %w", err)
		}
	}

	return result, nil
}

// FindOrphans validates every registered cross-reference and returns the
// primary ids with at least one dangling external reference.
func (r *Registry) FindOrphans(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT primary_id FROM cross_references WHERE status != $1`, models.CrossRefStatusPendingDeletion)
	if err != nil {
		return nil, fmt.Errorf("listing cross-references: %w", err)
	}

	var orphans []string
	for _, id := range ids {
		result, err := r.Validate(ctx, id)
		if err != nil {
			r.log.Warn("Validation failed during orphan scan", "primary_id", id, "error", err)
			continue
		}
		if result.HasOrphanedReferences {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// CleanupOrphans removes the listed cross-references entirely: surviving
// external entries are deleted best-effort, then the registry rows.
func (r *Registry) CleanupOrphans(ctx context.Context, primaryIDs []string) (int, error) {
	cleaned := 0
	for _, id := range primaryIDs {
		if err := r.Delete(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}

// --- Row access ---

func (r *Registry) insertRow(ctx context.Context, ref *models.CrossReference) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO cross_references
		 (primary_id, entity_type, sql_id, graph_id, search_id, status, integrity_hash, metadata, created_at, updated_at)
		 VALUES (:primary_id, :entity_type, :sql_id, :graph_id, :search_id, :status, :integrity_hash, :metadata, :created_at, :updated_at)`,
		ref)
	return err
}

func (r *Registry) updateRow(ctx context.Context, ref *models.CrossReference) error {
	res, err := r.db.NamedExecContext(ctx,
		`UPDATE cross_references
		    SET sql_id = :sql_id, graph_id = :graph_id, search_id = :search_id,
		        status = :status, integrity_hash = :integrity_hash,
		        metadata = :metadata, updated_at = :updated_at
		  WHERE primary_id = :primary_id`,
		ref)
	if err != nil {
		return fmt.Errorf("updating cross-reference row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.PrimaryID)
	}
	return nil
}

func (r *Registry) deleteRow(ctx context.Context, primaryID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cross_references WHERE primary_id = $1`, primaryID)
	if err != nil {
		return fmt.Errorf("deleting cross-reference row: %w", err)
	}
	return nil
}
