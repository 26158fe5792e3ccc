package graph

import (
	"context"
	"fmt"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

// UniqueKey is the property that identifies a node within its kind
const UniqueKey = "id"

// EntityRef identifies a node by kind and id
type EntityRef struct {
	Kind models.EntityKind
	ID   string
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s(%s)", r.Kind, r.ID)
}

// EntityUpsert creates the entity if absent and overwrites the named attributes
type EntityUpsert struct {
	Ref   EntityRef
	Attrs map[string]any
}

// RelationshipUpsert creates a directed relationship if absent
type RelationshipUpsert struct {
	From EntityRef
	To   EntityRef
	Type models.RelationType
}

// Batch is an ordered set of upserts applied in one write transaction.
// Entities are applied before relationships.
type Batch struct {
	Entities      []EntityUpsert
	Relationships []RelationshipUpsert
}

// TransactionID is the id of the first Transaction entity in the batch, or ""
func (b Batch) TransactionID() string {
	for _, e := range b.Entities {
		if e.Ref.Kind == models.KindTransaction {
			return e.Ref.ID
		}
	}
	return ""
}

// Validate checks kinds, ids and that every relationship endpoint is either in
// the batch or a valid reference
func (b Batch) Validate() error {
	for _, e := range b.Entities {
		if err := validateRef(e.Ref); err != nil {
			return err
		}
		for key := range e.Attrs {
			if !identifierPattern.MatchString(key) {
				return fmt.Errorf("invalid attribute name %q on %s", key, e.Ref)
			}
		}
	}
	for _, r := range b.Relationships {
		if err := validateRef(r.From); err != nil {
			return err
		}
		if err := validateRef(r.To); err != nil {
			return err
		}
		if !identifierPattern.MatchString(string(r.Type)) {
			return fmt.Errorf("invalid relationship type %q", r.Type)
		}
	}
	return nil
}

func validateRef(ref EntityRef) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %q", ref.Kind)
	}
	if ref.ID == "" {
		return fmt.Errorf("empty id for %s", ref.Kind)
	}
	return nil
}

// Store is the write side of the graph store
type Store interface {
	// EnsureConstraints declares per-kind id uniqueness; safe to call repeatedly
	EnsureConstraints(ctx context.Context) error

	// UpsertEntity creates or updates one entity (last write wins per attribute)
	UpsertEntity(ctx context.Context, kind models.EntityKind, id string, attrs map[string]any) error

	// UpsertRelationship creates a relationship between existing entities if absent
	UpsertRelationship(ctx context.Context, from, to EntityRef, rel models.RelationType) error

	// ApplyBatch applies every upsert of the batch atomically
	ApplyBatch(ctx context.Context, batch Batch) error

	Close(ctx context.Context) error
}

// Traverser is the read side: bounded undirected neighbourhoods of a transaction.
//
// Both tiers return ErrEmptyResult when the transaction is absent. RichSubgraph
// returns ErrCapabilityUnavailable when the expansion procedure is missing.
type Traverser interface {
	RichSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error)
	SimpleSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error)
}

// GraphStore is implemented by both Neo4jStore and MemoryStore
type GraphStore interface {
	Store
	Traverser
}
