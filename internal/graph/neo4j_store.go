package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Neo4jStore implements GraphStore on a pooled Client
type Neo4jStore struct {
	client *Client
	logger *slog.Logger
}

// NewNeo4jStore wraps a connected client
func NewNeo4jStore(client *Client) *Neo4jStore {
	return &Neo4jStore{
		client: client,
		logger: slog.Default().With("component", "graph_store"),
	}
}

// Client returns the underlying pooled client
func (s *Neo4jStore) Client() *Client {
	return s.client
}

// EnsureConstraints creates one uniqueness constraint per entity kind
func (s *Neo4jStore) EnsureConstraints(ctx context.Context) error {
	for _, kind := range models.AllKinds {
		stmt, err := uniqueConstraintQuery(kind)
		if err != nil {
			return err
		}
		if err := s.client.exec(ctx, OpConstraints, stmt); err != nil {
			return classify(err, fmt.Sprintf("failed to create constraint for %s", kind))
		}
	}

	s.logger.Info("constraints ensured", "kinds", len(models.AllKinds))
	return nil
}

// UpsertEntity merges one entity on (kind, id)
func (s *Neo4jStore) UpsertEntity(ctx context.Context, kind models.EntityKind, id string, attrs map[string]any) error {
	return s.ApplyBatch(ctx, Batch{Entities: []EntityUpsert{{Ref: EntityRef{Kind: kind, ID: id}, Attrs: attrs}}})
}

// UpsertRelationship merges a relationship between two existing entities.
// Missing endpoints make this a no-op.
func (s *Neo4jStore) UpsertRelationship(ctx context.Context, from, to EntityRef, rel models.RelationType) error {
	return s.ApplyBatch(ctx, Batch{Relationships: []RelationshipUpsert{{From: from, To: to, Type: rel}}})
}

// ApplyBatch writes all upserts in one transaction, one UNWIND statement per
// entity kind and per relationship shape
func (s *Neo4jStore) ApplyBatch(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return errors.ValidationError(err, "invalid batch")
	}
	statements, err := batchStatements(batch)
	if err != nil {
		return errors.ValidationError(err, "invalid batch")
	}

	meta := map[string]any{
		"entities":      len(batch.Entities),
		"relationships": len(batch.Relationships),
	}
	if txID := batch.TransactionID(); txID != "" {
		meta["transaction_id"] = txID
	}

	err = s.client.write(ctx, OpIngest, meta, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range statements {
			if _, err := tx.Run(ctx, st.query, st.params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return classify(err, "failed to apply batch")
	}

	s.logger.Debug("batch applied",
		"entities", len(batch.Entities),
		"relationships", len(batch.Relationships))
	return nil
}

type statement struct {
	query  string
	params map[string]any
}

type relShape struct {
	from, to models.EntityKind
	rel      models.RelationType
}

// batchStatements groups upserts by shape in first-appearance order, entities
// first so relationships find their endpoints. The batch must already be valid.
func batchStatements(batch Batch) ([]statement, error) {
	var kinds []models.EntityKind
	nodeRows := make(map[models.EntityKind][]map[string]any)
	for _, e := range batch.Entities {
		if _, seen := nodeRows[e.Ref.Kind]; !seen {
			kinds = append(kinds, e.Ref.Kind)
		}
		attrs := make(map[string]any, len(e.Attrs))
		for k, v := range e.Attrs {
			if k == UniqueKey {
				continue
			}
			attrs[k] = v
		}
		nodeRows[e.Ref.Kind] = append(nodeRows[e.Ref.Kind], map[string]any{"id": e.Ref.ID, "attrs": attrs})
	}

	var shapes []relShape
	relRows := make(map[relShape][]map[string]any)
	for _, r := range batch.Relationships {
		sh := relShape{from: r.From.Kind, to: r.To.Kind, rel: r.Type}
		if _, seen := relRows[sh]; !seen {
			shapes = append(shapes, sh)
		}
		relRows[sh] = append(relRows[sh], map[string]any{"from": r.From.ID, "to": r.To.ID})
	}

	statements := make([]statement, 0, len(kinds)+len(shapes))
	for _, kind := range kinds {
		q, err := mergeNodesQuery(kind)
		if err != nil {
			return nil, err
		}
		statements = append(statements, statement{query: q, params: map[string]any{"rows": nodeRows[kind]}})
	}
	for _, sh := range shapes {
		q, err := mergeRelationshipsQuery(sh.from, sh.to, sh.rel)
		if err != nil {
			return nil, err
		}
		statements = append(statements, statement{query: q, params: map[string]any{"rows": relRows[sh]}})
	}
	return statements, nil
}

// RichSubgraph expands the neighbourhood with apoc.path.subgraphAll
func (s *Neo4jStore) RichSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error) {
	return s.subgraph(ctx, OpSubgraphRich, txID, depth)
}

// SimpleSubgraph expands the neighbourhood with a variable-length path match
func (s *Neo4jStore) SimpleSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error) {
	return s.subgraph(ctx, OpSubgraphSimple, txID, depth)
}

func (s *Neo4jStore) subgraph(ctx context.Context, operation Operation, txID string, depth int) (models.Subgraph, error) {
	if depth < 0 {
		return models.Subgraph{}, errors.ValidationError(fmt.Errorf("depth %d", depth), "depth must not be negative")
	}
	result, err := s.client.read(ctx, operation, subgraphQuery(operation, depth), map[string]any{
		"txID":  txID,
		"depth": depth,
	})
	if err != nil {
		return models.Subgraph{}, classify(err, fmt.Sprintf("%s query failed for %s", operation, txID))
	}

	if len(result.Records) == 0 {
		return models.Subgraph{}, errors.EmptyResult(txID)
	}

	record := result.Records[0]
	rawNodes, _ := record.Get("nodes")
	rawRels, _ := record.Get("relationships")

	nodes, err := nodesFrom(rawNodes)
	if err != nil {
		return models.Subgraph{}, errors.DatabaseErrorf(err, "%s returned malformed nodes", operation)
	}
	rels, err := relationshipsFrom(rawRels)
	if err != nil {
		return models.Subgraph{}, errors.DatabaseErrorf(err, "%s returned malformed relationships", operation)
	}

	sg := projectSubgraph(nodes, rels)
	if sg.IsEmpty() {
		return models.Subgraph{}, errors.EmptyResult(txID)
	}

	s.logger.Debug("subgraph extracted",
		"operation", operation,
		"transaction_id", txID,
		"depth", depth,
		"nodes", len(sg.Nodes),
		"edges", len(sg.Edges))
	return sg, nil
}

// Close releases the pool
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// classify maps driver errors onto the store error taxonomy
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	if neo4j.IsConnectivityError(err) {
		return errors.StoreUnavailable(err, message)
	}

	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."):
			return errors.StoreUnavailable(err, message)
		case neoErr.Code == "Neo.ClientError.Procedure.ProcedureNotFound",
			strings.Contains(neoErr.Msg, "no procedure with the name"),
			strings.Contains(neoErr.Msg, "Unknown function 'apoc."):
			return errors.CapabilityUnavailable(err, message)
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError."):
			return errors.StoreUnavailable(err, message)
		}
	}

	return errors.DatabaseErrorf(err, "%s", message)
}
