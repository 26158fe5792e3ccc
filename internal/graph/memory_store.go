package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rohankatakam/fraudgraph/internal/errors"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

type memoryRel struct {
	from, to EntityRef
	typ      models.RelationType
}

// MemoryStore is an in-process GraphStore with the same upsert and traversal
// semantics as Neo4jStore. Used for demos and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	nodes       map[EntityRef]map[string]any
	nodeOrder   []EntityRef
	rels        []memoryRel
	relIndex    map[memoryRel]bool
	adjacency   map[EntityRef][]int // indices into rels
	richEnabled bool
	unreachable bool
	constraints bool
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithoutRichTraversal makes RichSubgraph report a missing capability
func WithoutRichTraversal() MemoryOption {
	return func(s *MemoryStore) { s.richEnabled = false }
}

// Unreachable makes every operation fail as if the store were down
func Unreachable() MemoryOption {
	return func(s *MemoryStore) { s.unreachable = true }
}

// NewMemoryStore creates an empty store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nodes:       make(map[EntityRef]map[string]any),
		relIndex:    make(map[memoryRel]bool),
		adjacency:   make(map[EntityRef][]int),
		richEnabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUnreachable toggles simulated unavailability
func (s *MemoryStore) SetUnreachable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable = down
}

func (s *MemoryStore) checkReachable() error {
	if s.unreachable {
		return errors.StoreUnavailable(fmt.Errorf("connection refused"), "memory store marked unreachable")
	}
	return nil
}

// EnsureConstraints records that constraints were requested; uniqueness is
// structural in this store
func (s *MemoryStore) EnsureConstraints(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReachable(); err != nil {
		return err
	}
	s.constraints = true
	return nil
}

// ConstraintsEnsured reports whether EnsureConstraints has succeeded
func (s *MemoryStore) ConstraintsEnsured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.constraints
}

// UpsertEntity creates or updates one entity
func (s *MemoryStore) UpsertEntity(ctx context.Context, kind models.EntityKind, id string, attrs map[string]any) error {
	return s.ApplyBatch(ctx, Batch{Entities: []EntityUpsert{{Ref: EntityRef{Kind: kind, ID: id}, Attrs: attrs}}})
}

// UpsertRelationship creates a relationship if both endpoints exist
func (s *MemoryStore) UpsertRelationship(ctx context.Context, from, to EntityRef, rel models.RelationType) error {
	return s.ApplyBatch(ctx, Batch{Relationships: []RelationshipUpsert{{From: from, To: to, Type: rel}}})
}

// ApplyBatch applies the batch atomically
func (s *MemoryStore) ApplyBatch(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return errors.ValidationError(err, "invalid batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReachable(); err != nil {
		return err
	}

	for _, e := range batch.Entities {
		props, ok := s.nodes[e.Ref]
		if !ok {
			props = map[string]any{UniqueKey: e.Ref.ID}
			s.nodes[e.Ref] = props
			s.nodeOrder = append(s.nodeOrder, e.Ref)
		}
		for k, v := range e.Attrs {
			if k == UniqueKey {
				continue
			}
			props[k] = v
		}
	}

	for _, r := range batch.Relationships {
		if _, ok := s.nodes[r.From]; !ok {
			continue
		}
		if _, ok := s.nodes[r.To]; !ok {
			continue
		}
		key := memoryRel{from: r.From, to: r.To, typ: r.Type}
		if s.relIndex[key] {
			continue
		}
		s.relIndex[key] = true
		s.rels = append(s.rels, key)
		idx := len(s.rels) - 1
		s.adjacency[r.From] = append(s.adjacency[r.From], idx)
		if r.To != r.From {
			s.adjacency[r.To] = append(s.adjacency[r.To], idx)
		}
	}

	return nil
}

// Counts returns the number of entities and relationships held
func (s *MemoryStore) Counts() (entities, relationships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.rels)
}

// Entity returns a copy of an entity's properties
func (s *MemoryStore) Entity(ref EntityRef) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.nodes[ref]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, true
}

// RichSubgraph returns the induced subgraph on every node within depth
func (s *MemoryStore) RichSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkReachable(); err != nil {
		return models.Subgraph{}, err
	}
	if !s.richEnabled {
		return models.Subgraph{}, errors.CapabilityUnavailable(nil, "rich traversal not available")
	}

	return s.traverse(txID, depth, func(da, db int) bool {
		return da <= depth && db <= depth
	})
}

// SimpleSubgraph returns nodes within depth and the relationships lying on paths
// of length at most depth from the transaction
func (s *MemoryStore) SimpleSubgraph(ctx context.Context, txID string, depth int) (models.Subgraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkReachable(); err != nil {
		return models.Subgraph{}, err
	}

	return s.traverse(txID, depth, func(da, db int) bool {
		return min(da, db) <= depth-1
	})
}

// traverse runs an undirected BFS from the transaction and keeps the edges
// accepted by keep(dist(from), dist(to)). Callers hold the read lock.
func (s *MemoryStore) traverse(txID string, depth int, keep func(da, db int) bool) (models.Subgraph, error) {
	if depth < 0 {
		return models.Subgraph{}, errors.ValidationError(fmt.Errorf("depth %d", depth), "depth must not be negative")
	}

	start := EntityRef{Kind: models.KindTransaction, ID: txID}
	if _, ok := s.nodes[start]; !ok {
		return models.Subgraph{}, errors.EmptyResult(txID)
	}

	dist := map[EntityRef]int{start: 0}
	order := []EntityRef{start}
	for i := 0; i < len(order); i++ {
		cur := order[i]
		if dist[cur] == depth {
			continue
		}
		for _, next := range s.neighbours(cur) {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			order = append(order, next)
		}
	}

	sg := models.Subgraph{
		Nodes: make([]models.Node, 0, len(order)),
		Edges: []models.Edge{},
	}
	for _, ref := range order {
		props := make(map[string]any, len(s.nodes[ref]))
		for k, v := range s.nodes[ref] {
			props[k] = v
		}
		sg.Nodes = append(sg.Nodes, models.Node{ID: ref.ID, Group: ref.Kind.Group(), Properties: props})
	}

	for _, r := range s.rels {
		da, okA := dist[r.from]
		db, okB := dist[r.to]
		if !okA || !okB || !keep(da, db) {
			continue
		}
		sg.Edges = append(sg.Edges, models.Edge{From: r.from.ID, To: r.to.ID, Title: string(r.typ)})
	}

	return sg, nil
}

// neighbours returns adjacent entities in a deterministic order
func (s *MemoryStore) neighbours(ref EntityRef) []EntityRef {
	var out []EntityRef
	for _, idx := range s.adjacency[ref] {
		r := s.rels[idx]
		if r.from == ref {
			out = append(out, r.to)
		} else {
			out = append(out, r.from)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close is a no-op
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
