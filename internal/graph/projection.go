package graph

import (
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

// projectNode maps a driver node to {id, group, properties}.
// The id is the node's canonical "id" property, else its element id.
func projectNode(n neo4j.Node) models.Node {
	group := models.GroupUnknown
	if len(n.Labels) > 0 {
		group = strings.ToLower(n.Labels[0])
	}

	id := n.ElementId
	if v, ok := n.Props[UniqueKey]; ok && v != nil {
		id = fmt.Sprint(v)
	}

	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		props[k] = v
	}

	return models.Node{ID: id, Group: group, Properties: props}
}

// projectSubgraph converts raw nodes and relationships into a Subgraph.
// Duplicates are dropped; relationships whose endpoints were not returned are
// resolved through their element ids.
func projectSubgraph(nodes []neo4j.Node, rels []neo4j.Relationship) models.Subgraph {
	sg := models.Subgraph{
		Nodes: make([]models.Node, 0, len(nodes)),
		Edges: make([]models.Edge, 0, len(rels)),
	}

	byElement := make(map[string]string, len(nodes))
	seenNodes := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		projected := projectNode(n)
		byElement[n.ElementId] = projected.ID
		if seenNodes[n.ElementId] {
			continue
		}
		seenNodes[n.ElementId] = true
		sg.Nodes = append(sg.Nodes, projected)
	}

	resolve := func(elementID string) string {
		if id, ok := byElement[elementID]; ok {
			return id
		}
		return elementID
	}

	seenRels := make(map[string]bool, len(rels))
	for _, r := range rels {
		if seenRels[r.ElementId] {
			continue
		}
		seenRels[r.ElementId] = true
		sg.Edges = append(sg.Edges, models.Edge{
			From:  resolve(r.StartElementId),
			To:    resolve(r.EndElementId),
			Title: r.Type,
		})
	}

	return sg
}

// nodesFrom extracts neo4j.Node values from a list-typed record field
func nodesFrom(value any) ([]neo4j.Node, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected type for nodes: %T (expected list)", value)
	}
	out := make([]neo4j.Node, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		n, ok := item.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected node element type: %T", item)
		}
		out = append(out, n)
	}
	return out, nil
}

// relationshipsFrom extracts neo4j.Relationship values from a list-typed record field
func relationshipsFrom(value any) ([]neo4j.Relationship, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected type for relationships: %T (expected list)", value)
	}
	out := make([]neo4j.Relationship, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		r, ok := item.(neo4j.Relationship)
		if !ok {
			return nil, fmt.Errorf("unexpected relationship element type: %T", item)
		}
		out = append(out, r)
	}
	return out, nil
}
