package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rohankatakam/fraudgraph/internal/models"
)

// Labels, relationship types and keys are interpolated into query text and
// must match identifierPattern. Values always travel as parameters.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	richSubgraphQuery = `
		MATCH (t:Transaction {id: $txID})
		CALL apoc.path.subgraphAll(t, {maxLevel: $depth})
		YIELD nodes, relationships
		RETURN nodes, relationships
	`

	focalOnlyQuery = `
		MATCH (t:Transaction {id: $txID})
		RETURN [t] AS nodes, [] AS relationships
	`

	// A variable-length bound cannot be a parameter
	simpleSubgraphQueryTemplate = `
		MATCH (t:Transaction {id: $txID})
		OPTIONAL MATCH path = (t)-[*1..%d]-(n)
		WITH t, collect(DISTINCT n) AS reached, collect(relationships(path)) AS relLists
		RETURN [t] + reached AS nodes,
		       reduce(acc = [], rs IN relLists | acc + [r IN rs WHERE NOT r IN acc]) AS relationships
	`
)

func checkIdentifiers(idents ...string) error {
	for _, ident := range idents {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("invalid cypher identifier %q", ident)
		}
	}
	return nil
}

// mergeNodesQuery upserts $rows of {id, attrs} for one kind. attrs is merged
// with +=, so properties a row omits are kept.
func mergeNodesQuery(kind models.EntityKind) (string, error) {
	if err := checkIdentifiers(string(kind), UniqueKey); err != nil {
		return "", err
	}
	return fmt.Sprintf("UNWIND $rows AS row MERGE (n:%s {%s: row.id}) SET n += row.attrs", kind, UniqueKey), nil
}

// mergeRelationshipsQuery upserts $rows of {from, to}. Rows whose endpoints
// do not exist match nothing and are skipped.
func mergeRelationshipsQuery(from, to models.EntityKind, rel models.RelationType) (string, error) {
	if err := checkIdentifiers(string(from), string(to), string(rel), UniqueKey); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"UNWIND $rows AS row MATCH (a:%s {%s: row.from}) MATCH (b:%s {%s: row.to}) MERGE (a)-[:%s]->(b)",
		from, UniqueKey, to, UniqueKey, rel), nil
}

func uniqueConstraintQuery(kind models.EntityKind) (string, error) {
	if err := checkIdentifiers(string(kind), UniqueKey); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
		strings.ToLower(string(kind)), UniqueKey, kind, UniqueKey), nil
}

// subgraphQuery picks the query text for a tier; depth 0 is the focal node alone
func subgraphQuery(op Operation, depth int) string {
	switch {
	case depth == 0:
		return focalOnlyQuery
	case op == OpSubgraphRich:
		return richSubgraphQuery
	default:
		return fmt.Sprintf(simpleSubgraphQueryTemplate, depth)
	}
}
