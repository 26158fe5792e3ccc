package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names a class of store query. It keys timeouts, latency
// statistics and the transaction metadata Neo4j writes to query.log.
type Operation string

const (
	OpConstraints    Operation = "constraints"
	OpIngest         Operation = "ingest"
	OpSubgraphRich   Operation = "subgraph_rich"
	OpSubgraphSimple Operation = "subgraph_simple"
	OpHealthCheck    Operation = "health_check"
)

// fallbackTimeout bounds operations missing from the profile table
const fallbackTimeout = 30 * time.Second

type opProfile struct {
	op      Operation
	timeout time.Duration
	access  string // "read", "write" or "schema"
}

// Extraction timeouts stay short: APOC expansion around a hub IP can fan out
// to most of the graph, and the extractor falls back on failure anyway.
var defaultProfiles = map[Operation]opProfile{
	OpConstraints:    {op: OpConstraints, timeout: 2 * time.Minute, access: "schema"},
	OpIngest:         {op: OpIngest, timeout: 10 * time.Second, access: "write"},
	OpSubgraphRich:   {op: OpSubgraphRich, timeout: 5 * time.Second, access: "read"},
	OpSubgraphSimple: {op: OpSubgraphSimple, timeout: 5 * time.Second, access: "read"},
	OpHealthCheck:    {op: OpHealthCheck, timeout: 3 * time.Second, access: "read"},
}

// profileFor returns the operation's profile, with readTimeout replacing the
// default for extraction queries when positive
func profileFor(op Operation, readTimeout time.Duration) opProfile {
	p, ok := defaultProfiles[op]
	if !ok {
		return opProfile{op: op, timeout: fallbackTimeout, access: "unknown"}
	}
	if readTimeout > 0 && (op == OpSubgraphRich || op == OpSubgraphSimple) {
		p.timeout = readTimeout
	}
	return p
}

// bound derives the operation context. ExecuteQuery has no per-query timeout
// option, so the deadline travels on the context.
func (p opProfile) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// txOptions builds managed transaction settings; extra is merged into the
// metadata without touching the profile
func (p opProfile) txOptions(extra map[string]any) []func(*neo4j.TransactionConfig) {
	meta := map[string]any{"operation": string(p.op), "type": p.access}
	for k, v := range extra {
		meta[k] = v
	}

	opts := []func(*neo4j.TransactionConfig){neo4j.WithTxMetadata(meta)}
	if p.timeout > 0 {
		opts = append(opts, neo4j.WithTxTimeout(p.timeout))
	}
	return opts
}
