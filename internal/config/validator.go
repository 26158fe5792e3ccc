package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Report collects configuration problems. Problems make the config
// unusable; warnings describe a component that will run degraded.
type Report struct {
	Problems []string
	Warnings []string
}

func (r *Report) fail(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Err joins the problems into one error, or returns nil
func (r *Report) Err() error {
	if len(r.Problems) == 0 {
		return nil
	}
	return fmt.Errorf("%d configuration problem(s): %s", len(r.Problems), strings.Join(r.Problems, "; "))
}

// Validate checks the configuration. Missing services are warnings, not errors:
// each component degrades to its fallback mode when its backend is absent.
func (c *Config) Validate() *Report {
	result := &Report{}

	c.validateGraph(result)
	c.validateModel(result)
	c.validateExtract(result)
	c.validateExplain(result)
	c.validateAudit(result)

	if c.Ingest.Concurrency < 1 {
		result.fail("ingest.concurrency must be at least 1 (got %d)", c.Ingest.Concurrency)
	}
	if c.Ingest.RatePerSecond < 0 {
		result.fail("ingest.rate_per_second must not be negative")
	}

	return result
}

func (c *Config) validateGraph(result *Report) {
	if c.Graph.InMemory {
		result.warn("graph.in_memory is set: transactions are not persisted")
		return
	}

	if c.Graph.URI == "" {
		result.warn("NEO4J_URI is not set: subgraphs will use the synthetic fallback")
		return
	}
	u, err := url.Parse(c.Graph.URI)
	if err != nil {
		result.fail("NEO4J_URI is invalid: %v", err)
		return
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		result.fail("NEO4J_URI scheme %q is not a bolt/neo4j scheme", u.Scheme)
	}

	if c.Graph.User == "" {
		result.warn("NEO4J_USER is not set")
	}
	if c.Graph.Password == "" {
		result.warn("NEO4J_PASSWORD is not set. Set it via environment variable, .env file or keychain.")
	} else if c.Graph.Password == "password" || c.Graph.Password == "neo4j" {
		result.warn("NEO4J_PASSWORD is set to a very common password")
	}
	if c.Graph.QueryTimeout < 0 {
		result.fail("graph.query_timeout must not be negative")
	}
	if c.Graph.MaxPoolSize < 1 {
		result.fail("graph.max_pool_size must be at least 1 (got %d)", c.Graph.MaxPoolSize)
	}
}

func (c *Config) validateModel(result *Report) {
	if c.Model.Path == "" {
		result.warn("MODEL_PATH is not set: scoring will report the model as unavailable")
	}
	if c.Model.ScoreTimeout <= 0 {
		result.fail("model.score_timeout must be positive")
	}
}

func (c *Config) validateExtract(result *Report) {
	if c.Extract.DefaultDepth < 0 {
		result.fail("extract.default_depth must not be negative")
	}
	if c.Extract.MaxDepth < c.Extract.DefaultDepth {
		result.fail("extract.max_depth (%d) is below extract.default_depth (%d)",
			c.Extract.MaxDepth, c.Extract.DefaultDepth)
	}
}

func (c *Config) validateExplain(result *Report) {
	if c.Explain.Workers < 1 {
		result.fail("explain.workers must be at least 1 (got %d)", c.Explain.Workers)
	}
	if c.Explain.QueueSize < 1 {
		result.fail("explain.queue_size must be at least 1 (got %d)", c.Explain.QueueSize)
	}

	switch c.Explain.ResultStore {
	case "memory":
	case "bolt":
		if c.Explain.BoltPath == "" {
			result.fail("explain.bolt_path is required for the bolt result store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			result.fail("REDIS_ADDR is required for the redis result store")
		}
	default:
		result.fail("explain.result_store %q is not one of memory, bolt, redis", c.Explain.ResultStore)
	}

	r := c.Explain.Risk
	if r.MediumThreshold < 0 || r.HighThreshold > 1 || r.MediumThreshold >= r.HighThreshold {
		result.fail("explain.risk thresholds must satisfy 0 <= medium < high <= 1")
	}
}

func (c *Config) validateAudit(result *Report) {
	if c.Audit.DSN == "" {
		result.warn("AUDIT_DSN is not set: score auditing and the dead-letter queue are disabled")
		return
	}
	switch c.Audit.Driver {
	case "sqlite3", "postgres", "pgx":
	default:
		result.fail("audit.driver %q is not one of sqlite3, postgres, pgx", c.Audit.Driver)
	}
}
