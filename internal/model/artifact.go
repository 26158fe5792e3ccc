package model

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ArtifactVersion is the only artifact schema this package reads
const ArtifactVersion = 1

// Artifact is the on-disk model: a logistic scorer over transaction features
// and per-relationship attribution weights for the explainer
type Artifact struct {
	Version int    `yaml:"version"`
	Name    string `yaml:"name"`

	// Scorer
	Bias      float64            `yaml:"bias"`
	Weights   map[string]float64 `yaml:"weights"`   // amount_log, night_time, unknown_device
	Merchants map[string]float64 `yaml:"merchants"` // merchant name → weight

	// Explainer
	Relations          map[string]float64 `yaml:"relations"` // relationship type → base attribution
	DefaultRelation    float64            `yaml:"default_relation"`
	HopDecay           float64            `yaml:"hop_decay"`
	FraudNeighborBoost float64            `yaml:"fraud_neighbor_boost"`
}

// LoadArtifact reads and validates a YAML artifact. Unknown keys are rejected.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes and validates artifact bytes
func ParseArtifact(data []byte) (*Artifact, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var a Artifact
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks version, ranges and finiteness
func (a *Artifact) Validate() error {
	if a.Version != ArtifactVersion {
		return fmt.Errorf("unsupported artifact version %d (want %d)", a.Version, ArtifactVersion)
	}
	if a.HopDecay <= 0 || a.HopDecay > 1 {
		return fmt.Errorf("hop_decay must be in (0, 1], got %v", a.HopDecay)
	}
	if !finite(a.Bias) || !finite(a.DefaultRelation) || !finite(a.FraudNeighborBoost) {
		return fmt.Errorf("artifact contains a non-finite scalar")
	}
	for _, m := range []map[string]float64{a.Weights, a.Merchants, a.Relations} {
		for k, v := range m {
			if !finite(v) {
				return fmt.Errorf("weight %q is not finite", k)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
