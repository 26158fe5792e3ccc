package models

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind is the primary label of a graph node
type EntityKind string

const (
	KindTransaction  EntityKind = "Transaction"
	KindUser         EntityKind = "User"
	KindIP           EntityKind = "IP"
	KindEmail        EntityKind = "Email"
	KindDevice       EntityKind = "Device"
	KindPaymentToken EntityKind = "PaymentToken"
)

// AllKinds lists every entity kind that carries a uniqueness constraint
var AllKinds = []EntityKind{
	KindTransaction,
	KindUser,
	KindIP,
	KindEmail,
	KindDevice,
	KindPaymentToken,
}

// Group returns the lowercase group name used in subgraph projections
func (k EntityKind) Group() string {
	return strings.ToLower(string(k))
}

// Valid reports whether k is one of the known kinds
func (k EntityKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// KindFromGroup maps a projected group back to its kind ("" if unknown)
func KindFromGroup(group string) EntityKind {
	for _, k := range AllKinds {
		if k.Group() == group {
			return k
		}
	}
	return ""
}

// GroupUnknown is used for nodes whose kind could not be determined
const GroupUnknown = "unknown"

// RelationType is the type name of a directed relationship
type RelationType string

const (
	RelPerformed  RelationType = "PERFORMED"
	RelUsedIP     RelationType = "USED_IP"
	RelHasEmail   RelationType = "HAS_EMAIL"
	RelUsedDevice RelationType = "USED_DEVICE"

	// Relationship types of the synthetic demonstration subgraph
	RelPerformedBy     RelationType = "PERFORMED_BY"
	RelUsedToken       RelationType = "USED_TOKEN"
	RelSharedTokenLink RelationType = "SHARED_TOKEN_LINK"
	RelUsedIn          RelationType = "USED_IN"
)

// UnknownDevice is the device id used when a transaction carries none
const UnknownDevice = "unknown_device"

// Timestamp layouts accepted on ingestion, tried in order
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// TransactionInput is one transaction as received for ingestion or scoring
type TransactionInput struct {
	TransactionID string  `json:"transaction_id"`
	UserID        string  `json:"user_id"`
	IPAddress     string  `json:"ip_address"`
	Email         string  `json:"email"`
	DeviceID      *string `json:"device_id,omitempty"`
	Timestamp     string  `json:"timestamp"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
}

// DeviceOrSentinel returns the device id, or UnknownDevice when absent or blank
func (t TransactionInput) DeviceOrSentinel() string {
	if t.DeviceID == nil || strings.TrimSpace(*t.DeviceID) == "" {
		return UnknownDevice
	}
	return *t.DeviceID
}

// ParsedTimestamp parses the ISO-8601 timestamp
func (t TransactionInput) ParsedTimestamp() (time.Time, error) {
	ts := strings.TrimSpace(t.Timestamp)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, ts); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", t.Timestamp)
}

// Validate checks the fields required to place the transaction in the graph
func (t TransactionInput) Validate() error {
	missing := []string{}
	if strings.TrimSpace(t.TransactionID) == "" {
		missing = append(missing, "transaction_id")
	}
	if strings.TrimSpace(t.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(t.IPAddress) == "" {
		missing = append(missing, "ip_address")
	}
	if strings.TrimSpace(t.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(t.Merchant) == "" {
		missing = append(missing, "merchant")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if t.Amount < 0 {
		return fmt.Errorf("amount must be non-negative, got %v", t.Amount)
	}
	if _, err := t.ParsedTimestamp(); err != nil {
		return err
	}
	return nil
}

// Node is a projected graph node
type Node struct {
	ID         string         `json:"id"`
	Group      string         `json:"group"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a projected relationship; Title carries the relationship type
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Title string `json:"title"`
}

// Subgraph is a transient, read-only neighbourhood view
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// HasNode reports whether a node with the given id is present
func (s Subgraph) HasNode(id string) bool {
	_, ok := s.NodeByID(id)
	return ok
}

// NodeByID returns the node with the given id
func (s Subgraph) NodeByID(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IsEmpty reports whether the subgraph holds no nodes
func (s Subgraph) IsEmpty() bool {
	return len(s.Nodes) == 0
}

// ExplainedNode is a node enriched with display attributes
type ExplainedNode struct {
	ID         string         `json:"id"`
	Group      string         `json:"group"`
	Properties map[string]any `json:"properties,omitempty"`
	Label      string         `json:"label"`
	Color      string         `json:"color"`
	Shape      string         `json:"shape,omitempty"`
	Size       int            `json:"size,omitempty"`
}

// ExplainedEdge is an edge enriched with an importance weight
type ExplainedEdge struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Relationship string `json:"relationship"`
	Width        int    `json:"width"`
	Title        string `json:"title"`
}

// Explanation is the annotated subgraph returned by the slow path
type Explanation struct {
	TransactionID string          `json:"transaction_id"`
	Nodes         []ExplainedNode `json:"nodes"`
	Edges         []ExplainedEdge `json:"edges"`
	Summary       string          `json:"summary"`
	Degraded      bool            `json:"degraded"`
	WeightSource  string          `json:"weight_source"`
}

// RiskFactor is one ranked contributor to a fraud probability
type RiskFactor struct {
	Factor     string  `json:"factor"`
	Importance float64 `json:"importance"`
}

// Score is the fast-path scoring result
type Score struct {
	TransactionID    string       `json:"transaction_id"`
	FraudProbability float64      `json:"fraud_probability"`
	RiskFactors      []RiskFactor `json:"risk_factors"`
	ModelBacked      bool         `json:"model_backed"`
}
