package models

import "time"

// NodeKind distinguishes event nodes from correlation nodes in the graph.
type NodeKind string

const (
	NodeEvent       NodeKind = "event"
	NodeCorrelation NodeKind = "correlation"
)

// EdgeType is the typed relationship between two graph nodes.
type EdgeType string

const (
	EdgeCauses      EdgeType = "causes"
	EdgeTriggeredBy EdgeType = "triggered_by"
	EdgeRelatedTo   EdgeType = "related_to"
	EdgeCoOccurs    EdgeType = "co_occurs_with"
)

// IsValid checks if the edge type is valid.
func (et EdgeType) IsValid() bool {
	switch et {
	case EdgeCauses, EdgeTriggeredBy, EdgeRelatedTo, EdgeCoOccurs:
		return true
	default:
		return false
	}
}

// GraphNode is one node of the event graph: a distinct event or correlation.
type GraphNode struct {
	ID        string    `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Source    string    `json:"source,omitempty"`
	Type      string    `json:"type,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GraphEdge is a typed directed edge between two nodes. Duplicate edges of
// the same type between the same ordered pair coalesce into one.
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Type EdgeType `json:"type"`
}

// GraphStats is the aggregate metadata of the event graph, maintained
// incrementally on every mutation.
type GraphStats struct {
	Nodes   int     `json:"nodes"`
	Edges   int     `json:"edges"`
	Density float64 `json:"density"`
}

// GraphNeighborhood is a node with its incident edges, as served by the
// graph read contract.
type GraphNeighborhood struct {
	Node     GraphNode   `json:"node"`
	Incoming []GraphEdge `json:"incoming"`
	Outgoing []GraphEdge `json:"outgoing"`
}
