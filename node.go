package buildlog

import (
	"encoding/json"
	"time"
)

// NodeID identifies a node in the engine's in-memory log tree.
// It carries no meaning beyond equality; the engine assigns it.
type NodeID int64

// Node is a single entry of the log tree as reported by the engine.
type Node struct {
	// ID is the engine-assigned identifier of this node.
	ID NodeID `json:"nodeId"`

	// Summary is the one-line label the engine renders for the node.
	Summary string `json:"summary,omitempty"`

	// Abridged reports that Summary was shortened; the complete text is
	// available through a full-text request.
	Abridged bool `json:"abridged,omitempty"`

	// FullyLoaded reports that Children lists every child of the node.
	FullyLoaded bool `json:"fullyLoaded,omitempty"`

	// Children holds the ids of the node's children known so far.
	Children []NodeID `json:"children,omitempty"`

	// Raw is the node object exactly as the engine sent it, including
	// fields this package does not model.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a node and keeps a copy of the original bytes in Raw.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*n = Node(p)
	n.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// SearchResult is one hit of a search request.
type SearchResult struct {
	// NodeID is the node that matched the query.
	NodeID NodeID `json:"nodeId"`

	// Ancestors lists the path from the root to the match, outermost first.
	Ancestors []NodeID `json:"ancestors,omitempty"`

	// Raw is the result object exactly as the engine sent it.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a search result and keeps the original bytes in Raw.
func (r *SearchResult) UnmarshalJSON(data []byte) error {
	type plain SearchResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = SearchResult(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ProcessStats is a point-in-time resource snapshot of an engine process.
type ProcessStats struct {
	PID        int       `json:"pid"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	NumThreads int32     `json:"num_threads"`
	CreateTime time.Time `json:"create_time"`
}
