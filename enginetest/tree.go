package enginetest

import (
	"slices"
	"strings"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/wire"
)

// Tree is an in-memory log tree a fake engine answers from.
type Tree struct {
	Nodes    map[buildlog.NodeID]buildlog.Node
	FullText map[buildlog.NodeID]string
}

// Root ids of SampleTree.
const (
	SampleRoot    buildlog.NodeID = 0
	SampleProject buildlog.NodeID = 1
	SampleTarget  buildlog.NodeID = 2
	SampleError   buildlog.NodeID = 3
	SampleWarning buildlog.NodeID = 4
)

// SampleTree returns the tree served by the fake engines:
//
//	0 Build FAILED
//	└── 1 Project app.csproj
//	    └── 2 Target CoreCompile
//	        ├── 3 error CS1002: ; expected   (abridged)
//	        └── 4 warning CS0168: unused variable
func SampleTree() *Tree {
	return &Tree{
		Nodes: map[buildlog.NodeID]buildlog.Node{
			SampleRoot:    {ID: SampleRoot, Summary: "Build FAILED", FullyLoaded: true, Children: []buildlog.NodeID{SampleProject}},
			SampleProject: {ID: SampleProject, Summary: "Project app.csproj", FullyLoaded: true, Children: []buildlog.NodeID{SampleTarget}},
			SampleTarget:  {ID: SampleTarget, Summary: "Target CoreCompile", FullyLoaded: true, Children: []buildlog.NodeID{SampleError, SampleWarning}},
			SampleError:   {ID: SampleError, Summary: "error CS1002: ; expected", Abridged: true, FullyLoaded: true},
			SampleWarning: {ID: SampleWarning, Summary: "warning CS0168: unused variable", FullyLoaded: true},
		},
		FullText: map[buildlog.NodeID]string{
			SampleError: "Program.cs(12,31): error CS1002: ; expected\n  [/src/app/app.csproj]",
		},
	}
}

// Answer returns the reply an engine serving t gives to cmd.
func (t *Tree) Answer(cmd wire.Command) wire.Message {
	switch c := cmd.(type) {
	case wire.RootCommand:
		return wire.NodeReply{RequestID: c.RequestID, Node: t.node(SampleRoot)}
	case wire.NodeCommand:
		return wire.NodeReply{RequestID: c.RequestID, Node: t.node(c.NodeID)}
	case wire.SummarizeNodeCommand:
		return wire.NodeReply{RequestID: c.RequestID, Node: t.node(c.NodeID)}
	case wire.ManyNodesCommand:
		nodes := []buildlog.Node{}
		for id := c.NodeID; len(nodes) < c.Count; id++ {
			n, ok := t.Nodes[id]
			if !ok {
				break
			}
			nodes = append(nodes, n)
		}
		return wire.ManyNodesReply{RequestID: c.RequestID, Nodes: nodes}
	case wire.NodeFullTextCommand:
		text, ok := t.FullText[c.NodeID]
		if !ok {
			text = t.node(c.NodeID).Summary
		}
		return wire.FullTextReply{RequestID: c.RequestID, FullText: text}
	case wire.SearchCommand:
		return wire.SearchResultsReply{RequestID: c.RequestID, Results: t.Search(c.Query)}
	default:
		return nil
	}
}

// Search returns the nodes whose summary contains query, case-insensitively,
// in id order.
func (t *Tree) Search(query string) []buildlog.SearchResult {
	q := strings.ToLower(query)
	ids := make([]buildlog.NodeID, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	parents := t.parents()
	results := []buildlog.SearchResult{}
	for _, id := range ids {
		if q == "" || !strings.Contains(strings.ToLower(t.Nodes[id].Summary), q) {
			continue
		}
		var ancestors []buildlog.NodeID
		for p, ok := parents[id]; ok; p, ok = parents[p] {
			ancestors = append(ancestors, p)
		}
		slices.Reverse(ancestors)
		results = append(results, buildlog.SearchResult{NodeID: id, Ancestors: ancestors})
	}
	return results
}

func (t *Tree) node(id buildlog.NodeID) buildlog.Node {
	if n, ok := t.Nodes[id]; ok {
		return n
	}
	return buildlog.Node{ID: id}
}

func (t *Tree) parents() map[buildlog.NodeID]buildlog.NodeID {
	parents := make(map[buildlog.NodeID]buildlog.NodeID)
	for id, n := range t.Nodes {
		for _, c := range n.Children {
			parents[c] = id
		}
	}
	return parents
}
