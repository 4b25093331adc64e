package wire

import (
	"strconv"

	"github.com/dmora/buildlog"
)

// Kind identifies a message variant by its "type" tag.
type Kind int

const (
	KindUnknown Kind = iota
	KindNode
	KindManyNodes
	KindFullText
	KindSearchResults
	KindReady
	KindDone
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	KindNode:          "node",
	KindManyNodes:     "manyNodes",
	KindFullText:      "fullText",
	KindSearchResults: "searchResults",
	KindReady:         "ready",
	KindDone:          "done",
}

// String returns the wire tag of k.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// kindOf maps a wire tag to its Kind; unknown tags map to KindUnknown.
func kindOf(tag string) Kind {
	for k := KindNode; k <= KindDone; k++ {
		if kindNames[k] == tag {
			return k
		}
	}
	return KindUnknown
}

// Message is a decoded engine message. The set of implementations is
// closed: the four replies and two events below.
type Message interface {
	Kind() Kind
	isMessage()
}

// Reply is a Message answering one request.
type Reply interface {
	Message
	// ID returns the request id the reply answers.
	ID() int64
}

// NodeReply answers root, node and summarizeNode.
type NodeReply struct {
	RequestID int64
	Node      buildlog.Node
}

// ManyNodesReply answers manyNodes.
type ManyNodesReply struct {
	RequestID int64
	Nodes     []buildlog.Node
}

// FullTextReply answers nodeFullText.
type FullTextReply struct {
	RequestID int64
	FullText  string
}

// SearchResultsReply answers search.
type SearchResultsReply struct {
	RequestID int64
	Results   []buildlog.SearchResult
}

// ReadyEvent announces that the engine finished loading the log.
type ReadyEvent struct{}

// DoneEvent announces that the engine is about to exit on its own.
type DoneEvent struct{}

func (NodeReply) Kind() Kind          { return KindNode }
func (ManyNodesReply) Kind() Kind     { return KindManyNodes }
func (FullTextReply) Kind() Kind      { return KindFullText }
func (SearchResultsReply) Kind() Kind { return KindSearchResults }
func (ReadyEvent) Kind() Kind         { return KindReady }
func (DoneEvent) Kind() Kind          { return KindDone }

func (r NodeReply) ID() int64          { return r.RequestID }
func (r ManyNodesReply) ID() int64     { return r.RequestID }
func (r FullTextReply) ID() int64      { return r.RequestID }
func (r SearchResultsReply) ID() int64 { return r.RequestID }

func (NodeReply) isMessage()          {}
func (ManyNodesReply) isMessage()     {}
func (FullTextReply) isMessage()      {}
func (SearchResultsReply) isMessage() {}
func (ReadyEvent) isMessage()         {}
func (DoneEvent) isMessage()          {}
