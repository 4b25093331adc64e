package wire

import (
	"strconv"

	"github.com/dmora/buildlog"
)

// Command names as written on the wire.
const (
	NameRoot          = "root"
	NameNode          = "node"
	NameManyNodes     = "manyNodes"
	NameSummarizeNode = "summarizeNode"
	NameNodeFullText  = "nodeFullText"
	NameSearch        = "search"
)

// Command is a controller request. The set of implementations is closed.
type Command interface {
	// ID returns the correlation id the reply will echo.
	ID() int64
	// Name returns the command name written on the wire.
	Name() string

	appendFields(dst []byte) []byte
}

// RootCommand asks for the root node of the tree.
type RootCommand struct {
	RequestID int64
}

// NodeCommand asks for one node.
type NodeCommand struct {
	RequestID int64
	NodeID    buildlog.NodeID
}

// ManyNodesCommand asks for up to Count nodes starting at NodeID.
type ManyNodesCommand struct {
	RequestID int64
	NodeID    buildlog.NodeID
	Count     int
}

// SummarizeNodeCommand asks for a node with its summary populated.
type SummarizeNodeCommand struct {
	RequestID int64
	NodeID    buildlog.NodeID
}

// NodeFullTextCommand asks for a node's untruncated text.
type NodeFullTextCommand struct {
	RequestID int64
	NodeID    buildlog.NodeID
}

// SearchCommand runs a search query over the whole log.
type SearchCommand struct {
	RequestID int64
	Query     string
}

func (c RootCommand) ID() int64          { return c.RequestID }
func (c NodeCommand) ID() int64          { return c.RequestID }
func (c ManyNodesCommand) ID() int64     { return c.RequestID }
func (c SummarizeNodeCommand) ID() int64 { return c.RequestID }
func (c NodeFullTextCommand) ID() int64  { return c.RequestID }
func (c SearchCommand) ID() int64        { return c.RequestID }

func (RootCommand) Name() string          { return NameRoot }
func (NodeCommand) Name() string          { return NameNode }
func (ManyNodesCommand) Name() string     { return NameManyNodes }
func (SummarizeNodeCommand) Name() string { return NameSummarizeNode }
func (NodeFullTextCommand) Name() string  { return NameNodeFullText }
func (SearchCommand) Name() string        { return NameSearch }

func (RootCommand) appendFields(dst []byte) []byte { return dst }

func (c NodeCommand) appendFields(dst []byte) []byte { return appendInt(dst, int64(c.NodeID)) }

func (c ManyNodesCommand) appendFields(dst []byte) []byte {
	dst = appendInt(dst, int64(c.NodeID))
	return appendInt(dst, int64(c.Count))
}

func (c SummarizeNodeCommand) appendFields(dst []byte) []byte { return appendInt(dst, int64(c.NodeID)) }

func (c NodeFullTextCommand) appendFields(dst []byte) []byte { return appendInt(dst, int64(c.NodeID)) }

func (c SearchCommand) appendFields(dst []byte) []byte {
	dst = append(dst, FlattenQuery(c.Query)...)
	return append(dst, '\n')
}

// Encode returns the wire form of c.
func Encode(c Command) []byte {
	return AppendEncode(nil, c)
}

// AppendEncode appends the wire form of c to dst.
func AppendEncode(dst []byte, c Command) []byte {
	dst = appendInt(dst, c.ID())
	dst = append(dst, c.Name()...)
	dst = append(dst, '\n')
	return c.appendFields(dst)
}

func appendInt(dst []byte, v int64) []byte {
	dst = strconv.AppendInt(dst, v, 10)
	return append(dst, '\n')
}
