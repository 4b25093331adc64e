package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmora/buildlog"
)

// ReadCommand reads one encoded command from r. It is the engine's half of
// Encode and exists for fake engines in tests and tooling. It returns io.EOF
// only when r ends cleanly between commands.
func ReadCommand(r *bufio.Reader) (Command, error) {
	idField, err := readField(r)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(idField, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: bad request id %q: %w", idField, err)
	}
	name, err := readMore(r)
	if err != nil {
		return nil, err
	}

	switch name {
	case NameRoot:
		return RootCommand{RequestID: id}, nil
	case NameNode, NameSummarizeNode, NameNodeFullText:
		node, err := readNodeID(r)
		if err != nil {
			return nil, err
		}
		switch name {
		case NameNode:
			return NodeCommand{RequestID: id, NodeID: node}, nil
		case NameSummarizeNode:
			return SummarizeNodeCommand{RequestID: id, NodeID: node}, nil
		default:
			return NodeFullTextCommand{RequestID: id, NodeID: node}, nil
		}
	case NameManyNodes:
		node, err := readNodeID(r)
		if err != nil {
			return nil, err
		}
		countField, err := readMore(r)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(countField)
		if err != nil {
			return nil, fmt.Errorf("wire: bad count %q: %w", countField, err)
		}
		return ManyNodesCommand{RequestID: id, NodeID: node, Count: count}, nil
	case NameSearch:
		q, err := readMore(r)
		if err != nil {
			return nil, err
		}
		return SearchCommand{RequestID: id, Query: q}, nil
	default:
		return nil, fmt.Errorf("wire: unknown command %q", name)
	}
}

func readNodeID(r *bufio.Reader) (buildlog.NodeID, error) {
	f, err := readMore(r)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(f, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("wire: bad node id %q", f)
	}
	return buildlog.NodeID(n), nil
}

// readField reads one "\n"-terminated field.
func readField(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// readMore reads a field that must exist because a command has started.
func readMore(r *bufio.Reader) (string, error) {
	f, err := readField(r)
	if errors.Is(err, io.EOF) {
		return "", io.ErrUnexpectedEOF
	}
	return f, err
}
