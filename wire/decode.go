package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmora/buildlog"
)

// DecodeError reports an engine message that could not be turned into a
// Message. Raw holds the offending value.
type DecodeError struct {
	// Kind is the message kind if the tag was recognised, else KindUnknown.
	Kind Kind
	// Tag is the "type" value as sent, if it was a string.
	Tag    string
	Reason string
	Raw    json.RawMessage
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind == KindUnknown {
		return "wire: decode message: " + e.Reason
	}
	return fmt.Sprintf("wire: decode %s message: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode converts one engine JSON value into a Message.
//
// The value must be an object whose "type" names a known kind. Replies
// must carry an integer "requestId" and the payload field their kind
// requires: "node" object, "nodes" array, "fullText" string or "results"
// array. Anything else is a *DecodeError. Decode never panics.
func Decode(raw json.RawMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, &DecodeError{Reason: "not a JSON object", Raw: raw, Err: err}
	}

	tagRaw, ok := fields["type"]
	if !ok {
		return nil, &DecodeError{Reason: `missing "type"`, Raw: raw}
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, &DecodeError{Reason: `"type" is not a string`, Raw: raw, Err: err}
	}
	kind := kindOf(tag)
	if kind == KindUnknown {
		return nil, &DecodeError{Tag: tag, Reason: fmt.Sprintf("unknown type %q", tag), Raw: raw}
	}

	switch kind {
	case KindReady:
		return ReadyEvent{}, nil
	case KindDone:
		return DoneEvent{}, nil
	}

	d := decoder{kind: kind, fields: fields, raw: raw}
	id, err := d.requestID()
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindNode:
		var n buildlog.Node
		if err := d.payload("node", '{', &n); err != nil {
			return nil, err
		}
		return NodeReply{RequestID: id, Node: n}, nil
	case KindManyNodes:
		var nodes []buildlog.Node
		if err := d.payload("nodes", '[', &nodes); err != nil {
			return nil, err
		}
		return ManyNodesReply{RequestID: id, Nodes: nodes}, nil
	case KindFullText:
		var text string
		if err := d.payload("fullText", '"', &text); err != nil {
			return nil, err
		}
		return FullTextReply{RequestID: id, FullText: text}, nil
	default:
		var results []buildlog.SearchResult
		if err := d.payload("results", '[', &results); err != nil {
			return nil, err
		}
		return SearchResultsReply{RequestID: id, Results: results}, nil
	}
}

type decoder struct {
	kind   Kind
	fields map[string]json.RawMessage
	raw    json.RawMessage
}

func (d decoder) fail(reason string, err error) *DecodeError {
	return &DecodeError{Kind: d.kind, Tag: d.kind.String(), Reason: reason, Raw: d.raw, Err: err}
}

func (d decoder) requestID() (int64, error) {
	v, ok := d.fields["requestId"]
	if !ok {
		return 0, d.fail(`missing "requestId"`, nil)
	}
	var id int64
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return 0, d.fail(`"requestId" is null`, nil)
	}
	if err := json.Unmarshal(v, &id); err != nil {
		return 0, d.fail(`"requestId" is not an integer`, err)
	}
	return id, nil
}

// payload decodes the named field, which must start with open.
func (d decoder) payload(name string, open byte, dst any) error {
	v, ok := d.fields[name]
	if !ok {
		return d.fail(fmt.Sprintf("missing %q", name), nil)
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] != open {
		return d.fail(fmt.Sprintf("%q has the wrong JSON type", name), nil)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return d.fail(fmt.Sprintf("invalid %q payload", name), err)
	}
	return nil
}

// Marshal returns the engine's JSON encoding of m. Controllers never send
// messages; fake engines use Marshal to speak the protocol.
func Marshal(m Message) ([]byte, error) {
	out := map[string]any{"type": m.Kind().String()}
	switch m := m.(type) {
	case NodeReply:
		out["requestId"] = m.RequestID
		out["node"] = m.Node
	case ManyNodesReply:
		out["requestId"] = m.RequestID
		out["nodes"] = nonNil(m.Nodes)
	case FullTextReply:
		out["requestId"] = m.RequestID
		out["fullText"] = m.FullText
	case SearchResultsReply:
		out["requestId"] = m.RequestID
		out["results"] = nonNil(m.Results)
	case ReadyEvent, DoneEvent:
	default:
		return nil, fmt.Errorf("wire: cannot marshal %T", m)
	}
	return json.Marshal(out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
