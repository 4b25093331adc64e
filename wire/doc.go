// Package wire implements the engine's IPC encoding.
//
// Commands travel controller → engine as newline-terminated text fields:
//
//	<requestId>\n<command>\n[<field>\n ...]
//
// Replies and events travel engine → controller as JSON objects tagged by a
// "type" field, written back to back with no separator. Splitting that
// stream into values is the job of package stream; Decode turns one value
// into a typed Message.
package wire
