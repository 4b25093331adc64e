package wire

import "strings"

// queryFlattener maps the line terminators that would end the query field
// early. The engine reads the field verbatim, so nothing else is touched.
var queryFlattener = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// FlattenQuery makes q safe to send as a single line-terminated field.
// Each CRLF, LF or CR becomes one space; every other byte, backslashes
// included, is sent unchanged, so a single-line query is byte-identical
// on the wire.
func FlattenQuery(q string) string {
	if !strings.ContainsAny(q, "\r\n") {
		return q
	}
	return queryFlattener.Replace(q)
}
