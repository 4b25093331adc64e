// Package stream provides push-style incremental decoders for the byte
// streams an engine subprocess writes.
//
// Callers feed chunks exactly as they were read from a pipe. Chunk
// boundaries carry no meaning: a value, a string, or a multi-byte code
// point may be split anywhere, and the decoders emit output only once it is
// complete.
//
//   - [JSONDecoder] decodes a back-to-back concatenation of JSON values with
//     no separator and no enclosing array. A value is emitted the instant its
//     outermost closing token arrives.
//   - [TextDecoder] decodes UTF-8 text, holding back only the bytes of a
//     code point that is not yet complete.
//   - [LineSplitter] turns decoded text chunks into whole lines.
//
// Decoders are not safe for concurrent use; each belongs to the goroutine
// pumping one pipe.
package stream
