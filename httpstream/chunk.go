// Package httpstream implements the chunked-response streaming handler:
// reading an HTTP response whose body is an incrementally parsed JSON
// envelope of {header, rows*, trailer}, producing the header promptly,
// streaming rows, and completing the trailer, with correct lifecycle on
// success, failure, and connection loss.
package httpstream

import "encoding/json"

// ChunkHeader is the envelope's leading fields (everything before the
// "rows" array), decoded once and delivered with the response.
type ChunkHeader map[string]json.RawMessage

// ChunkRow is a single streamed row from the "rows" array.
type ChunkRow json.RawMessage

// ChunkTrailer is the envelope's trailing fields (everything after the
// "rows" array closes), delivered once the stream completes.
type ChunkTrailer map[string]json.RawMessage

// ChunkedResponse is the triple a successfully-parsed chunked request
// completes with: the header, a channel of rows in server-emitted order,
// and a channel that yields the trailer once the stream ends (or closes
// without a value if the stream ended without one).
type ChunkedResponse struct {
	Status  int
	Header  ChunkHeader
	Rows    <-chan ChunkRow
	Trailer <-chan ChunkTrailer
}
