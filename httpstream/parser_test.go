package httpstream

import (
	"bytes"
	"testing"
)

// feed drains a buffer into the parser by appending fragments one at a
// time and calling Parse after each, the way pump() drives it off the
// wire in small reads.
func feed(t *testing.T, p ChunkResponseParser, buf *bytes.Buffer, fragments ...string) {
	t.Helper()
	for _, f := range fragments {
		buf.WriteString(f)
		for {
			progressed, err := p.Parse()
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !progressed {
				break
			}
		}
	}
}

func drainRows(p ChunkResponseParser) []string {
	var out []string
	for row := range p.Rows() {
		out = append(out, string(row))
	}
	return out
}

func TestEnvelopeParserFullDocumentInOneShot(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	feed(t, p, &buf, `{"requestID":"abc","rows":[{"a":1},{"a":2}],"status":"success"}`)
	p.SignalComplete()

	header, ok := p.Header()
	if !ok {
		t.Fatal("expected header to be ready")
	}
	if string(header["requestID"]) != `"abc"` {
		t.Errorf("unexpected requestID field: %s", header["requestID"])
	}

	rows := drainRows(p)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}

	trailer, ok := p.Trailer()
	if !ok {
		t.Fatal("expected trailer to be ready")
	}
	if string(trailer["status"]) != `"success"` {
		t.Errorf("unexpected status field: %s", trailer["status"])
	}
	if err := p.Error(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestEnvelopeParserByteAtATime(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	doc := `{"requestID":"abc","rows":[{"a":1},{"a":2},{"a":3}],"status":"success"}`
	for _, b := range []byte(doc) {
		feed(t, p, &buf, string(b))
	}
	p.SignalComplete()

	if _, ok := p.Header(); !ok {
		t.Fatal("expected header to be ready after byte-at-a-time feed")
	}
	rows := drainRows(p)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if _, ok := p.Trailer(); !ok {
		t.Fatal("expected trailer to be ready")
	}
}

func TestEnvelopeParserSplitAcrossChunkBoundaries(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	// Split mid-key, mid-row, and mid-trailer-value on purpose.
	feed(t, p, &buf,
		`{"requestID":"a`,
		`bc","rows":[{"a"`,
		`:1},{"a":2}],"stat`,
		`us":"success"}`,
	)
	p.SignalComplete()

	header, ok := p.Header()
	if !ok || string(header["requestID"]) != `"abc"` {
		t.Fatalf("header not parsed correctly across split: %v ok=%v", header, ok)
	}
	rows := drainRows(p)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	trailer, ok := p.Trailer()
	if !ok || string(trailer["status"]) != `"success"` {
		t.Fatalf("trailer not parsed correctly across split: %v ok=%v", trailer, ok)
	}
}

func TestEnvelopeParserNoRowsKeyIsTreatedAsErrorDocument(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	feed(t, p, &buf, `{"errors":[{"code":42,"msg":"boom"}]}`)
	p.SignalComplete()

	if _, ok := p.Header(); !ok {
		t.Fatal("expected the whole document to be committed as header too")
	}
	if _, ok := p.Trailer(); !ok {
		t.Fatal("expected the whole document to be committed as trailer")
	}
	if err := p.Error(); err == nil {
		t.Fatal("expected Error() to surface the embedded server error")
	}
	rows := drainRows(p)
	if len(rows) != 0 {
		t.Errorf("expected no rows for an all-error document, got %v", rows)
	}
}

func TestEnvelopeParserDoesNotDuplicateRowSplitBeforeDelimiter(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	// The chunk boundary lands exactly after a complete row and before
	// the comma/closing bracket that would let the parser confirm the
	// array hasn't ended yet.
	feed(t, p, &buf, `{"rows":[{"a":1}`)
	feed(t, p, &buf, `,{"a":2}],"status":"success"}`)
	p.SignalComplete()

	rows := drainRows(p)
	if len(rows) != 2 {
		t.Fatalf("expected exactly 2 rows (no duplicate at the split point), got %d: %v", len(rows), rows)
	}
}

func TestEnvelopeParserSignalCompleteWithoutTrailerIsAnError(t *testing.T) {
	p := NewEnvelopeParser()
	var buf bytes.Buffer
	p.Initialize(&buf)

	// The connection dies mid-rows, before a trailer ever arrives.
	feed(t, p, &buf, `{"rows":[{"a":1}`)
	p.SignalComplete()

	if err := p.Error(); err == nil {
		t.Fatal("expected Error() to report failure once signalled complete with no trailer")
	}
}
