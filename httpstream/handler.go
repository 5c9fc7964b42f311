package httpstream

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nimbusdb/corekit/corereq"
)

var log = logger.GetLogger("httpstream")

// HTTPRequest is the subset of corereq.Request a ChunkedMessageHandler
// needs to build the outbound HTTP request and deliver the streamed
// response.
type HTTPRequest interface {
	corereq.Request
	// BuildHTTPRequest constructs the outbound *http.Request. Called once
	// per attempt from Write.
	BuildHTTPRequest() (*http.Request, error)
}

// state mirrors spec.md §4.4's per-request lifecycle: a handler instance
// is reused across many requests on the same connection, one at a time.
type state uint8

const (
	stateIdle state = iota
	stateAwaitingHead
	stateStreaming
	stateDone
)

// ChunkedMessageHandler drives one outbound HTTP request/response
// exchange over a shared *http.Client, decoding the chunked JSON
// envelope incrementally as bytes arrive. Write returns the header-bearing
// response (rows and trailer follow on its channels) or an error to its
// caller, which completes the request; the handler itself cancels the
// request only when it cannot be built or sent. Adapted from this module's own
// binary-framed endpoint pool, generalized from length-prefixed frames
// to an HTTP response body reader.
type ChunkedMessageHandler struct {
	client     *http.Client
	remoteHost string

	mu                sync.Mutex
	current           HTTPRequest
	currentState      state
	currentStatus     int
	currentStatusLine string
	failureStatus     bool  // true if currentStatus is a non-2xx response
	convertedStatus   error // non-nil once the stream is known malformed
	buffer            *bytes.Buffer
	parser            ChunkResponseParser
	headerDelivered   bool
}

// NewChunkedMessageHandler returns a handler that issues requests
// through client. remoteHost is stored on the handler but not read by it;
// each request builds its own URL.
func NewChunkedMessageHandler(client *http.Client, remoteHost string) *ChunkedMessageHandler {
	return &ChunkedMessageHandler{
		client:     client,
		remoteHost: remoteHost,
	}
}

// ChannelActive resets the handler to accept a new request. Mirrors the
// Java handler's channelActive: clears any state left over from a prior
// exchange on this same connection.
func (h *ChunkedMessageHandler) ChannelActive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

func (h *ChunkedMessageHandler) resetLocked() {
	h.current = nil
	h.currentState = stateIdle
	h.currentStatus = 0
	h.currentStatusLine = ""
	h.failureStatus = false
	h.convertedStatus = nil
	h.buffer = nil
	h.parser = nil
	h.headerDelivered = false
}

// Write sends req and begins streaming its response. It returns once the
// header is available (or the request has failed outright); rows and the
// trailer continue to arrive asynchronously on the returned
// *ChunkedResponse's channels.
//
// The first of spec.md §9's two latent-bug fixes lives here: an
// encode/write failure now fails req synchronously instead of leaving it
// to hang until its deadline timer fires.
func (h *ChunkedMessageHandler) Write(req HTTPRequest) (*ChunkedResponse, error) {
	h.mu.Lock()
	if h.currentState != stateIdle {
		h.mu.Unlock()
		return nil, fmt.Errorf("httpstream: handler busy with another request")
	}
	h.current = req
	h.currentState = stateAwaitingHead
	h.buffer = new(bytes.Buffer)
	h.parser = NewEnvelopeParser()
	h.parser.Initialize(h.buffer)
	h.mu.Unlock()

	httpReq, err := req.BuildHTTPRequest()
	if err != nil {
		return nil, h.failWrite(req, fmt.Errorf("httpstream: encode failed: %w", err))
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, h.failWrite(req, fmt.Errorf("httpstream: write failed: %w", err))
	}

	if err := h.readResponseHead(resp); err != nil {
		_ = resp.Body.Close()
		return nil, h.failWrite(req, err)
	}

	cr := &ChunkedResponse{
		Status: h.currentStatus,
		Rows:   h.parser.Rows(),
	}

	go h.pump(resp.Body)

	header, ready := h.awaitHeaderOrFailure()
	if !ready {
		return nil, h.lastError()
	}
	cr.Header = header
	cr.Trailer = h.trailerChan()
	return cr, nil
}

// failWrite fails req and returns the same error, matching the
// resolved TODO: any failure between building the request and getting a
// readable response body must reach the completion sink immediately.
func (h *ChunkedMessageHandler) failWrite(req HTTPRequest, err error) error {
	req.Cancel(corereq.CancelRetriedElsewhere)
	log.Warningf("httpstream: %s: %v", req.OperationID(), err)
	h.mu.Lock()
	h.resetLocked()
	h.mu.Unlock()
	return err
}

// readResponseHead reads the HTTP status line/headers (already parsed by
// net/http by the time Do returns), matching the Java handler's
// "read HTTP response head" step. A non-2xx status only marks the
// exchange as a failure; it does not short-circuit the body read, since
// the server's error envelope (surfaced through the parser once the body
// arrives) carries more useful detail than the status line alone.
func (h *ChunkedMessageHandler) readResponseHead(resp *http.Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentStatus = resp.StatusCode
	h.currentStatusLine = resp.Status
	h.failureStatus = resp.StatusCode >= 400
	h.currentState = stateStreaming
	return nil
}

// pump reads the HTTP body in a loop, feeding each chunk into the shared
// buffer and driving the parser forward, matching the Java handler's
// "read HTTP content chunk" / "read last HTTP content" steps. It owns
// body and closes it on every exit path.
func (h *ChunkedMessageHandler) pump(body io.ReadCloser) {
	defer body.Close()

	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			h.mu.Lock()
			h.buffer.Write(buf[:n])
			h.advanceLocked()
			h.mu.Unlock()
		}

		if readErr != nil {
			h.mu.Lock()
			h.parser.SignalComplete()
			h.advanceLocked()
			h.finishLocked(readErr)
			h.mu.Unlock()
			return
		}
	}
}

// advanceLocked drives the parser until it stops making progress. The
// consumed bytes stay in the buffer. Called with h.mu held.
func (h *ChunkedMessageHandler) advanceLocked() {
	for {
		progressed, err := h.parser.Parse()
		if err != nil {
			log.Warningf("httpstream: %s: malformed chunked response: %v", h.operationID(), err)
			h.convertedStatus = fmt.Errorf("httpstream: malformed response: %w", err)
			return
		}
		if !progressed {
			return
		}
	}
}

func (h *ChunkedMessageHandler) operationID() string {
	if h.current == nil {
		return "<none>"
	}
	return h.current.OperationID()
}

// finishLocked runs once the body is fully drained (EOF) or the read
// failed outright. Called with h.mu held.
func (h *ChunkedMessageHandler) finishLocked(readErr error) {
	if readErr != io.EOF && readErr != nil {
		log.Warningf("httpstream: %s: connection lost mid-stream: %v", h.operationID(), readErr)
	}
	h.currentState = stateDone
}

// awaitHeaderOrFailure blocks (briefly, via polling the already-buffered
// synchronous portion of the response) until the header is ready or the
// stream has already failed. Because pump runs concurrently and the vast
// majority of headers arrive in the first read, this normally returns
// immediately after readResponseHead's caller triggers pump once.
//
// A non-2xx status never returns success here, even once the parser's
// no-rows commit path makes Header() report ready: the body still has to
// finish draining so lastError can prefer the parser's extracted error
// over the bare status line.
func (h *ChunkedMessageHandler) awaitHeaderOrFailure() (ChunkHeader, bool) {
	for {
		h.mu.Lock()
		if h.convertedStatus != nil {
			h.mu.Unlock()
			return nil, false
		}
		if h.failureStatus {
			if h.currentState == stateDone {
				h.mu.Unlock()
				return nil, false
			}
			h.mu.Unlock()
			time.Sleep(time.Millisecond)
			continue
		}
		if header, ok := h.parser.Header(); ok {
			h.headerDelivered = true
			h.mu.Unlock()
			return header, true
		}
		if h.currentState == stateDone {
			h.mu.Unlock()
			return nil, false
		}
		h.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// lastError reports why Write failed to produce a header. The parser's
// own extracted error (from the server's error envelope) always takes
// priority over the generic status-line message. This error goes to
// Write's caller only: the HTTP endpoint pool logs it and finally cancels
// the request, so the request's own sink sees a cancellation, not this
// detail.
func (h *ChunkedMessageHandler) lastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.parser != nil {
		if err := h.parser.Error(); err != nil {
			return err
		}
	}
	if h.failureStatus {
		return fmt.Errorf("httpstream: server responded %s", h.currentStatusLine)
	}
	if h.convertedStatus != nil {
		return h.convertedStatus
	}
	return fmt.Errorf("httpstream: response ended without a header")
}

// trailerChan returns a channel that yields the trailer once the parser
// has one, then closes; if the stream ends without a trailer it closes
// without a value. Backed by a goroutine so callers can
// select on it without knowing the parser's internal polling cadence.
func (h *ChunkedMessageHandler) trailerChan() <-chan ChunkTrailer {
	out := make(chan ChunkTrailer, 1)
	go func() {
		defer close(out)
		for {
			h.mu.Lock()
			trailer, ok := h.parser.Trailer()
			done := h.currentState == stateDone
			h.mu.Unlock()
			if ok {
				out <- trailer
				return
			}
			if done {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return out
}

// ChannelInactive is called when the underlying connection closes,
// whether cleanly or not. Any request still mid-stream is failed rather
// than left to time out silently.
//
// The second of spec.md §9's two latent-bug fixes lives here combined
// with HandleUnrecognized below: previously an unexpected message on the
// wire (or, here, a body that stops without a valid trailer) was
// swallowed. Now it surfaces as a cancellation so the request's retry
// strategy gets a chance to run instead of the caller hanging.
func (h *ChunkedMessageHandler) ChannelInactive() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil && h.currentState != stateDone {
		log.Warningf("httpstream: %s: connection closed before response completed", h.operationID())
		h.current.Cancel(corereq.CancelRetriedElsewhere)
	}
	h.resetLocked()
}

// HandleUnrecognized is invoked when a byte sequence cannot be
// interpreted as either an HTTP response head or HTTP content for the
// request currently in flight (e.g. a protocol upgrade response, or a
// body that isn't valid JSON at all). Previously such input was silently
// dropped; it now closes the exchange and fails the request explicitly,
// matching spec.md §9's second resolved TODO.
func (h *ChunkedMessageHandler) HandleUnrecognized(reason string) {
	h.mu.Lock()
	req := h.current
	h.mu.Unlock()

	if req != nil {
		log.Warningf("httpstream: %s: unrecognized message (%s), closing channel", req.OperationID(), reason)
		req.Cancel(corereq.CancelRetriedElsewhere)
	}
	h.ChannelInactive()
}

// Cleanup releases the buffer and parser state for the current exchange,
// called once the caller has drained rows/trailer (or given up).
func (h *ChunkedMessageHandler) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}
