// Package corereq defines the request lifecycle: the polymorphic Request
// type dispatch operates on, its state machine, retry strategy, and the
// deadline timer that cancels requests which outlive their budget.
package corereq

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusdb/corekit/svctype"
)

// State is a Request's position in its lifecycle: Pending -> Dispatched
// -> {Completed, Cancelled}. Completion is terminal.
type State uint8

const (
	StatePending State = iota
	StateDispatched
	StateCompleted
	StateCancelled
)

// CancellationReason explains why a request was cancelled rather than
// completed.
type CancellationReason uint8

const (
	CancelNone CancellationReason = iota
	CancelTimeout
	CancelShutdown
	CancelRetriedElsewhere
	CancelStoppedListening
)

func (r CancellationReason) String() string {
	switch r {
	case CancelTimeout:
		return "timeout"
	case CancelShutdown:
		return "shutdown"
	case CancelRetriedElsewhere:
		return "retried-elsewhere"
	case CancelStoppedListening:
		return "stopped-listening"
	default:
		return "none"
	}
}

// globalOpaque is the process-wide opaque allocator. Overflow wraps
// (silently, matching spec.md §4.5's "atomic counter, overflow wraps to
// negative"); uniqueness is best-effort within a connection's lifetime,
// never global.
var globalOpaque uint32

// nextOpaque allocates the next 32-bit opaque correlator.
func nextOpaque() uint32 {
	return atomic.AddUint32(&globalOpaque, 1)
}

// OperationIDFromOpaque formats an opaque correlator the way the wire
// protocol's operation id is rendered: 0x + lowercase hex.
func OperationIDFromOpaque(opaque uint32) string {
	return fmt.Sprintf("0x%x", opaque)
}

// OpaqueFromOperationID parses an operation id string back into its
// opaque correlator, the inverse of OperationIDFromOpaque (spec.md §8's
// "operation id -> integer opaque -> operationId() string is reversible
// via hex parse").
func OpaqueFromOperationID(id string) (uint32, error) {
	var opaque uint32
	if _, err := fmt.Sscanf(id, "0x%x", &opaque); err != nil {
		return 0, fmt.Errorf("invalid operation id %q: %w", id, err)
	}
	return opaque, nil
}

// Response is the value a Request completes with; its concrete shape is
// owned by the caller's protocol layer (KV response, chunked HTTP
// response, ...), so it is carried here as an opaque interface.
type Response interface{}

// RetryStrategy is consulted whenever a dispatch attempt cannot proceed
// (no node, disabled service, transient network error). It decides
// whether the request should be rescheduled and, if so, after what
// delay.
type RetryStrategy interface {
	// ShouldRetry is called with the number of attempts already made
	// (starting at 1 for the first failure) and the error that caused
	// this attempt to fail. It returns whether to retry and, if so, the
	// delay before the retry.
	ShouldRetry(attempt int, cause error) (retry bool, delay time.Duration)
}

// BestEffortRetryStrategy retries a fixed number of times with
// exponential backoff. Unlike the endpoint pools' retry loops it adds no
// jitter: the delays are exact.
type BestEffortRetryStrategy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// NewBestEffortRetryStrategy returns the module's default retry
// strategy: three attempts, 50ms initial backoff doubling each attempt.
func NewBestEffortRetryStrategy() *BestEffortRetryStrategy {
	return &BestEffortRetryStrategy{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond}
}

func (s *BestEffortRetryStrategy) ShouldRetry(attempt int, _ error) (bool, time.Duration) {
	if attempt >= s.MaxAttempts {
		return false, 0
	}
	delay := s.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return true, delay
}

// Span is a minimal tracing handle; the concrete tracer is an external
// collaborator, so Span only carries what dispatch needs to touch (an
// identifier to attach child spans to).
type Span interface {
	ID() string
}

// CompletionSink receives exactly one terminal notification for its
// request: either Succeed or Fail, never both, never twice.
type CompletionSink interface {
	Succeed(resp Response)
	Fail(err error)
}

// Request is the polymorphic entity dispatch operates on. KeyValueRequest
// and any HTTP-service request embed *BaseRequest and add their own
// fields, matching spec.md §3's "polymorphic entity" description.
type Request interface {
	ServiceType() svctype.ServiceType
	Opaque() uint32
	OperationID() string
	Timeout() time.Duration
	Deadline() time.Time
	RetryStrategy() RetryStrategy
	Span() Span
	State() State
	// MarkDispatched transitions Pending -> Dispatched. It is a no-op if
	// the request is not Pending (e.g. already cancelled).
	MarkDispatched()
	// Complete transitions to Completed and invokes the completion sink
	// exactly once. Calling Complete on an already-terminal request is a
	// no-op.
	Complete(resp Response)
	// Cancel transitions to Cancelled with reason and invokes the
	// completion sink's Fail exactly once. Calling Cancel on an
	// already-terminal request is a no-op.
	Cancel(reason CancellationReason)
	// NextAttempt increments and returns this request's dispatch attempt
	// counter, starting at 1 for the first attempt. A locator calls this
	// once per dispatch/redispatch so its retry strategy sees the true
	// attempt count rather than always being asked about attempt 1.
	NextAttempt() int
}

// BaseRequest implements the terminal-state bookkeeping shared by every
// concrete request type: a single atomic state transition guards
// against double completion regardless of which goroutine races to
// finish the request first (timer expiry vs. response arrival vs.
// shutdown).
type BaseRequest struct {
	serviceType   svctype.ServiceType
	opaque        uint32
	timeout       time.Duration
	deadline      time.Time
	retryStrategy RetryStrategy
	span          Span
	sink          CompletionSink

	attempts uint32

	mu               sync.Mutex
	state            State
	cancellationInfo CancellationReason
}

// NewBaseRequest constructs a BaseRequest in state Pending with a freshly
// allocated opaque.
func NewBaseRequest(st svctype.ServiceType, timeout time.Duration, retry RetryStrategy, span Span, sink CompletionSink) *BaseRequest {
	if retry == nil {
		retry = NewBestEffortRetryStrategy()
	}
	return &BaseRequest{
		serviceType:   st,
		opaque:        nextOpaque(),
		timeout:       timeout,
		deadline:      time.Now().Add(timeout),
		retryStrategy: retry,
		span:          span,
		sink:          sink,
		state:         StatePending,
	}
}

func (r *BaseRequest) ServiceType() svctype.ServiceType { return r.serviceType }
func (r *BaseRequest) Opaque() uint32                   { return r.opaque }
func (r *BaseRequest) OperationID() string              { return OperationIDFromOpaque(r.opaque) }
func (r *BaseRequest) Timeout() time.Duration           { return r.timeout }
func (r *BaseRequest) Deadline() time.Time              { return r.deadline }
func (r *BaseRequest) RetryStrategy() RetryStrategy     { return r.retryStrategy }
func (r *BaseRequest) Span() Span                       { return r.span }

func (r *BaseRequest) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *BaseRequest) MarkDispatched() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StatePending {
		r.state = StateDispatched
	}
}

func (r *BaseRequest) Complete(resp Response) {
	r.mu.Lock()
	if r.state == StateCompleted || r.state == StateCancelled {
		r.mu.Unlock()
		return
	}
	r.state = StateCompleted
	r.mu.Unlock()

	r.sink.Succeed(resp)
}

func (r *BaseRequest) Cancel(reason CancellationReason) {
	r.mu.Lock()
	if r.state == StateCompleted || r.state == StateCancelled {
		r.mu.Unlock()
		return
	}
	r.state = StateCancelled
	r.cancellationInfo = reason
	r.mu.Unlock()

	r.sink.Fail(&CancelledError{Reason: reason})
}

// NextAttempt implements Request.
func (r *BaseRequest) NextAttempt() int {
	return int(atomic.AddUint32(&r.attempts, 1))
}

// CancellationReasonValue returns the reason this request was cancelled, or
// CancelNone if it was not cancelled.
func (r *BaseRequest) CancellationReasonValue() CancellationReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancellationInfo
}

// CancelledError is the error delivered to a request's completion sink
// when it is cancelled.
type CancelledError struct {
	Reason CancellationReason
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("request cancelled: %s", e.Reason)
}
