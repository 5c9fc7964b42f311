// Package httpreq implements the corereq.Request subtype used for every
// HTTP-chunked service (query, analytics, search, views, the manager
// service): a method/path/body triple plus the service type it targets,
// generalizing corekv.KeyValueRequest's pattern to services whose
// response is a streamed JSON envelope rather than a single KV frame.
package httpreq

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

// ServiceRequest is one outbound request to an HTTP-chunked service.
type ServiceRequest struct {
	*corereq.BaseRequest

	method string
	path   string
	body   []byte
	header http.Header
	bucket string // empty for globally-scoped services

	mu      sync.Mutex
	baseURL string
}

// NewServiceRequest constructs a ServiceRequest in state Pending.
func NewServiceRequest(
	st svctype.ServiceType,
	bucket string,
	timeout time.Duration,
	retry corereq.RetryStrategy,
	method, path string,
	body []byte,
	header http.Header,
	span corereq.Span,
	sink corereq.CompletionSink,
) *ServiceRequest {
	return &ServiceRequest{
		BaseRequest: corereq.NewBaseRequest(st, timeout, retry, span, sink),
		method:      method,
		path:        path,
		body:        body,
		header:      header,
		bucket:      bucket,
	}
}

// Bucket returns the bucket this request is scoped to, or "" if the
// target service is global-scoped.
func (r *ServiceRequest) Bucket() string { return r.bucket }

// SetBaseURL binds the node endpoint this attempt will be sent to. The
// locator/transport pool calls this once per dispatch attempt, since a
// retry may land on a different node than the first try.
func (r *ServiceRequest) SetBaseURL(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseURL = base
}

// BuildHTTPRequest implements httpstream.HTTPRequest.
func (r *ServiceRequest) BuildHTTPRequest() (*http.Request, error) {
	r.mu.Lock()
	base := r.baseURL
	r.mu.Unlock()

	var reader io.Reader
	if len(r.body) > 0 {
		reader = bytes.NewReader(r.body)
	}

	req, err := http.NewRequest(r.method, base+r.path, reader)
	if err != nil {
		return nil, err
	}

	ctx, _ := context.WithDeadline(context.Background(), r.Deadline())
	req = req.WithContext(ctx)

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("X-Opaque") == "" {
		req.Header.Set("X-Opaque", corereq.OperationIDFromOpaque(r.Opaque()))
	}
	return req, nil
}
