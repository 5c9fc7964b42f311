package transport

import (
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/httpreq"
	"github.com/nimbusdb/corekit/httpstream"
	"github.com/nimbusdb/corekit/node"
)

// HTTPPoolConfig configures an HTTPEndpointPool.
type HTTPPoolConfig struct {
	BaseURLs   []string
	RetryCount int
	Timeout    time.Duration
}

// httpHandlerSlot pairs one base URL with a dedicated
// ChunkedMessageHandler; handlers are not safe for concurrent use since
// they hold one in-flight exchange's state, so the pool round-robins
// across as many slots as BaseURLs.
type httpHandlerSlot struct {
	baseURL string
	handler *httpstream.ChunkedMessageHandler
}

// HTTPEndpointPool implements node.EndpointPool for HTTP-chunked
// services (query, analytics, search, views, manager): round-robin over
// a node's base URLs, each driving spec.md §4.4's chunked response
// lifecycle through httpstream.ChunkedMessageHandler.
type HTTPEndpointPool struct {
	config HTTPPoolConfig
	slots  []*httpHandlerSlot
	next   uint64
	state  atomic.Int32
}

// NewHTTPEndpointPool builds a pool with one handler per base URL.
func NewHTTPEndpointPool(config HTTPPoolConfig) (*HTTPEndpointPool, error) {
	if len(config.BaseURLs) == 0 {
		return nil, fmt.Errorf("transport: no base URLs provided")
	}
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}

	client := &http.Client{Timeout: config.Timeout}

	p := &HTTPEndpointPool{config: config}
	for _, base := range config.BaseURLs {
		p.slots = append(p.slots, &httpHandlerSlot{
			baseURL: base,
			handler: httpstream.NewChunkedMessageHandler(client, base),
		})
	}
	p.state.Store(int32(node.StateConnected))
	return p, nil
}

// Send implements node.EndpointPool.
func (p *HTTPEndpointPool) Send(req corereq.Request) {
	svcReq, ok := req.(*httpreq.ServiceRequest)
	if !ok {
		req.Cancel(corereq.CancelRetriedElsewhere)
		return
	}
	go p.sendWithRetry(svcReq)
}

func (p *HTTPEndpointPool) sendWithRetry(req *httpreq.ServiceRequest) {
	var lastErr error
	backoff := 50 * time.Millisecond

	for attempt := 0; attempt < p.config.RetryCount; attempt++ {
		slot := p.nextSlot()
		if slot == nil {
			lastErr = fmt.Errorf("transport: no HTTP endpoints configured")
			break
		}

		req.SetBaseURL(slot.baseURL)
		slot.handler.ChannelActive()

		resp, err := slot.handler.Write(req)
		if err == nil {
			req.MarkDispatched()
			req.Complete(resp)
			return
		}

		lastErr = err
		log.Debugf("transport: http attempt %d/%d for %s failed: %v", attempt+1, p.config.RetryCount, req.OperationID(), err)

		if attempt < p.config.RetryCount-1 {
			jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
			time.Sleep(time.Duration(jitter))
			backoff *= 2
		}
	}

	req.Cancel(corereq.CancelRetriedElsewhere)
	log.Warningf("transport: http request %s failed after retries: %v", req.OperationID(), lastErr)
}

func (p *HTTPEndpointPool) nextSlot() *httpHandlerSlot {
	if len(p.slots) == 0 {
		return nil
	}
	if len(p.slots) == 1 {
		return p.slots[0]
	}
	idx := atomic.AddUint64(&p.next, 1) % uint64(len(p.slots))
	return p.slots[idx]
}

// State implements node.EndpointPool.
func (p *HTTPEndpointPool) State() node.ServiceState {
	return node.ServiceState(p.state.Load())
}

// Diagnostics implements node.EndpointPool.
func (p *HTTPEndpointPool) Diagnostics() node.EndpointDiagnostics {
	host := ""
	if len(p.slots) > 0 {
		host = p.slots[0].baseURL
	}
	return node.EndpointDiagnostics{
		Host:           host,
		LocalEndpoints: len(p.slots),
		State:          p.State(),
	}
}

// Close implements node.EndpointPool.
func (p *HTTPEndpointPool) Close() error {
	p.state.Store(int32(node.StateDisconnecting))
	return nil
}
