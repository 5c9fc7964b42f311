// Package node implements the live node/service registry: a Node owns a
// set of enabled Service instances, each backed by a connection pool to
// one (node, service type, optional bucket) triple.
package node

import (
	"sync"
	"sync/atomic"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

// ServiceState is a Service's connection lifecycle position.
type ServiceState uint8

const (
	StateDisconnected ServiceState = iota
	StateConnecting
	StateDegraded
	StateConnected
	StateDisconnecting
)

func (s ServiceState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDegraded:
		return "degraded"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// EndpointPool is the connection-pool abstraction a Service pushes
// requests into. Concrete implementations (KV binary framing, HTTP
// chunked streaming) live in the transport package; Service only
// depends on this interface so node has no import on transport.
type EndpointPool interface {
	// Send pushes req into the pool for dispatch. Send must not block on
	// the response; completion happens through req's own sink.
	Send(req corereq.Request)
	// State reports the pool's current connectivity.
	State() ServiceState
	// Diagnostics returns a snapshot suitable for Core.Diagnostics().
	Diagnostics() EndpointDiagnostics
	// Close tears down every connection in the pool.
	Close() error
}

// EndpointDiagnostics is a point-in-time snapshot of one Service's
// connection pool health.
type EndpointDiagnostics struct {
	Host           string
	ServiceType    svctype.ServiceType
	State          ServiceState
	LocalEndpoints int
}

// Service encapsulates a connection pool to one (node, service type,
// optional bucket) triple.
type Service struct {
	Type   svctype.ServiceType
	Bucket string // empty for global-scoped services

	pool EndpointPool

	stateWatchMu sync.Mutex
	stateWatch   []chan ServiceState
}

// NewService wraps pool as a Service of type st for the (optional)
// bucket.
func NewService(st svctype.ServiceType, bucket string, pool EndpointPool) *Service {
	return &Service{Type: st, Bucket: bucket, pool: pool}
}

// Send pushes req onto the underlying connection pool.
func (s *Service) Send(req corereq.Request) {
	s.pool.Send(req)
}

// State reports the pool's connectivity.
func (s *Service) State() ServiceState {
	return s.pool.State()
}

// Diagnostics reports a snapshot of this service's pool.
func (s *Service) Diagnostics() EndpointDiagnostics {
	return s.pool.Diagnostics()
}

// Close tears down this service's connection pool.
func (s *Service) Close() error {
	return s.pool.Close()
}

// serviceKey identifies one Service within a Node's registry.
type serviceKey struct {
	Type   svctype.ServiceType
	Bucket string
}

// Node is a live object keyed by its NodeIdentifier, owning the set of
// currently enabled Service instances for that node.
type Node struct {
	Identifier string
	Hostname   string

	mu       sync.RWMutex
	services map[serviceKey]*Service

	disconnected atomic.Bool

	stateWatchMu sync.Mutex
	stateWatch   []chan ServiceState
}

// NewNode creates an empty Node.
func NewNode(identifier, hostname string) *Node {
	return &Node{
		Identifier: identifier,
		Hostname:   hostname,
		services:   make(map[serviceKey]*Service),
	}
}

// AddService registers svc under (type, bucket), replacing and closing
// any previous service at that key.
func (n *Node) AddService(st svctype.ServiceType, bucket string, svc *Service) {
	key := serviceKey{Type: st, Bucket: bucket}

	n.mu.Lock()
	old, existed := n.services[key]
	n.services[key] = svc
	n.mu.Unlock()

	if existed && old != svc {
		_ = old.Close()
	}
}

// RemoveService unregisters and closes the service at (type, bucket), if
// any.
func (n *Node) RemoveService(st svctype.ServiceType, bucket string) {
	key := serviceKey{Type: st, Bucket: bucket}

	n.mu.Lock()
	svc, ok := n.services[key]
	delete(n.services, key)
	n.mu.Unlock()

	if ok {
		_ = svc.Close()
	}
}

// ServiceEnabled reports whether (type, bucket) is currently registered.
func (n *Node) ServiceEnabled(st svctype.ServiceType, bucket string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.services[serviceKey{Type: st, Bucket: bucket}]
	return ok
}

// Service returns the registered Service at (type, bucket), if any.
func (n *Node) Service(st svctype.ServiceType, bucket string) (*Service, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	svc, ok := n.services[serviceKey{Type: st, Bucket: bucket}]
	return svc, ok
}

// HasServicesEnabled reports whether n owns any service at all.
func (n *Node) HasServicesEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.services) > 0
}

// EnabledServiceTypes returns the set of service types (ignoring bucket
// scoping) currently enabled on n. Used by locators filtering by
// capability (e.g. analytics-enabled nodes).
func (n *Node) EnabledServiceTypes() map[svctype.ServiceType]bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[svctype.ServiceType]bool, len(n.services))
	for k := range n.services {
		out[k.Type] = true
	}
	return out
}

// ServiceKey identifies one service by type and bucket, exported so
// callers outside this package (the reconciler) can diff against a
// node's current registrations without reaching into its internals.
type ServiceKey struct {
	Type   svctype.ServiceType
	Bucket string
}

// EnabledServices returns the (type, bucket) key of every service
// currently registered on n.
func (n *Node) EnabledServices() []ServiceKey {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]ServiceKey, 0, len(n.services))
	for k := range n.services {
		out = append(out, ServiceKey{Type: k.Type, Bucket: k.Bucket})
	}
	return out
}

// Disconnect closes every service on n and marks it disconnected.
func (n *Node) Disconnect() {
	n.disconnected.Store(true)

	n.mu.Lock()
	services := n.services
	n.services = make(map[serviceKey]*Service)
	n.mu.Unlock()

	for _, svc := range services {
		_ = svc.Close()
	}

	n.stateWatchMu.Lock()
	for _, ch := range n.stateWatch {
		close(ch)
	}
	n.stateWatch = nil
	n.stateWatchMu.Unlock()
}

// IsDisconnected reports whether Disconnect has been called on n.
func (n *Node) IsDisconnected() bool {
	return n.disconnected.Load()
}

// Diagnostics returns a snapshot of every service currently registered
// on n.
func (n *Node) Diagnostics() []EndpointDiagnostics {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]EndpointDiagnostics, 0, len(n.services))
	for _, svc := range n.services {
		out = append(out, svc.Diagnostics())
	}
	return out
}

// ServiceState returns a channel carrying the current state of (type,
// bucket) plus whether that service currently exists. Later state changes
// are not sent on it. The node keeps the channel until it disconnects,
// and then closes it.
func (n *Node) ServiceState(st svctype.ServiceType, bucket string) (<-chan ServiceState, bool) {
	svc, ok := n.Service(st, bucket)
	if !ok {
		return nil, false
	}

	ch := make(chan ServiceState, 1)
	ch <- svc.State()

	n.stateWatchMu.Lock()
	n.stateWatch = append(n.stateWatch, ch)
	n.stateWatchMu.Unlock()

	return ch, true
}
