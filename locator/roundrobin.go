package locator

import (
	"sync/atomic"

	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
)

// findLiveNode returns the *node.Node with the given identifier from
// nodes, or nil if not present in the live set.
func findLiveNode(nodes []*node.Node, identifier string) *node.Node {
	for _, n := range nodes {
		if n.Identifier == identifier {
			return n
		}
	}
	return nil
}

// filterFunc reports whether n is eligible to serve requests for a
// particular RoundRobinLocator variant (e.g. analytics restricts to
// analytics-enabled nodes).
type filterFunc func(n *node.Node) bool

// bucketedRequest is implemented by request types that carry the bucket
// they target, so a bucket-scoped RoundRobinLocator (views) can look up
// the right per-bucket service key without needing a dedicated Locator
// type of its own.
type bucketedRequest interface {
	Bucket() string
}

// RoundRobinLocator holds an atomic cursor and picks the i-th eligible
// node advancing the cursor on every dispatch, per spec.md §4.2.
type RoundRobinLocator struct {
	serviceType svctype.ServiceType
	bucketed    bool // true for services registered per-bucket (views)
	filter      filterFunc
	cursor      uint64
}

// NewRoundRobinLocator returns a locator for a global (non-bucket-scoped)
// service type with no additional node filtering.
func NewRoundRobinLocator(st svctype.ServiceType) *RoundRobinLocator {
	return &RoundRobinLocator{serviceType: st}
}

// bucketFor resolves the bucket this dispatch should use as part of the
// service key: empty for global services, or req's own bucket (via
// bucketedRequest) for bucket-scoped ones.
func (l *RoundRobinLocator) bucketFor(req corereq.Request) string {
	if !l.bucketed {
		return ""
	}
	if br, ok := req.(bucketedRequest); ok {
		return br.Bucket()
	}
	return ""
}

// eligibleNodes returns, in a stable order, every node in nodes that has
// this locator's service type enabled for bucket and passes its filter
// (if any).
func (l *RoundRobinLocator) eligibleNodes(nodes []*node.Node, bucket string) []*node.Node {
	out := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.ServiceEnabled(l.serviceType, bucket) {
			continue
		}
		if l.filter != nil && !l.filter(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (l *RoundRobinLocator) Dispatch(req corereq.Request, dc DispatchContext) {
	bucket := l.bucketFor(req)

	eligible := l.eligibleNodes(dc.Nodes, bucket)
	if len(eligible) == 0 {
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException,
			"no node has service "+l.serviceType.String()+" enabled"), dc)
		return
	}

	idx := atomic.AddUint64(&l.cursor, 1) % uint64(len(eligible))
	target := eligible[idx]

	svc, ok := target.Service(l.serviceType, bucket)
	if !ok {
		// lost the race with a concurrent reconfiguration; retry rather
		// than fail outright.
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException, "service disabled concurrently"), dc)
		return
	}

	req.MarkDispatched()
	svc.Send(req)
}
