// Package locator implements the per-service routing policies that map
// a request onto a (node, service) pair: partition hashing for
// key-value, round-robin with service-specific filtering for the HTTP
// services.
package locator

import (
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/topology"
)

var log = logger.GetLogger("locator")

// DispatchContext is the live state a Locator needs to route a request,
// plus a Redispatch hook the locator invokes when its retry strategy
// wants another attempt: Redispatch re-fetches a fresh node/config
// snapshot and calls the locator again, the way Core.send(req, false)
// re-enters dispatch for a retried request without re-registering its
// timeout.
type DispatchContext struct {
	Nodes      []*node.Node
	Config     topology.ClusterConfig
	CoreCtx    *corectx.CoreContext
	Redispatch func(req corereq.Request)
}

// Locator is a single-service-type routing policy.
type Locator interface {
	// Dispatch routes req onto a live (node, service) pair drawn from
	// dc, or fails req via its retry strategy / by cancelling it when
	// the strategy declines.
	Dispatch(req corereq.Request, dc DispatchContext)
}

// DispatchTable maps ServiceType to its Locator, mirroring the static
// dispatch table from spec.md §4.2. An unknown service type is a
// programming error, matched against the table with ok=false.
type DispatchTable struct {
	locators map[svctype.ServiceType]Locator
}

// NewDispatchTable builds the module's standard table: KeyValueLocator
// for KV, RoundRobinLocator for management/query/eventing/search, and the
// filtered ViewLocator/AnalyticsLocator for their respective services.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		locators: map[svctype.ServiceType]Locator{
			svctype.KeyValue:  NewKeyValueLocator(),
			svctype.Manager:   NewRoundRobinLocator(svctype.Manager),
			svctype.Query:     NewRoundRobinLocator(svctype.Query),
			svctype.Eventing:  NewRoundRobinLocator(svctype.Eventing),
			svctype.Search:    NewRoundRobinLocator(svctype.Search),
			svctype.Views:     NewViewLocator(),
			svctype.Analytics: NewAnalyticsLocator(),
		},
	}
}

// Locator returns the Locator registered for st, or ok=false if st is
// not in the table (a programming error per spec.md §4.2).
func (t *DispatchTable) Locator(st svctype.ServiceType) (Locator, bool) {
	l, ok := t.locators[st]
	return l, ok
}

// retryOrCancel consults req's retry strategy against its true attempt
// count (req.NextAttempt(), incremented once per call); if the strategy
// declines, req is cancelled with CancelRetriedElsewhere per spec.md §7's
// dispatch-time failure policy. Without this, a request that can never be
// dispatched (dead node, unknown bucket) would retry forever instead of
// eventually reaching the required terminal state.
func retryOrCancel(req corereq.Request, cause error, dc DispatchContext) {
	attempt := req.NextAttempt()
	retry, delay := req.RetryStrategy().ShouldRetry(attempt, cause)
	if !retry {
		log.Debugf("request %s: no node/service available, retry strategy declined: %v", req.OperationID(), cause)
		req.Cancel(corereq.CancelRetriedElsewhere)
		return
	}
	if delay <= 0 {
		dc.Redispatch(req)
		return
	}
	time.AfterFunc(delay, func() { dc.Redispatch(req) })
}
