// Package core implements the dispatch and topology engine every other
// package in this module serves: constructing a Core wires together the
// configuration provider, the topology reconciler, the per-service
// locators, and the deadline timer, and its public operations are the
// module's entire external surface.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nimbusdb/corekit/configprovider"
	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/events"
	"github.com/nimbusdb/corekit/locator"
	"github.com/nimbusdb/corekit/metrics"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/reconcile"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/topology"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("core")

// Core is the module's top-level object: one per logical connection to a
// cluster. It owns no domain data of its own (no documents, no query
// results) — only the live topology and the machinery to route requests
// into it.
type Core struct {
	ctx      *corectx.CoreContext
	provider configprovider.ConfigurationProvider
	reconciler *reconcile.Reconciler
	dispatch *locator.DispatchTable
	timer    *corereq.Timer
	factory  reconcile.ServiceFactory

	currentConfig atomic.Pointer[topology.ClusterConfig]
	responseMetrics *xsync.MapOf[string, metrics.ValueRecorder]

	bucketsMu    sync.Mutex
	openBuckets  map[string]bool

	shutdownOnce sync.Once
	shutdown     atomic.Bool
	stopCh       chan struct{}
	configLoopWg sync.WaitGroup
}

// New constructs a Core and starts its background config-consumption
// loop. It does not block for an initial configuration to arrive; callers
// needing that guarantee should follow up with InitGlobalConfig or
// OpenBucket.
func New(ctx *corectx.CoreContext, provider configprovider.ConfigurationProvider, factory reconcile.ServiceFactory) *Core {
	c := &Core{
		ctx:             ctx,
		provider:        provider,
		reconciler:      reconcile.NewReconciler(factory, ctx.Environment.EventBus, ctx.Environment.AlternateAddress, ctx.Environment.TLSConfig != nil),
		dispatch:        locator.NewDispatchTable(),
		timer:           corereq.NewTimer(),
		factory:         factory,
		responseMetrics: xsync.NewMapOf[string, metrics.ValueRecorder](),
		openBuckets:     make(map[string]bool),
		stopCh:          make(chan struct{}),
	}
	c.currentConfig.Store(&topology.ClusterConfig{})

	c.configLoopWg.Add(1)
	go c.consumeConfigs()

	ctx.Environment.EventBus.Publish(events.CoreCreated{InstanceID: uint64(ctx.InstanceID)})
	return c
}

// consumeConfigs drains the provider's Configs channel for the Core's
// lifetime, keeping currentConfig up to date and feeding every snapshot
// to the reconciler.
func (c *Core) consumeConfigs() {
	defer c.configLoopWg.Done()

	ch := c.provider.Configs()
	for {
		select {
		case <-c.stopCh:
			return
		case cc, ok := <-ch:
			if !ok {
				return
			}
			c.currentConfig.Store(&cc)
			c.reconciler.Reconcile(cc)
		}
	}
}

// Send routes req to the node/service its service type's locator selects,
// per spec.md §4.1. Send never blocks on the response: completion arrives
// through req's own completion sink. When registerForTimeout is true
// (the normal case; false is used when re-entering dispatch for a request
// already registered), req is also handed to the deadline timer so it is
// cancelled if no terminal outcome arrives before its deadline.
func (c *Core) Send(req corereq.Request, registerForTimeout bool) {
	if c.shutdown.Load() {
		req.Cancel(corereq.CancelShutdown)
		return
	}

	for _, cb := range c.ctx.Environment.RequestCallbacks {
		cb(req)
	}

	if registerForTimeout {
		c.timer.Register(req)
	}

	loc, ok := c.dispatch.Locator(req.ServiceType())
	if !ok {
		log.Errorf("core: no locator registered for service type %s", req.ServiceType())
		req.Cancel(corereq.CancelRetriedElsewhere)
		return
	}

	dc := locator.DispatchContext{
		Nodes:   c.reconciler.Nodes(),
		Config:  *c.currentConfig.Load(),
		CoreCtx: c.ctx,
		Redispatch: func(r corereq.Request) {
			c.Send(r, false)
		},
	}
	loc.Dispatch(req, dc)
}

// OpenBucket opens bucket against the configuration provider, publishing
// BucketOpenInitiated/BucketOpened/BucketOpenFailed as it goes, per
// spec.md §4.1.
func (c *Core) OpenBucket(bucket string) error {
	bus := c.ctx.Environment.EventBus
	bus.Publish(events.BucketOpenInitiated{Bucket: bucket})

	if c.shutdown.Load() {
		err := corectx.NewError(corectx.KindAlreadyShutDown, "core is shut down")
		bus.Publish(events.BucketOpenFailed{Bucket: bucket, Err: err, Severity: events.SeverityDebug})
		return err
	}

	if err := c.provider.OpenBucket(context.Background(), bucket); err != nil {
		wrapped := corectx.Wrap(corectx.KindConfigException, fmt.Sprintf("open bucket %q failed", bucket), err)
		bus.Publish(events.BucketOpenFailed{Bucket: bucket, Err: wrapped, Severity: events.SeverityWarn})
		return wrapped
	}

	c.bucketsMu.Lock()
	c.openBuckets[bucket] = true
	c.bucketsMu.Unlock()

	bus.Publish(events.BucketOpened{Bucket: bucket})
	return nil
}

// CloseBucket withdraws interest in bucket and publishes BucketClosed.
func (c *Core) CloseBucket(bucket string) {
	c.bucketsMu.Lock()
	delete(c.openBuckets, bucket)
	c.bucketsMu.Unlock()

	c.provider.CloseBucket(bucket)
	c.ctx.Environment.EventBus.Publish(events.BucketClosed{Bucket: bucket})
}

// closeAllOpenBuckets withdraws interest in every bucket still open at
// shutdown time, per spec.md §4.1's "closes every open bucket" sequence.
func (c *Core) closeAllOpenBuckets() {
	c.bucketsMu.Lock()
	buckets := make([]string, 0, len(c.openBuckets))
	for bucket := range c.openBuckets {
		buckets = append(buckets, bucket)
	}
	c.openBuckets = make(map[string]bool)
	c.bucketsMu.Unlock()

	for _, bucket := range buckets {
		c.provider.CloseBucket(bucket)
		c.ctx.Environment.EventBus.Publish(events.BucketClosed{Bucket: bucket})
	}
}

// InitGlobalConfig loads the cluster's global (non-bucket-scoped)
// configuration, publishing InitGlobalConfigFailed on error per spec.md
// §4.1.
func (c *Core) InitGlobalConfig() error {
	if c.shutdown.Load() {
		c.ctx.Environment.EventBus.Publish(events.InitGlobalConfigFailed{Reason: events.ReasonShutdown})
		return corectx.NewError(corectx.KindAlreadyShutDown, "core is shut down")
	}

	if err := c.provider.LoadAndRefreshGlobalConfig(context.Background()); err != nil {
		c.ctx.Environment.EventBus.Publish(events.InitGlobalConfigFailed{Reason: events.ReasonNoConfigFound, Cause: err})
		return corectx.Wrap(corectx.KindGlobalConfigNotFound, "global config unavailable", err)
	}
	return nil
}

// Shutdown stops background config consumption, tears down every live
// node, and shuts down the configuration provider. It is safe to call
// more than once; only the first call does anything, matching spec.md
// §4.1's "idempotent... subsequent calls return the already-shut-down
// error". timeout bounds how long Shutdown waits for the config-loop
// goroutine to exit cleanly before giving up.
func (c *Core) Shutdown(timeout time.Duration) error {
	if !c.shutdown.CompareAndSwap(false, true) {
		return corectx.NewError(corectx.KindAlreadyShutDown, "core is already shut down")
	}

	c.ctx.Environment.EventBus.Publish(events.ShutdownInitiated{})

	close(c.stopCh)
	c.closeAllOpenBuckets()
	c.provider.Shutdown()
	c.timer.Close()
	c.reconciler.DisconnectAll()

	timedOut := false
	done := make(chan struct{})
	go func() {
		c.configLoopWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
	}

	c.ctx.Environment.EventBus.Publish(events.ShutdownCompleted{TimedOut: timedOut})
	return nil
}

// EnsureServiceAt makes sure the node identified by identifier has a live
// service of type st reachable at addr, building one if absent. Used to
// seed a service outside of normal config-driven discovery (e.g. the
// bootstrap manager-service connection before any config has arrived).
func (c *Core) EnsureServiceAt(identifier, hostname string, st svctype.ServiceType, bucket, addr string) error {
	n := c.reconciler.EnsureNode(identifier, hostname)
	if _, ok := n.Service(st, bucket); ok {
		return nil
	}

	pool, err := c.factory.BuildPool(st, addr)
	if err != nil {
		return corectx.Wrap(corectx.KindConfigException, fmt.Sprintf("ensure_service_at %s/%s failed", identifier, st), err)
	}
	n.AddService(st, bucket, node.NewService(st, bucket, pool))
	return nil
}

// ResponseMetric returns the ValueRecorder for req's service type,
// allocating it on first use via a compute-if-absent map, per spec.md
// §6's "value recorders tagged with service, operation".
func (c *Core) ResponseMetric(req corereq.Request) metrics.ValueRecorder {
	key := req.ServiceType().String()
	if rec, ok := c.responseMetrics.Load(key); ok {
		return rec
	}
	rec := c.ctx.Environment.Meter.Recorder(key, c.ctx.Environment.AlternateAddress, "dispatch")
	actual, _ := c.responseMetrics.LoadOrStore(key, rec)
	return actual
}

// Diagnostics returns a snapshot of every live node's service pools,
// supplementing spec.md with the health surface a real client needs to
// expose (grounded on the original's per-service diagnostics report).
func (c *Core) Diagnostics() map[string][]node.EndpointDiagnostics {
	out := make(map[string][]node.EndpointDiagnostics)
	for _, n := range c.reconciler.Nodes() {
		out[n.Identifier] = n.Diagnostics()
	}
	return out
}

// ServiceState exposes one (node, service type, bucket) service's current
// state (see node.Node.ServiceState), or ok=false if no such live service
// exists.
func (c *Core) ServiceState(identifier string, st svctype.ServiceType, bucket string) (<-chan node.ServiceState, bool) {
	n, ok := c.reconciler.NodeByIdentifier(identifier)
	if !ok {
		return nil, false
	}
	return n.ServiceState(st, bucket)
}
