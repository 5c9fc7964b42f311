// Package reconcile implements the topology reconciliation loop: turning
// a newly observed topology.ClusterConfig into additions, removals, and
// replacements across the live node.Node registry, serialized so at most
// one reconciliation pass runs at a time with later requests coalesced
// into the pass already running.
package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nimbusdb/corekit/events"
	"github.com/nimbusdb/corekit/metrics"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/topology"
)

var log = logger.GetLogger("reconcile")

// svcKey is the reconciler's own (type, bucket) key, mirroring
// node.ServiceKey, used while diffing desired vs. actual state before
// any node.Node exists to hold it.
type svcKey struct {
	Type   svctype.ServiceType
	Bucket string
}

type desiredService struct {
	host string
	port uint16
}

type desiredNode struct {
	hostname string
	services map[svcKey]desiredService
}

// Reconciler owns the live node.Node registry and drives it toward
// whatever topology.ClusterConfig it was last handed.
type Reconciler struct {
	factory          ServiceFactory
	bus              *events.Bus
	alternateNetwork string
	useTLS           bool

	mu    sync.RWMutex
	nodes map[string]*node.Node

	cfgMu      sync.RWMutex
	lastConfig topology.ClusterConfig

	inProgress atomic.Bool
	pending    atomic.Bool

	haveFingerprint atomic.Bool
	lastFingerprint atomic.Uint64
}

// NewReconciler constructs a Reconciler with an empty node registry.
// alternateNetwork selects which of a NodeInfo's alternate address
// tables to resolve through (empty means "use the primary address"), per
// spec.md §4.2's tie-break rule. The locators do not resolve alternate
// addresses themselves; they use the pools the reconciler built.
func NewReconciler(factory ServiceFactory, bus *events.Bus, alternateNetwork string, useTLS bool) *Reconciler {
	return &Reconciler{
		factory:          factory,
		bus:              bus,
		alternateNetwork: alternateNetwork,
		useTLS:           useTLS,
		nodes:            make(map[string]*node.Node),
	}
}

// Nodes returns a point-in-time snapshot of the live node registry. The
// returned slice is a fresh copy; the *node.Node values themselves are
// shared and safe for concurrent use.
func (r *Reconciler) Nodes() []*node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// NodeByIdentifier looks up one live node by identifier.
func (r *Reconciler) NodeByIdentifier(id string) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// EnsureNode returns the registered node at identifier, creating and
// registering an empty one at hostname if none exists yet. Used by
// Core.EnsureServiceAt to seed a service outside of normal config-driven
// reconciliation.
func (r *Reconciler) EnsureNode(identifier, hostname string) *node.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[identifier]; ok {
		return n
	}
	n := node.NewNode(identifier, hostname)
	r.nodes[identifier] = n
	return n
}

// DisconnectAll tears down and empties the live node registry, called
// from Core.Shutdown.
func (r *Reconciler) DisconnectAll() {
	r.disconnectAll()
}

// Reconcile records cc as the latest known configuration and either
// starts a reconciliation pass or, if one is already running, marks it
// pending so the running pass re-runs against cc once it finishes. This
// is the two-flag in_progress/pending coalescing scheme from spec.md
// §4.3: a burst of rapid config updates collapses into at most one
// pass running plus one pass queued, never a backlog.
func (r *Reconciler) Reconcile(cc topology.ClusterConfig) {
	r.cfgMu.Lock()
	r.lastConfig = cc
	r.cfgMu.Unlock()

	if !r.inProgress.CompareAndSwap(false, true) {
		r.pending.Store(true)
		r.bus.Publish(events.ReconfigurationIgnored{})
		return
	}

	go r.runPasses()
}

// runPasses runs reconciliation passes until no pass was coalesced in
// while the previous one ran.
func (r *Reconciler) runPasses() {
	for {
		r.cfgMu.RLock()
		cc := r.lastConfig
		r.cfgMu.RUnlock()

		start := time.Now()
		err := r.reconcileOnce(cc)
		elapsed := time.Since(start)

		if err != nil {
			log.Warningf("reconcile: pass failed: %v", err)
			r.bus.Publish(events.ReconfigurationErrorDetected{Err: err})
		} else {
			metrics.RecordReconcileDuration(elapsed.Milliseconds())
			r.bus.Publish(events.ReconfigurationCompleted{Elapsed: elapsed})
		}

		if r.pending.CompareAndSwap(true, false) {
			continue
		}

		r.inProgress.Store(false)
		// A Reconcile call landing between the pending check above and the
		// store just now would otherwise be lost; re-check once more before
		// giving up the in_progress flag for good.
		if r.pending.Load() && r.inProgress.CompareAndSwap(false, true) {
			continue
		}
		return
	}
}

// reconcileOnce runs a single synchronous reconciliation pass. A config
// whose fingerprint matches the one the registry is already converged on
// is skipped outright: the config stream is hot and a polling provider
// commonly re-emits an identical snapshot between real changes.
func (r *Reconciler) reconcileOnce(cc topology.ClusterConfig) error {
	if cc.IsEmpty() {
		r.disconnectAll()
		r.haveFingerprint.Store(false)
		return nil
	}

	fp := cc.Fingerprint()
	if r.haveFingerprint.Load() && r.lastFingerprint.Load() == fp {
		return nil
	}

	desired := r.computeDesiredState(cc)

	r.mu.Lock()
	current := r.nodes
	r.mu.Unlock()

	next := make(map[string]*node.Node, len(current))
	for id, n := range current {
		next[id] = n
	}

	var firstErr error
	for id, want := range desired {
		n, ok := next[id]
		if !ok {
			n = node.NewNode(id, want.hostname)
			next[id] = n
		}
		if err := r.reconcileNode(n, want); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for id, n := range next {
		if _, stillDesired := desired[id]; !stillDesired {
			n.Disconnect()
			delete(next, id)
			continue
		}
		if !n.HasServicesEnabled() {
			n.Disconnect()
			delete(next, id)
		}
	}

	r.mu.Lock()
	r.nodes = next
	r.mu.Unlock()

	if firstErr == nil {
		r.lastFingerprint.Store(fp)
		r.haveFingerprint.Store(true)
	}

	return firstErr
}

// computeDesiredState flattens every bucket's and the global config's
// node lists into one map of node identifier -> desired service set,
// resolving each NodeInfo's effective host/ports once per appearance.
func (r *Reconciler) computeDesiredState(cc topology.ClusterConfig) map[string]*desiredNode {
	out := make(map[string]*desiredNode)

	add := func(bucket string, n topology.NodeInfo) {
		host, ports := n.EffectiveHostAndPorts(r.alternateNetwork, r.useTLS)

		dn, ok := out[n.Identifier]
		if !ok {
			dn = &desiredNode{hostname: host, services: make(map[svcKey]desiredService)}
			out[n.Identifier] = dn
		}

		for st, port := range ports {
			key := svcKey{Type: st}
			if svctype.ScopeOf(st) == svctype.ScopeBucket {
				if bucket == "" {
					// A bucket-scoped service (kv, views) has no meaning in
					// the global config document; ignore it there.
					continue
				}
				key.Bucket = bucket
			}
			dn.services[key] = desiredService{host: host, port: port}
		}
	}

	for bucketName, bc := range cc.Buckets {
		for _, n := range bc.Nodes() {
			add(bucketName, n)
		}
	}
	if cc.Global != nil {
		for _, n := range cc.Global.PortInfos() {
			add("", n)
		}
	}

	return out
}

// reconcileNode brings n's registered services in line with want: builds
// pools for services that are missing or whose address changed, drops
// services no longer wanted. A single node's service failing to build
// does not abort reconciling the rest of the cluster; it is reported via
// ServiceReconfigurationFailed instead, per spec.md §4.3.
func (r *Reconciler) reconcileNode(n *node.Node, want *desiredNode) error {
	var firstErr error

	for key, svc := range want.services {
		addr := fmt.Sprintf("%s:%d", svc.host, svc.port)

		if existing, ok := n.Service(key.Type, key.Bucket); ok {
			// HTTP pools report their base URL ("scheme://host:port").
			if host := existing.Diagnostics().Host; host == addr || strings.HasSuffix(host, "://"+addr) {
				continue
			}
		}

		pool, err := r.factory.BuildPool(key.Type, addr)
		if err != nil {
			r.bus.Publish(events.ServiceReconfigurationFailed{NodeIdentifier: n.Identifier, Err: err})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.AddService(key.Type, key.Bucket, node.NewService(key.Type, key.Bucket, pool))
	}

	for _, key := range n.EnabledServices() {
		if _, stillWanted := want.services[svcKey{Type: key.Type, Bucket: key.Bucket}]; !stillWanted {
			n.RemoveService(key.Type, key.Bucket)
		}
	}

	return firstErr
}

// disconnectAll tears down every node and empties the registry, the
// "disconnect-all" behavior spec.md §4.3 step 1 requires when a config
// snapshot carries no buckets and no global config.
func (r *Reconciler) disconnectAll() {
	r.mu.Lock()
	nodes := r.nodes
	r.nodes = make(map[string]*node.Node)
	r.mu.Unlock()

	for _, n := range nodes {
		n.Disconnect()
	}
}
