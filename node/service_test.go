package node

import (
	"testing"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

type fakePool struct {
	closed bool
}

func (p *fakePool) Send(corereq.Request)     {}
func (p *fakePool) State() ServiceState      { return StateConnected }
func (p *fakePool) Diagnostics() EndpointDiagnostics {
	return EndpointDiagnostics{State: StateConnected}
}
func (p *fakePool) Close() error {
	p.closed = true
	return nil
}

func TestAddServiceReplacesAndClosesPrevious(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")

	first := &fakePool{}
	n.AddService(svctype.KeyValue, "default", NewService(svctype.KeyValue, "default", first))

	second := &fakePool{}
	n.AddService(svctype.KeyValue, "default", NewService(svctype.KeyValue, "default", second))

	if !first.closed {
		t.Error("expected the replaced pool to be closed")
	}
	if second.closed {
		t.Error("the new pool must not be closed")
	}

	svc, ok := n.Service(svctype.KeyValue, "default")
	if !ok {
		t.Fatal("expected a kv service to still be registered")
	}
	if svc.pool != second {
		t.Error("expected the registered service to wrap the second pool")
	}
}

func TestRemoveServiceClosesPool(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	pool := &fakePool{}
	n.AddService(svctype.Query, "", NewService(svctype.Query, "", pool))

	n.RemoveService(svctype.Query, "")

	if !pool.closed {
		t.Error("expected RemoveService to close the pool")
	}
	if _, ok := n.Service(svctype.Query, ""); ok {
		t.Error("expected the service to no longer be registered")
	}
}

func TestRemoveServiceIsNoopWhenAbsent(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	n.RemoveService(svctype.Query, "") // must not panic
}

func TestServiceScopingByBucket(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	n.AddService(svctype.Views, "bucket-a", NewService(svctype.Views, "bucket-a", &fakePool{}))

	if n.ServiceEnabled(svctype.Views, "bucket-b") {
		t.Error("a service registered for one bucket must not be enabled for another")
	}
	if !n.ServiceEnabled(svctype.Views, "bucket-a") {
		t.Error("expected the service to be enabled for its own bucket")
	}
}

func TestEnabledServiceTypesIgnoresBucketScoping(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	n.AddService(svctype.Views, "bucket-a", NewService(svctype.Views, "bucket-a", &fakePool{}))
	n.AddService(svctype.Views, "bucket-b", NewService(svctype.Views, "bucket-b", &fakePool{}))

	types := n.EnabledServiceTypes()
	if !types[svctype.Views] {
		t.Error("expected Views to be reported enabled regardless of which bucket")
	}
	if len(types) != 1 {
		t.Errorf("expected exactly one distinct service type, got %d", len(types))
	}
}

func TestDisconnectClosesEveryServiceAndMarksNode(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	kv := &fakePool{}
	q := &fakePool{}
	n.AddService(svctype.KeyValue, "default", NewService(svctype.KeyValue, "default", kv))
	n.AddService(svctype.Query, "", NewService(svctype.Query, "", q))

	n.Disconnect()

	if !kv.closed || !q.closed {
		t.Error("expected every service's pool to be closed on disconnect")
	}
	if !n.IsDisconnected() {
		t.Error("expected IsDisconnected to report true after Disconnect")
	}
	if n.HasServicesEnabled() {
		t.Error("expected no services to remain registered after disconnect")
	}
}

func TestServiceStateReportsCurrentStateAndClosesOnDisconnect(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	n.AddService(svctype.KeyValue, "default", NewService(svctype.KeyValue, "default", &fakePool{}))

	ch, ok := n.ServiceState(svctype.KeyValue, "default")
	if !ok {
		t.Fatal("expected a service-state channel for a registered service")
	}

	select {
	case s := <-ch:
		if s != StateConnected {
			t.Errorf("expected initial state Connected, got %v", s)
		}
	default:
		t.Fatal("expected the channel to be pre-seeded with the current state")
	}

	n.Disconnect()

	select {
	case _, open := <-ch:
		if open {
			t.Error("expected the channel to be closed after disconnect")
		}
	default:
		t.Error("expected the channel to be closed (readable) after disconnect")
	}
}

func TestServiceStateMissingServiceReportsNotOK(t *testing.T) {
	n := NewNode("node-1", "10.0.0.1")
	if _, ok := n.ServiceState(svctype.KeyValue, "default"); ok {
		t.Error("expected ok=false for a service that was never registered")
	}
}
