package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbusdb/corekit/configprovider"
	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/reconcile"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/topology"
)

// fakeProvider is a configprovider.ConfigurationProvider driven entirely
// by the test, with no background goroutine of its own.
type fakeProvider struct {
	configs    chan topology.ClusterConfig
	current    topology.ClusterConfig
	openCalls  []string
	closeCalls []string
	refreshErr error
	openErr    error
	shutdowns  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{configs: make(chan topology.ClusterConfig, 4)}
}

func (f *fakeProvider) Configs() <-chan topology.ClusterConfig { return f.configs }
func (f *fakeProvider) Config() topology.ClusterConfig         { return f.current }
func (f *fakeProvider) OpenBucket(_ context.Context, bucket string) error {
	f.openCalls = append(f.openCalls, bucket)
	return f.openErr
}
func (f *fakeProvider) CloseBucket(bucket string) { f.closeCalls = append(f.closeCalls, bucket) }
func (f *fakeProvider) LoadAndRefreshGlobalConfig(_ context.Context) error {
	return f.refreshErr
}
func (f *fakeProvider) Shutdown() {
	f.shutdowns++
	close(f.configs)
}

var _ configprovider.ConfigurationProvider = (*fakeProvider)(nil)

// fakePool and fakeFactory mirror reconcile's own test fakes, kept
// separate since core_test must not import reconcile's internal test file.
type fakePool struct{ host string }

func (p *fakePool) Send(corereq.Request)     {}
func (p *fakePool) State() node.ServiceState { return node.StateConnected }
func (p *fakePool) Diagnostics() node.EndpointDiagnostics {
	return node.EndpointDiagnostics{Host: p.host, State: node.StateConnected}
}
func (p *fakePool) Close() error { return nil }

type fakeFactory struct{}

func (fakeFactory) BuildPool(st svctype.ServiceType, addr string) (node.EndpointPool, error) {
	return &fakePool{host: addr}, nil
}

var _ reconcile.ServiceFactory = fakeFactory{}

func newTestCore(t *testing.T, provider *fakeProvider) *Core {
	t.Helper()
	env := corectx.NewEnvironment(time.Second)
	ctx, err := corectx.NewCoreContext(env, noopAuth{})
	if err != nil {
		t.Fatalf("NewCoreContext: %v", err)
	}
	return New(ctx, provider, fakeFactory{})
}

type noopAuth struct{}

func (noopAuth) SupportsTLS() bool    { return true }
func (noopAuth) SupportsNonTLS() bool { return true }

// fakeSink records the single terminal outcome a request completes with.
type fakeSink struct {
	succeeded corereq.Response
	failed    error
}

func (s *fakeSink) Succeed(resp corereq.Response) { s.succeeded = resp }
func (s *fakeSink) Fail(err error)                { s.failed = err }

func newTestRequest(st svctype.ServiceType, sink *fakeSink) corereq.Request {
	return &testRequest{BaseRequest: corereq.NewBaseRequest(st, time.Second, nil, nil, sink)}
}

type testRequest struct {
	*corereq.BaseRequest
}

func TestOpenBucketPublishesAndDelegates(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	if err := c.OpenBucket("default"); err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	if len(p.openCalls) != 1 || p.openCalls[0] != "default" {
		t.Errorf("expected provider.OpenBucket(\"default\") to be called, got %v", p.openCalls)
	}
}

func TestOpenBucketFailureIsWrapped(t *testing.T) {
	p := newFakeProvider()
	p.openErr = errors.New("boom")
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	err := c.OpenBucket("default")
	if err == nil {
		t.Fatal("expected an error")
	}
	var coreErr *corectx.CoreError
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected a *corectx.CoreError, got %T", err)
	}
	if coreErr.Kind != corectx.KindConfigException {
		t.Errorf("expected KindConfigException, got %v", coreErr.Kind)
	}
}

func TestCloseBucketDelegatesToProvider(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	c.CloseBucket("default")
	if len(p.closeCalls) != 1 || p.closeCalls[0] != "default" {
		t.Errorf("expected provider.CloseBucket(\"default\") to be called, got %v", p.closeCalls)
	}
}

func TestShutdownClosesEveryOpenBucket(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)

	if err := c.OpenBucket("default"); err != nil {
		t.Fatalf("OpenBucket(default): %v", err)
	}
	if err := c.OpenBucket("other"); err != nil {
		t.Fatalf("OpenBucket(other): %v", err)
	}

	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(p.closeCalls) != 2 {
		t.Fatalf("expected both open buckets to be closed, got %v", p.closeCalls)
	}
	closed := map[string]bool{p.closeCalls[0]: true, p.closeCalls[1]: true}
	if !closed["default"] || !closed["other"] {
		t.Errorf("expected default and other to both be closed, got %v", p.closeCalls)
	}
}

func TestShutdownDoesNotReCloseAlreadyClosedBucket(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)

	if err := c.OpenBucket("default"); err != nil {
		t.Fatalf("OpenBucket: %v", err)
	}
	c.CloseBucket("default")
	p.closeCalls = nil

	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(p.closeCalls) != 0 {
		t.Errorf("expected no further CloseBucket calls for a bucket already closed, got %v", p.closeCalls)
	}
}

func TestInitGlobalConfigSurfacesProviderError(t *testing.T) {
	p := newFakeProvider()
	p.refreshErr = errors.New("no manager reachable")
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	err := c.InitGlobalConfig()
	if err == nil {
		t.Fatal("expected an error")
	}
	var coreErr *corectx.CoreError
	if !errors.As(err, &coreErr) || coreErr.Kind != corectx.KindGlobalConfigNotFound {
		t.Errorf("expected KindGlobalConfigNotFound, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)

	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	err := c.Shutdown(time.Second)
	if err == nil {
		t.Fatal("expected an error on second Shutdown")
	}
	var coreErr *corectx.CoreError
	if !errors.As(err, &coreErr) || coreErr.Kind != corectx.KindAlreadyShutDown {
		t.Errorf("expected KindAlreadyShutDown, got %v", err)
	}
}

func TestSendAfterShutdownCancelsRequest(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	sink := &fakeSink{}
	req := newTestRequest(svctype.KeyValue, sink)
	c.Send(req, true)

	if req.State() != corereq.StateCancelled {
		t.Errorf("expected request to be cancelled after shutdown, got state %v", req.State())
	}
	if sink.failed == nil {
		t.Error("expected the completion sink to observe a failure")
	}
}

func TestSendWithUnknownServiceTypeCancelsRequest(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	sink := &fakeSink{}
	req := newTestRequest(svctype.ServiceType(255), sink)
	c.Send(req, true)

	if req.State() != corereq.StateCancelled {
		t.Errorf("expected request to be cancelled for an unregistered service type, got %v", req.State())
	}
}

func TestEnsureServiceAtIsIdempotent(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	if err := c.EnsureServiceAt("node-1", "10.0.0.1", svctype.Manager, "", "10.0.0.1:8091"); err != nil {
		t.Fatalf("first EnsureServiceAt: %v", err)
	}
	if err := c.EnsureServiceAt("node-1", "10.0.0.1", svctype.Manager, "", "10.0.0.1:8091"); err != nil {
		t.Fatalf("second EnsureServiceAt: %v", err)
	}

	diag := c.Diagnostics()
	if len(diag["node-1"]) != 1 {
		t.Errorf("expected exactly one service registered for node-1, got %d", len(diag["node-1"]))
	}
}

func TestResponseMetricIsStableAcrossCalls(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	sink := &fakeSink{}
	req := newTestRequest(svctype.Query, sink)

	a := c.ResponseMetric(req)
	b := c.ResponseMetric(req)
	if a != b {
		t.Error("expected ResponseMetric to return the same recorder for the same service type")
	}
}

func TestConsumeConfigsFeedsReconciler(t *testing.T) {
	p := newFakeProvider()
	c := newTestCore(t, p)
	defer c.Shutdown(time.Second)

	cc := topology.ClusterConfig{
		Buckets: map[string]topology.BucketConfig{
			"default": {
				BucketName: "default",
				NodeInfos: []topology.NodeInfo{
					{
						Identifier: "node-1",
						Hostname:   "10.0.0.1",
						Ports:      map[svctype.ServiceType]uint16{svctype.KeyValue: 11210},
					},
				},
			},
		},
	}
	p.configs <- cc

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.reconciler.NodeByIdentifier("node-1"); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for the config to reach the reconciler")
}
