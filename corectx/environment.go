package corectx

import (
	"crypto/tls"
	"time"

	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/events"
	"github.com/nimbusdb/corekit/metrics"
)

// Authenticator supplies per-request credentials to services. Its wire
// mechanics live outside this module; only the shape needed for
// construction-time validation is captured here.
type Authenticator interface {
	// SupportsTLS reports whether this authenticator can operate over a
	// TLS-secured connection.
	SupportsTLS() bool
	// SupportsNonTLS reports whether this authenticator can operate over
	// a plaintext connection.
	SupportsNonTLS() bool
}

// BeforeSendCallback is invoked by Core.Send immediately before a request
// is handed to its locator, in registration order.
type BeforeSendCallback func(req corereq.Request)

// Environment bundles the shared, long-lived collaborators a Core is
// built from: scheduling, eventing, metering, and transport security.
// Environment is itself immutable after construction; swap in a new one
// to change behavior rather than mutating fields concurrently.
type Environment struct {
	// Timeout is the default per-request deadline used when a request
	// does not specify its own.
	Timeout time.Duration

	// EventBus receives every typed event this module publishes.
	EventBus *events.Bus

	// Meter records response-time and count metrics for dispatched
	// requests.
	Meter *metrics.Meter

	// TLSConfig is non-nil when the environment requires TLS-secured
	// connections to every service.
	TLSConfig *tls.Config

	// RequestCallbacks run, in order, immediately before every send.
	RequestCallbacks []BeforeSendCallback

	// AlternateAddress, when non-empty, names the alternate-address
	// entry this client identifies with (as advertised by the cluster
	// config), causing the reconciler to build each node's pools from
	// its alternate-address table instead of its primary address.
	AlternateAddress string
}

// NewEnvironment returns an Environment with a ready-to-use event bus and
// meter, matching the defaults a demo or test harness expects.
func NewEnvironment(timeout time.Duration) *Environment {
	return &Environment{
		Timeout:  timeout,
		EventBus: events.NewBus(),
		Meter:    metrics.NewMeter("corekit_operations"),
	}
}

// ValidateAuthenticator fails construction synchronously (per spec.md
// §4.1's "Invalid environment... fails at construction") when the
// authenticator cannot operate under the environment's TLS posture.
func (e *Environment) ValidateAuthenticator(auth Authenticator) error {
	if e.TLSConfig != nil && !auth.SupportsTLS() {
		return &CoreError{Kind: KindInvalidArgument, Msg: "authenticator does not support TLS but environment requires it"}
	}
	if e.TLSConfig == nil && !auth.SupportsNonTLS() {
		return &CoreError{Kind: KindInvalidArgument, Msg: "authenticator requires TLS but environment is not configured for it"}
	}
	return nil
}

// CoreContext is the immutable handle threaded through dispatch: instance
// identity, the shared Environment, and the authenticator in force.
type CoreContext struct {
	InstanceID    InstanceID
	Environment   *Environment
	Authenticator Authenticator
}

// NewCoreContext validates auth against env and returns a ready
// CoreContext, or the construction-time error described in spec.md §4.1.
func NewCoreContext(env *Environment, auth Authenticator) (*CoreContext, error) {
	if err := env.ValidateAuthenticator(auth); err != nil {
		return nil, err
	}
	return &CoreContext{
		InstanceID:    NewInstanceID(),
		Environment:   env,
		Authenticator: auth,
	}, nil
}
