package reconcile

import (
	"fmt"
	"time"

	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/transport"
	"github.com/nimbusdb/corekit/wire"
)

// ServiceFactory builds the connection pool backing one (service type,
// address) pair. Kept as an interface, distinct from transport's
// concrete pools, so the reconciler's diffing logic can be tested with a
// fake that never opens a socket.
type ServiceFactory interface {
	BuildPool(st svctype.ServiceType, addr string) (node.EndpointPool, error)
}

// TransportServiceFactory is the module's one production ServiceFactory:
// key-value services get a binary-framed transport.KVEndpointPool,
// every other (HTTP-chunked) service type gets a
// transport.HTTPEndpointPool.
type TransportServiceFactory struct {
	Connector              transport.Connector
	Codec                  wire.Codec
	Timeout                time.Duration
	ConnectionsPerEndpoint int
	RetryCount             int
	HTTPScheme             string
}

// NewTransportServiceFactory returns a factory with the module's default
// pool sizing: one connection per endpoint, three retry attempts, plain
// HTTP.
func NewTransportServiceFactory(connector transport.Connector, codec wire.Codec, timeout time.Duration) *TransportServiceFactory {
	return &TransportServiceFactory{
		Connector:              connector,
		Codec:                  codec,
		Timeout:                timeout,
		ConnectionsPerEndpoint: 1,
		RetryCount:             3,
		HTTPScheme:             "http",
	}
}

// BuildPool implements ServiceFactory.
func (f *TransportServiceFactory) BuildPool(st svctype.ServiceType, addr string) (node.EndpointPool, error) {
	if st == svctype.KeyValue {
		return transport.NewKVEndpointPool(f.Connector, f.Codec, transport.PoolConfig{
			Endpoints:              []string{addr},
			ConnectionsPerEndpoint: f.ConnectionsPerEndpoint,
			RetryCount:             f.RetryCount,
			Timeout:                f.Timeout,
		})
	}

	scheme := f.HTTPScheme
	if scheme == "" {
		scheme = "http"
	}
	return transport.NewHTTPEndpointPool(transport.HTTPPoolConfig{
		BaseURLs:   []string{fmt.Sprintf("%s://%s", scheme, addr)},
		RetryCount: f.RetryCount,
		Timeout:    f.Timeout,
	})
}
