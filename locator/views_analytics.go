package locator

import (
	"github.com/nimbusdb/corekit/node"
	"github.com/nimbusdb/corekit/svctype"
)

// NewViewLocator returns a round-robin locator restricted to nodes that
// host the requesting bucket, per spec.md §4.2's "views require the node
// to host the bucket". Views is bucket-scoped, so bucketed routes each
// request against its own Bucket() rather than a fixed empty bucket key.
func NewViewLocator() *RoundRobinLocator {
	return &RoundRobinLocator{
		serviceType: svctype.Views,
		bucketed:    true,
	}
}

// NewAnalyticsLocator returns a round-robin locator restricted to
// analytics-enabled nodes, per spec.md §4.2's "analytics restricts to
// analytics-enabled nodes". Analytics is treated as a global (bucket-less)
// service since a request may target any analytics-enabled node
// regardless of which bucket the underlying dataset belongs to.
func NewAnalyticsLocator() *RoundRobinLocator {
	return &RoundRobinLocator{
		serviceType: svctype.Analytics,
		filter: func(n *node.Node) bool {
			return n.EnabledServiceTypes()[svctype.Analytics]
		},
	}
}
