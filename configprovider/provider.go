// Package configprovider defines the ConfigurationProvider interface
// spec.md §4.6 treats as an external collaborator, plus the one concrete
// implementation (PollingProvider) that lets core.Core run end-to-end in
// tests and the demo CLI without a real cluster manager service.
package configprovider

import (
	"context"

	"github.com/nimbusdb/corekit/topology"
)

// ConfigurationProvider is the source of cluster topology a Core
// reconciles against.
type ConfigurationProvider interface {
	// Configs returns a channel emitting cluster configuration snapshots
	// as they become available. An implementation may hand each caller its
	// own channel (PollingProvider does, and drops a snapshot for a
	// subscriber whose buffer is still full); closing it signals the
	// provider has shut down.
	Configs() <-chan topology.ClusterConfig
	// Config returns the most recently observed snapshot, or the zero
	// value if none has arrived yet.
	Config() topology.ClusterConfig
	// OpenBucket registers interest in bucket, causing future snapshots
	// to include its BucketConfig once available.
	OpenBucket(ctx context.Context, bucket string) error
	// CloseBucket withdraws interest in bucket.
	CloseBucket(bucket string)
	// LoadAndRefreshGlobalConfig fetches (or re-fetches) the non-bucket-
	// scoped management topology.
	LoadAndRefreshGlobalConfig(ctx context.Context) error
	// Shutdown stops background polling and closes the Configs channel.
	Shutdown()
}
