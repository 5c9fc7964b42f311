// Package topology carries the cluster configuration data model: value
// objects describing the nodes and ports the configuration provider
// emits, consumed by the reconciler and the locators.
package topology

import "github.com/nimbusdb/corekit/svctype"

// AlternateAddress is a per-node, network-visible hostname and port map
// for clients reached through NAT or a different network segment.
type AlternateAddress struct {
	Hostname string
	Ports    map[svctype.ServiceType]uint16
}

// NodeInfo is a single node entry inside a BucketConfig or GlobalConfig:
// identifier, hostname, per-service ports (plain and TLS), and an
// optional alternate-address table.
type NodeInfo struct {
	Identifier  string
	Hostname    string
	Ports       map[svctype.ServiceType]uint16
	TLSPorts    map[svctype.ServiceType]uint16
	Alternate   map[string]AlternateAddress // keyed by alternate network name
	HostsBucket bool                        // whether this node hosts the owning bucket's views service
	AnalyticsOn bool                        // whether this node has analytics enabled
}

// EffectiveHostAndPorts resolves the host and the service->port map this
// client should use for n, honoring alternateNetwork and useTLS. An
// empty alternateNetwork means "use the primary address".
func (n NodeInfo) EffectiveHostAndPorts(alternateNetwork string, useTLS bool) (host string, ports map[svctype.ServiceType]uint16) {
	if alternateNetwork != "" {
		if alt, ok := n.Alternate[alternateNetwork]; ok {
			return alt.Hostname, alt.Ports
		}
	}
	if useTLS {
		return n.Hostname, n.TLSPorts
	}
	return n.Hostname, n.Ports
}

// BucketConfig is a snapshot of one bucket's topology.
type BucketConfig struct {
	BucketName string
	NodeInfos  []NodeInfo
	NumVBuckets uint32
	// VBucketMap maps vbucket index -> owning node index into NodeInfos.
	VBucketMap []int
}

func (b BucketConfig) Name() string        { return b.BucketName }
func (b BucketConfig) Nodes() []NodeInfo   { return b.NodeInfos }

// NodeForPartition resolves the NodeInfo that owns partition p, or false
// if the map does not cover it.
func (b BucketConfig) NodeForPartition(p uint32) (NodeInfo, bool) {
	if len(b.VBucketMap) == 0 {
		return NodeInfo{}, false
	}
	idx := b.VBucketMap[int(p)%len(b.VBucketMap)]
	if idx < 0 || idx >= len(b.NodeInfos) {
		return NodeInfo{}, false
	}
	return b.NodeInfos[idx], true
}

// GlobalConfig is the cluster-wide (non-bucket-scoped) topology, e.g. the
// management service's node list.
type GlobalConfig struct {
	NodeInfos []NodeInfo
}

func (g GlobalConfig) PortInfos() []NodeInfo { return g.NodeInfos }

// ClusterConfig is the atomic, immutable snapshot handed to the
// reconciler and shared freely by readers: a map of bucket name to
// BucketConfig plus an optional GlobalConfig.
type ClusterConfig struct {
	Buckets map[string]BucketConfig
	Global  *GlobalConfig
}

// IsEmpty reports whether this snapshot has no buckets and no global
// config, the "disconnect-all" trigger from spec.md §4.3 step 1.
func (c ClusterConfig) IsEmpty() bool {
	return len(c.Buckets) == 0 && c.Global == nil
}
