package configprovider

import (
	"github.com/nimbusdb/corekit/svctype"
	"github.com/nimbusdb/corekit/topology"
)

// configDoc is the wire shape of one manager-service configuration
// document: every bucket's topology plus, optionally, the global
// (non-bucket-scoped) node list.
type configDoc struct {
	Buckets []bucketDoc `json:"buckets"`
	Global  *globalDoc  `json:"global,omitempty"`
}

type bucketDoc struct {
	Name        string    `json:"name"`
	NumVBuckets uint32    `json:"numVBuckets"`
	VBucketMap  []int     `json:"vBucketMap"`
	Nodes       []nodeDoc `json:"nodes"`
}

type globalDoc struct {
	Nodes []nodeDoc `json:"nodes"`
}

type nodeDoc struct {
	Identifier  string            `json:"identifier"`
	Hostname    string            `json:"hostname"`
	Ports       map[string]uint16 `json:"ports"`
	TLSPorts    map[string]uint16 `json:"tlsPorts"`
	Alternate   map[string]struct {
		Hostname string            `json:"hostname"`
		Ports    map[string]uint16 `json:"ports"`
	} `json:"alternate,omitempty"`
	HostsBucket bool `json:"hostsBucket"`
	AnalyticsOn bool `json:"analyticsOn"`
}

func (d nodeDoc) toNodeInfo() topology.NodeInfo {
	n := topology.NodeInfo{
		Identifier:  d.Identifier,
		Hostname:    d.Hostname,
		Ports:       convertPorts(d.Ports),
		TLSPorts:    convertPorts(d.TLSPorts),
		HostsBucket: d.HostsBucket,
		AnalyticsOn: d.AnalyticsOn,
	}
	if len(d.Alternate) > 0 {
		n.Alternate = make(map[string]topology.AlternateAddress, len(d.Alternate))
		for name, alt := range d.Alternate {
			n.Alternate[name] = topology.AlternateAddress{
				Hostname: alt.Hostname,
				Ports:    convertPorts(alt.Ports),
			}
		}
	}
	return n
}

func convertPorts(in map[string]uint16) map[svctype.ServiceType]uint16 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[svctype.ServiceType]uint16, len(in))
	for name, port := range in {
		st, ok := svctype.ParseServiceType(name)
		if !ok {
			continue
		}
		out[st] = port
	}
	return out
}

func (d configDoc) toClusterConfig() topology.ClusterConfig {
	cc := topology.ClusterConfig{Buckets: make(map[string]topology.BucketConfig, len(d.Buckets))}
	for _, b := range d.Buckets {
		nodes := make([]topology.NodeInfo, 0, len(b.Nodes))
		for _, n := range b.Nodes {
			nodes = append(nodes, n.toNodeInfo())
		}
		cc.Buckets[b.Name] = topology.BucketConfig{
			BucketName:  b.Name,
			NodeInfos:   nodes,
			NumVBuckets: b.NumVBuckets,
			VBucketMap:  b.VBucketMap,
		}
	}
	if d.Global != nil {
		nodes := make([]topology.NodeInfo, 0, len(d.Global.Nodes))
		for _, n := range d.Global.Nodes {
			nodes = append(nodes, n.toNodeInfo())
		}
		cc.Global = &topology.GlobalConfig{NodeInfos: nodes}
	}
	return cc
}
