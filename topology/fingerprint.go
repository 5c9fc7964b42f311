package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a stable hash of c's contents, used by the
// reconciler to skip a reconciliation pass when a newly emitted config is
// byte-identical to the one already converged on. Field order in the
// hashed representation is sorted so that two ClusterConfig values built
// from the same underlying data hash equal regardless of map iteration
// order.
func (c ClusterConfig) Fingerprint() uint64 {
	var sb strings.Builder

	bucketNames := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		bucketNames = append(bucketNames, name)
	}
	sort.Strings(bucketNames)

	for _, name := range bucketNames {
		b := c.Buckets[name]
		sb.WriteString("bucket:")
		sb.WriteString(name)
		sb.WriteString(";vbuckets:")
		sb.WriteString(strconv.Itoa(int(b.NumVBuckets)))
		fmt.Fprintf(&sb, ";vbmap:%v", b.VBucketMap)
		writeNodeInfos(&sb, b.NodeInfos)
	}

	if c.Global != nil {
		sb.WriteString("global;")
		writeNodeInfos(&sb, c.Global.NodeInfos)
	}

	return xxhash.Sum64String(sb.String())
}

func writeNodeInfos(sb *strings.Builder, nodes []NodeInfo) {
	sorted := make([]NodeInfo, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identifier < sorted[j].Identifier })

	for _, n := range sorted {
		sb.WriteString("node:")
		sb.WriteString(n.Identifier)
		sb.WriteString(",host:")
		sb.WriteString(n.Hostname)

		ports := make([]string, 0, len(n.Ports))
		for st, p := range n.Ports {
			ports = append(ports, st.String()+"="+strconv.Itoa(int(p)))
		}
		sort.Strings(ports)
		sb.WriteString(",ports:")
		sb.WriteString(strings.Join(ports, ","))
		// fmt prints map keys in sorted order, so these stay deterministic.
		fmt.Fprintf(sb, ",tls:%v,alt:%v,flags:%t/%t", n.TLSPorts, n.Alternate, n.HostsBucket, n.AnalyticsOn)
		sb.WriteString(";")
	}
}
