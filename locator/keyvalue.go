package locator

import (
	"hash/crc32"

	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corekv"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

// KeyValueLocator routes KeyValueRequests by partition hash: CRC32(key)
// mod the bucket's vbucket count, per spec.md §4.2. No externally
// mandated partitioning scheme is in play in this module, so the
// spec-suggested CRC32 fallback is used directly.
type KeyValueLocator struct{}

// NewKeyValueLocator returns the module's KV locator.
func NewKeyValueLocator() *KeyValueLocator {
	return &KeyValueLocator{}
}

// PartitionFor computes the vbucket a key hashes to under numVBuckets.
func PartitionFor(key string, numVBuckets uint32) uint32 {
	if numVBuckets == 0 {
		return 0
	}
	return crc32.ChecksumIEEE([]byte(key)) % numVBuckets
}

func (l *KeyValueLocator) Dispatch(req corereq.Request, dc DispatchContext) {
	kvReq, ok := req.(*corekv.KeyValueRequest)
	if !ok {
		log.Errorf("KeyValueLocator received non-KV request %s", req.OperationID())
		req.Cancel(corereq.CancelRetriedElsewhere)
		return
	}

	bucketConfig, ok := dc.Config.Buckets[kvReq.Collection().Bucket]
	if !ok {
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException,
			"no bucket config for "+kvReq.Collection().Bucket), dc)
		return
	}

	partition := PartitionFor(kvReq.Key(), bucketConfig.NumVBuckets)
	kvReq.SetPartition(uint16(partition))

	nodeInfo, ok := bucketConfig.NodeForPartition(partition)
	if !ok {
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException, "no node owns partition"), dc)
		return
	}

	liveNode := findLiveNode(dc.Nodes, nodeInfo.Identifier)
	if liveNode == nil {
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException, "node not yet registered: "+nodeInfo.Identifier), dc)
		return
	}

	svc, ok := liveNode.Service(svctype.KeyValue, bucketConfig.Name())
	if !ok {
		retryOrCancel(req, corectx.NewError(corectx.KindConfigException, "kv service not enabled on "+nodeInfo.Identifier), dc)
		return
	}

	req.MarkDispatched()
	svc.Send(req)
}
