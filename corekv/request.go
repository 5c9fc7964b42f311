package corekv

import (
	"fmt"
	"time"

	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/corereq"
	"github.com/nimbusdb/corekit/svctype"
)

// DurabilityAware is implemented by KeyValueRequest subtypes that carry a
// synchronous durability requirement, probed by ServiceContext the way
// the original probes for a SyncDurabilityRequest interface.
type DurabilityAware interface {
	DurabilityLevel() (level string, ok bool)
}

// KeyValueRequest is the corereq.Request subtype spec.md §3 describes:
// encoded key bytes, a collection identifier, and a partition bound by
// the KV locator immediately before dispatch.
type KeyValueRequest struct {
	*corereq.BaseRequest

	key        string
	encodedKey []byte
	collection CollectionIdentifier

	partitionSet bool
	partition    uint16
}

// NewKeyValueRequest constructs a KeyValueRequest in state Pending. The
// key is UTF-8 encoded immediately; a nil or empty key encodes to an
// empty byte slice, matching spec.md §4.5.
func NewKeyValueRequest(
	timeout time.Duration,
	retry corereq.RetryStrategy,
	key string,
	collection CollectionIdentifier,
	span corereq.Span,
	sink corereq.CompletionSink,
) *KeyValueRequest {
	return &KeyValueRequest{
		BaseRequest: corereq.NewBaseRequest(svctype.KeyValue, timeout, retry, span, sink),
		key:         key,
		encodedKey:  []byte(key),
		collection:  collection,
	}
}

// Key returns the request's plain-text key.
func (r *KeyValueRequest) Key() string { return r.key }

// Collection returns the request's collection identifier.
func (r *KeyValueRequest) Collection() CollectionIdentifier { return r.collection }

// SetPartition binds the vbucket this request has been routed to. It may
// only be called by a locator, immediately before dispatch.
func (r *KeyValueRequest) SetPartition(p uint16) {
	r.partition = p
	r.partitionSet = true
}

// Partition returns the bound partition, or (0, false) if the request has
// not yet been dispatched.
func (r *KeyValueRequest) Partition() (uint16, bool) {
	return r.partition, r.partitionSet
}

// EncodedKeyWithCollection implements spec.md §4.5's
// encoded_key_with_collection: resolve this request's key plus the
// channel's negotiated collection prefix (if collections are enabled),
// enforcing the combined 250-byte ceiling.
func (r *KeyValueRequest) EncodedKeyWithCollection(ch ChannelContext) ([]byte, error) {
	if ch.CollectionsEnabled() {
		prefix, ok := ch.CollectionPrefix(r.collection)
		if !ok {
			return nil, corectx.NewError(corectx.KindCollectionNotFound,
				fmt.Sprintf("collection not found: %s", r.collection))
		}
		if err := checkKeyLength(len(prefix) + len(r.encodedKey)); err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(prefix)+len(r.encodedKey))
		out = append(out, prefix...)
		out = append(out, r.encodedKey...)
		return out, nil
	}

	if r.collection.IsDefault() {
		if err := checkKeyLength(len(r.encodedKey)); err != nil {
			return nil, err
		}
		return r.encodedKey, nil
	}

	return nil, corectx.NewError(corectx.KindFeatureNotAvailable,
		"collections are not enabled on this channel but a non-default collection was requested")
}

func checkKeyLength(total int) error {
	if total > MaxKeyLength {
		return corectx.NewError(corectx.KindInvalidArgument,
			fmt.Sprintf("encoded key length %d exceeds maximum of %d bytes", total, MaxKeyLength))
	}
	return nil
}

// ServiceContext reports the redacted diagnostic map spec.md §4.5
// describes: service type, opaque as hex, bucket/scope/collection with
// defaults filled in, the document id wrapped in <ud></ud> user-data
// redaction tags, and durability level if the request carries one.
// self is passed separately because Go embedding does not let
// KeyValueRequest recover its own concrete type for the DurabilityAware
// probe.
func (r *KeyValueRequest) ServiceContext(self corereq.Request) map[string]string {
	ctx := map[string]string{
		"service":    svctype.KeyValue.String(),
		"opaque":     fmt.Sprintf("0x%x", r.Opaque()),
		"bucket":     r.collection.Bucket,
		"scope":      r.collection.scopeName(),
		"collection": r.collection.collectionName(),
		"documentId": "<ud>" + r.key + "</ud>",
	}
	if aware, ok := self.(DurabilityAware); ok {
		if level, ok := aware.DurabilityLevel(); ok {
			ctx["durability"] = level
		}
	}
	return ctx
}
