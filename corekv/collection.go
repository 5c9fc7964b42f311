// Package corekv implements the key-value request framing layer: opaque
// allocation (inherited from corereq.BaseRequest), partition binding,
// collection prefixing, and the 250-byte key length invariant.
package corekv

import "fmt"

// CollectionIdentifier names a bucket plus optional scope and collection.
// The zero-value Scope/Collection means "default scope"/"default
// collection".
type CollectionIdentifier struct {
	Bucket     string
	Scope      string
	Collection string
}

// IsDefault reports whether c refers to the default scope and
// collection.
func (c CollectionIdentifier) IsDefault() bool {
	return (c.Scope == "" || c.Scope == "_default") && (c.Collection == "" || c.Collection == "_default")
}

func (c CollectionIdentifier) scopeName() string {
	if c.Scope == "" {
		return "_default"
	}
	return c.Scope
}

func (c CollectionIdentifier) collectionName() string {
	if c.Collection == "" {
		return "_default"
	}
	return c.Collection
}

// String renders "scope.collection" with defaults filled in, matching
// the service_context() rendering from spec.md §4.5.
func (c CollectionIdentifier) String() string {
	return fmt.Sprintf("%s.%s", c.scopeName(), c.collectionName())
}

// ChannelContext is the per-connection view a request's key encoding
// needs: whether collections are enabled on this channel, and if so, the
// numeric prefix negotiated for each known collection.
type ChannelContext interface {
	CollectionsEnabled() bool
	// CollectionPrefix returns the per-channel numeric prefix for id, or
	// ok=false if the channel has not (yet) resolved that collection.
	CollectionPrefix(id CollectionIdentifier) (prefix []byte, ok bool)
}

// MaxKeyLength is the wire-mandated ceiling on prefix+key length,
// spec.md §3/§4.5's "len(collection_prefix) + len(key) ≤ 250".
const MaxKeyLength = 250
