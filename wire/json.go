package wire

import "encoding/json"

// JSONCodec wraps encoding/json for the configuration provider's cluster
// config documents. No ecosystem JSON-streaming or acceleration library
// appears anywhere in this module's dependency corpus, so the standard
// library decoder is used here without a substitute.
type JSONCodec struct{}

// Decode unmarshals data into v.
func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Encode marshals v.
func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
