package wire

import (
	"encoding/binary"
	"fmt"
)

// Bit flags marking which optional Frame fields are present, following
// the flags-byte technique this module's binary codec has always used
// for compact request/response framing.
const (
	hasStatus byte = 1 << 0
	hasBody   byte = 1 << 1
)

// NewBinaryCodec returns a Codec using a fixed-header, flag-prefixed
// binary layout: 4-byte opaque, 1-byte flags, then optional 2-byte
// status and length-prefixed body.
func NewBinaryCodec() Codec {
	return binaryCodec{}
}

type binaryCodec struct{}

func (binaryCodec) Encode(f Frame) ([]byte, error) {
	size := 4 + 1 // opaque + flags
	var flags byte
	if f.Status != 0 {
		flags |= hasStatus
		size += 2
	}
	if f.Body != nil {
		flags |= hasBody
		size += 4 + len(f.Body)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], f.Opaque)
	buf[4] = flags
	pos := 5

	if flags&hasStatus != 0 {
		binary.BigEndian.PutUint16(buf[pos:pos+2], f.Status)
		pos += 2
	}
	if flags&hasBody != 0 {
		binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(f.Body)))
		pos += 4
		copy(buf[pos:], f.Body)
		pos += len(f.Body)
	}

	return buf, nil
}

func (binaryCodec) Decode(data []byte) (Frame, error) {
	if len(data) < 5 {
		return Frame{}, fmt.Errorf("wire: frame too short for header")
	}

	var f Frame
	f.Opaque = binary.BigEndian.Uint32(data[0:4])
	flags := data[4]
	pos := 5

	if flags&hasStatus != 0 {
		if pos+2 > len(data) {
			return Frame{}, fmt.Errorf("wire: frame too short for status")
		}
		f.Status = binary.BigEndian.Uint16(data[pos : pos+2])
		pos += 2
	}

	if flags&hasBody != 0 {
		if pos+4 > len(data) {
			return Frame{}, fmt.Errorf("wire: frame too short for body length")
		}
		bodyLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if pos+int(bodyLen) > len(data) {
			return Frame{}, fmt.Errorf("wire: frame too short for body")
		}
		f.Body = make([]byte, bodyLen)
		copy(f.Body, data[pos:pos+int(bodyLen)])
		pos += int(bodyLen)
	}

	return f, nil
}

// WriteFrame encodes f and length-prefixes it for a stream transport.
func WriteFrame(codec Codec, f Frame) ([]byte, error) {
	body, err := codec.Encode(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}
