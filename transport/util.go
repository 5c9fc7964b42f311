package transport

import (
	"encoding/binary"
	"io"
)

// readFull reads exactly len(buf) bytes from r.
func readFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}

func beUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
