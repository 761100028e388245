package internal

import (
	"bytes"
	"encoding/binary"

	"github.com/dgryski/go-farm"
	"github.com/vmihailenco/msgpack/v5"
)

// Hash returns a compact fingerprint of args suitable for cache keys.
func Hash(args ...interface{}) []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, arg := range args {
		_ = enc.Encode(arg)
	}
	b := buf.Bytes()

	if len(b) <= 32 {
		return b
	}

	lo, hi := farm.Fingerprint128(b)

	b = b[:16]
	binary.BigEndian.PutUint64(b[:8], lo)
	binary.BigEndian.PutUint64(b[8:], hi)

	return b
}
