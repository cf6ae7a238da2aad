package random

import (
	crand "crypto/rand"
	"encoding/binary"
)

func RandBytes(sz int) []byte {
	data := make([]byte, sz)
	if _, err := crand.Read(data); err != nil {
		panic(err)
	}
	return data
}

func RandUint64() uint64 {
	return binary.BigEndian.Uint64(RandBytes(8))
}
