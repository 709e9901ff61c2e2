package mlpclient

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// seqGenerator generates frame sequence numbers for one connection.
//
// It uses a cryptographically secure random number generator to initialize
// the starting value and atomically increments it to ensure uniqueness in
// concurrent environments, wrapping at 16 bits.
type seqGenerator struct {
	seq atomic.Uint32
}

func newSeqGenerator() *seqGenerator {
	inst := &seqGenerator{}
	var buf [4]byte
	_, err := io.ReadFull(rand.Reader, buf[:])
	if err != nil {
		return inst
	}
	inst.seq.Store(binary.LittleEndian.Uint32(buf[:]))

	return inst
}

func (g *seqGenerator) next() uint16 {
	return uint16(g.seq.Add(1)) //nolint:gosec
}
