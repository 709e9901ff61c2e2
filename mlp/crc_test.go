package mlp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// crc16Bitwise is a bit-at-a-time reference implementation used to verify the
// table-driven one.
func crc16Bitwise(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}

func TestCRC16(t *testing.T) {
	require := require.New(t)

	t.Run("Check Value", func(t *testing.T) {
		// canonical CRC-16/CCITT-FALSE check value
		require.Equal(uint16(0x29B1), CRC16([]byte("123456789")))
	})

	t.Run("Empty Input", func(t *testing.T) {
		require.Equal(uint16(0xFFFF), CRC16(nil))
		require.Equal(uint16(0xFFFF), CRC16([]byte{}))
	})

	t.Run("Matches Bitwise Reference", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 200; i++ {
			data := make([]byte, rng.Intn(256))
			rng.Read(data)
			require.Equal(crc16Bitwise(data), CRC16(data), "input: %x", data)
		}
	})

	t.Run("Incremental Update", func(t *testing.T) {
		data := []byte("cryogrind mill link")
		for split := 0; split <= len(data); split++ {
			crc := UpdateCRC16(crcInit, data[:split])
			crc = UpdateCRC16(crc, data[split:])
			require.Equal(CRC16(data), crc)
		}
	})

	t.Run("Single Bit Sensitivity", func(t *testing.T) {
		data := []byte{0x01, 0x10, 0x34, 0x12, 0x02, 0x00, 0xAB, 0xCD}
		ref := CRC16(data)
		for i := range data {
			for bit := 0; bit < 8; bit++ {
				corrupted := append([]byte(nil), data...)
				corrupted[i] ^= 1 << bit
				require.NotEqual(ref, CRC16(corrupted), "byte %d bit %d", i, bit)
			}
		}
	})
}
