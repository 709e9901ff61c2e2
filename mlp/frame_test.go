package mlp

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	require := require.New(t)

	t.Run("Header Layout", func(t *testing.T) {
		data, err := EncodeFrame(MsgTypeCommand, 0x1234, []byte{0xAB, 0xCD})
		require.NoError(err)
		require.Len(data, HeaderLen+2+2)

		require.Equal([]byte{0x01, 0x10, 0x34, 0x12, 0x02, 0x00, 0xAB, 0xCD}, data[:8])

		crc := binary.LittleEndian.Uint16(data[8:10])
		require.Equal(CRC16(data[:8]), crc)
	})

	t.Run("Empty Payload", func(t *testing.T) {
		data, err := EncodeFrame(MsgTypeTelemetry, 0, nil)
		require.NoError(err)
		require.Len(data, MinFrameLen)
		require.Equal([]byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x00}, data[:HeaderLen])
	})

	t.Run("Payload Bounds", func(t *testing.T) {
		_, err := EncodeFrame(MsgTypeCommand, 1, make([]byte, MaxPayloadLen))
		require.NoError(err)

		_, err = EncodeFrame(MsgTypeCommand, 1, make([]byte, MaxPayloadLen+1))
		require.ErrorIs(err, ErrPayloadTooLarge)
	})
}

func TestDecodeFrame(t *testing.T) {
	require := require.New(t)

	valid, err := EncodeFrame(MsgTypeEvent, 0xBEEF, []byte{0x10, 0x20, 0x30})
	require.NoError(err)

	t.Run("Valid Frame", func(t *testing.T) {
		frame, err := DecodeFrame(valid)
		require.NoError(err)
		require.Equal(ProtoVersion, frame.Version)
		require.Equal(MsgTypeEvent, frame.Type)
		require.Equal(uint16(0xBEEF), frame.Seq)
		require.Equal([]byte{0x10, 0x20, 0x30}, frame.Payload)
	})

	t.Run("Payload Is Owned", func(t *testing.T) {
		buf := append([]byte(nil), valid...)
		frame, err := DecodeFrame(buf)
		require.NoError(err)

		for i := range buf {
			buf[i] = 0xEE
		}
		require.Equal([]byte{0x10, 0x20, 0x30}, frame.Payload)
	})

	t.Run("Too Short", func(t *testing.T) {
		for size := 0; size < MinFrameLen; size++ {
			_, err := DecodeFrame(valid[:size])
			require.ErrorIs(err, ErrFrameTooShort, "size %d", size)
		}
	})

	t.Run("Length Mismatch", func(t *testing.T) {
		// trailing garbage after a complete frame
		_, err := DecodeFrame(append(append([]byte(nil), valid...), 0x00))
		require.ErrorIs(err, ErrFrameLengthMismatch)

		// truncated payload with the declared length intact
		_, err = DecodeFrame(valid[:len(valid)-1])
		require.ErrorIs(err, ErrFrameLengthMismatch)

		// declared length beyond MaxPayloadLen
		huge := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint16(huge[4:6], MaxPayloadLen+1)
		_, err = DecodeFrame(huge)
		require.ErrorIs(err, ErrFrameLengthMismatch)
	})

	t.Run("CRC Failure", func(t *testing.T) {
		corrupted := append([]byte(nil), valid...)
		corrupted[HeaderLen] ^= 0x01
		_, err := DecodeFrame(corrupted)
		require.ErrorIs(err, ErrFrameCRC)
	})

	t.Run("Version Mismatch", func(t *testing.T) {
		// bump the version and fix the CRC up so only the version check fails
		other := append([]byte(nil), valid...)
		other[0] = 2
		crc := CRC16(other[:len(other)-crcLen])
		binary.LittleEndian.PutUint16(other[len(other)-crcLen:], crc)

		_, err := DecodeFrame(other)
		require.ErrorIs(err, ErrFrameVersion)
	})

	t.Run("Any Corrupted Byte Fails", func(t *testing.T) {
		for i := range valid {
			corrupted := append([]byte(nil), valid...)
			corrupted[i] ^= 0xFF
			_, err := DecodeFrame(corrupted)
			require.Error(err, "byte %d", i)
		}
	})
}

func TestFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	rng := rand.New(rand.NewSource(42))

	payloads := [][]byte{
		nil,
		{},
		{0x00},
		make([]byte, MaxPayloadLen),
	}
	for i := 0; i < 50; i++ {
		payload := make([]byte, rng.Intn(MaxPayloadLen+1))
		rng.Read(payload)
		payloads = append(payloads, payload)
	}

	for _, payload := range payloads {
		msgType := MsgType(rng.Intn(256))
		seq := uint16(rng.Intn(1 << 16))

		data, err := EncodeFrame(msgType, seq, payload)
		require.NoError(err)

		frame, err := DecodeFrame(data)
		require.NoError(err)
		require.Equal(ProtoVersion, frame.Version)
		require.Equal(msgType, frame.Type)
		require.Equal(seq, frame.Seq)
		if len(payload) == 0 {
			require.Empty(frame.Payload)
		} else {
			require.Equal(payload, frame.Payload)
		}
	}
}

func TestPayloadLen(t *testing.T) {
	require := require.New(t)

	t.Run("Valid Header", func(t *testing.T) {
		data, err := EncodeFrame(MsgTypeCommand, 7, make([]byte, 100))
		require.NoError(err)

		n, err := PayloadLen(data[:HeaderLen])
		require.NoError(err)
		require.Equal(100, n)
	})

	t.Run("Short Header", func(t *testing.T) {
		_, err := PayloadLen([]byte{0x01, 0x10, 0x00})
		require.ErrorIs(err, ErrFrameTooShort)
	})

	t.Run("Bad Version", func(t *testing.T) {
		_, err := PayloadLen([]byte{0x00, 0x10, 0x00, 0x00, 0x00, 0x00})
		require.ErrorIs(err, ErrFrameVersion)
	})

	t.Run("Oversized Declared Length", func(t *testing.T) {
		header := []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x00}
		binary.LittleEndian.PutUint16(header[4:6], MaxPayloadLen+1)
		_, err := PayloadLen(header)
		require.ErrorIs(err, ErrPayloadTooLarge)
	})
}

// FuzzDecodeFrame fuzzes the frame decoder with arbitrary byte strings.
//
// Two invariants: DecodeFrame must never panic, and any input it accepts must
// re-encode to exactly the same bytes.
func FuzzDecodeFrame(f *testing.F) {
	// Seed: valid command frame
	valid, _ := EncodeFrame(MsgTypeCommand, 0x0102, []byte{0xDE, 0xAD})
	f.Add(valid)

	// Seed: valid empty-payload telemetry frame
	empty, _ := EncodeFrame(MsgTypeTelemetry, 0, nil)
	f.Add(empty)

	// Seed: too short for a frame
	f.Add([]byte{0x01, 0x10, 0x00})

	// Seed: empty input
	f.Add([]byte{})

	// Seed: corrupted CRC
	corrupted := append([]byte(nil), valid...)
	corrupted[len(corrupted)-1] ^= 0xFF
	f.Add(corrupted)

	// Seed: declared length far beyond the actual input
	oversized := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(oversized[4:6], 0xFFFF)
	f.Add(oversized)

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := DecodeFrame(data)
		if err != nil {
			return
		}

		reencoded, err := EncodeFrame(frame.Type, frame.Seq, frame.Payload)
		if err != nil {
			t.Fatalf("re-encode of accepted frame failed: %v", err)
		}
		if string(reencoded) != string(data) {
			t.Fatalf("re-encode mismatch:\n in: %x\nout: %x", data, reencoded)
		}
	})
}
