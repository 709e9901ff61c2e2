package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	require := require.New(t)

	t.Run("With Data", func(t *testing.T) {
		ev, err := DecodeEvent([]byte{0x10, 0x27, 0x02, 0x05, 0xAA, 0xBB})
		require.NoError(err)
		require.Equal(uint16(10000), ev.ID)
		require.Equal(SeverityAlarm, ev.Severity)
		require.Equal(uint8(5), ev.Source)
		require.Equal([]byte{0xAA, 0xBB}, ev.Data)
	})

	t.Run("Header Only", func(t *testing.T) {
		ev, err := DecodeEvent([]byte{0x01, 0x00, 0x00, 0x02})
		require.NoError(err)
		require.Equal(uint16(1), ev.ID)
		require.Equal(SeverityInfo, ev.Severity)
		require.Equal(uint8(2), ev.Source)
		require.Nil(ev.Data)
	})

	t.Run("Truncated", func(t *testing.T) {
		for size := 0; size < eventHeaderLen; size++ {
			_, err := DecodeEvent(make([]byte, size))
			require.ErrorIs(err, ErrPayloadTruncated, "size %d", size)
		}
	})

	t.Run("Round Trip", func(t *testing.T) {
		orig := &Event{ID: 0xFFFF, Severity: SeverityCritical, Source: 9, Data: []byte{1}}
		decoded, err := DecodeEvent(orig.EncodePayload())
		require.NoError(err)
		require.Equal(orig, decoded)
	})
}

func TestSeverityString(t *testing.T) {
	require := require.New(t)

	require.Equal("INFO", SeverityInfo.String())
	require.Equal("WARN", SeverityWarn.String())
	require.Equal("ALARM", SeverityAlarm.String())
	require.Equal("CRITICAL", SeverityCritical.String())
	require.Equal("unknown(17)", Severity(17).String())
}
