package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCommandAck(t *testing.T) {
	require := require.New(t)

	t.Run("Full Payload", func(t *testing.T) {
		payload := []byte{
			0x34, 0x12, // acked seq
			0x01, 0x00, // cmd id SET_RELAY
			0x03,       // status BUSY
			0xCD, 0xAB, // detail
			0xDE, 0xAD, // data
		}

		ack, err := DecodeCommandAck(payload)
		require.NoError(err)
		require.Equal(uint16(0x1234), ack.AckedSeq)
		require.Equal(CmdSetRelay, ack.CmdID)
		require.Equal(AckBusy, ack.Status)
		require.Equal(uint16(0xABCD), ack.Detail)
		require.Equal([]byte{0xDE, 0xAD}, ack.Data)
	})

	t.Run("No Data Block", func(t *testing.T) {
		ack, err := DecodeCommandAck([]byte{0x01, 0x00, 0x30, 0x00, 0x00, 0x00, 0x00})
		require.NoError(err)
		require.Equal(uint16(1), ack.AckedSeq)
		require.Equal(CmdRequestSnapshot, ack.CmdID)
		require.Equal(AckOK, ack.Status)
		require.Nil(ack.Data)
	})

	t.Run("Truncated", func(t *testing.T) {
		for size := 0; size < ackHeaderLen; size++ {
			_, err := DecodeCommandAck(make([]byte, size))
			require.ErrorIs(err, ErrPayloadTruncated, "size %d", size)
		}
	})

	t.Run("Round Trip", func(t *testing.T) {
		orig := &CommandAck{
			AckedSeq: 0xFFFE,
			CmdID:    CmdStartRun,
			Status:   AckRejectedPolicy,
			Detail:   7,
			Data:     []byte{1, 2, 3, 4},
		}

		decoded, err := DecodeCommandAck(orig.EncodePayload())
		require.NoError(err)
		require.Equal(orig, decoded)
	})
}

func TestAckStatusErr(t *testing.T) {
	require := require.New(t)

	require.NoError(AckOK.Err())
	require.ErrorIs(AckRejectedPolicy.Err(), ErrRejectedPolicy)
	require.ErrorIs(AckInvalidArgs.Err(), ErrInvalidArgs)
	require.ErrorIs(AckBusy.Err(), ErrBusy)
	require.ErrorIs(AckHwFault.Err(), ErrHwFault)
	require.ErrorIs(AckNotReady.Err(), ErrNotReady)
	require.ErrorIs(AckTimeoutDownstream.Err(), ErrTimeoutDownstream)

	// unknown refusal codes must not pass as success
	require.ErrorIs(AckStatus(200).Err(), ErrRejectedPolicy)
}

func TestSessionGrant(t *testing.T) {
	require := require.New(t)

	t.Run("Valid Grant", func(t *testing.T) {
		ack := &CommandAck{
			AckedSeq: 1,
			CmdID:    CmdOpenSession,
			Status:   AckOK,
			Data:     EncodeSessionGrant(0xCAFEF00D, 3000),
		}

		grant, err := ack.SessionGrant()
		require.NoError(err)
		require.Equal(uint32(0xCAFEF00D), grant.SessionID)
		require.Equal(uint16(3000), grant.LeaseMs)
	})

	t.Run("Wrong Command", func(t *testing.T) {
		ack := &CommandAck{CmdID: CmdKeepalive, Status: AckOK, Data: EncodeSessionGrant(1, 3000)}
		_, err := ack.SessionGrant()
		require.ErrorIs(err, ErrNoSessionGrant)
	})

	t.Run("Refused Open", func(t *testing.T) {
		ack := &CommandAck{CmdID: CmdOpenSession, Status: AckBusy, Data: EncodeSessionGrant(1, 3000)}
		_, err := ack.SessionGrant()
		require.ErrorIs(err, ErrNoSessionGrant)
	})

	t.Run("Short Data", func(t *testing.T) {
		ack := &CommandAck{CmdID: CmdOpenSession, Status: AckOK, Data: []byte{1, 2, 3, 4, 5}}
		_, err := ack.SessionGrant()
		require.ErrorIs(err, ErrNoSessionGrant)
	})
}
