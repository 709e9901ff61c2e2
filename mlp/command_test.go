package mlp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		description string
		cmd         Command
		expected    []byte
	}{
		{
			description: "OPEN_SESSION",
			cmd:         &OpenSession{ClientNonce: 0xDEADBEEF},
			expected:    []byte{0x00, 0x01, 0x00, 0x00, 0xEF, 0xBE, 0xAD, 0xDE},
		},
		{
			description: "KEEPALIVE",
			cmd:         &Keepalive{SessionID: 0x11223344},
			expected:    []byte{0x01, 0x01, 0x00, 0x00, 0x44, 0x33, 0x22, 0x11},
		},
		{
			description: "START_RUN dry",
			cmd:         &StartRun{SessionID: 0x01020304, Mode: RunModeDry},
			expected:    []byte{0x02, 0x01, 0x00, 0x00, 0x04, 0x03, 0x02, 0x01, 0x01},
		},
		{
			description: "STOP_RUN immediate",
			cmd:         &StopRun{SessionID: 0x01020304, Mode: StopModeImmediate},
			expected:    []byte{0x03, 0x01, 0x00, 0x00, 0x04, 0x03, 0x02, 0x01, 0x01},
		},
		{
			description: "PAUSE_RUN",
			cmd:         &PauseRun{SessionID: 5},
			expected:    []byte{0x04, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00},
		},
		{
			description: "SET_RELAY on",
			cmd:         &SetRelay{Index: 3, On: true},
			expected:    []byte{0x01, 0x00, 0x00, 0x00, 0x03, 0x01},
		},
		{
			description: "SET_RELAY off",
			cmd:         &SetRelay{Index: 8, On: false},
			expected:    []byte{0x01, 0x00, 0x00, 0x00, 0x08, 0x00},
		},
		{
			description: "SET_RELAY_MASK",
			cmd:         &SetRelayMask{Mask: 0xA1, Values: 0x20},
			expected:    []byte{0x02, 0x00, 0x00, 0x00, 0xA1, 0x20},
		},
		{
			description: "SET_SV negative setpoint",
			cmd:         &SetSV{Controller: 2, SVx10: -1964},
			expected:    []byte{0x20, 0x00, 0x00, 0x00, 0x02, 0x54, 0xF8},
		},
		{
			description: "SET_MODE",
			cmd:         &SetMode{Controller: 1, Mode: ControllerRun},
			expected:    []byte{0x21, 0x00, 0x00, 0x00, 0x01, 0x01},
		},
		{
			description: "REQUEST_PV_SV_REFRESH",
			cmd:         &RequestPVSVRefresh{Controller: 0},
			expected:    []byte{0x22, 0x00, 0x00, 0x00, 0x00},
		},
		{
			description: "REQUEST_SNAPSHOT_NOW",
			cmd:         &RequestSnapshot{},
			expected:    []byte{0x30, 0x00, 0x00, 0x00},
		},
		{
			description: "CLEAR_WARNINGS",
			cmd:         &ClearWarnings{},
			expected:    []byte{0x31, 0x00, 0x00, 0x00},
		},
		{
			description: "CLEAR_LATCHED_ALARMS",
			cmd:         &ClearLatchedAlarms{},
			expected:    []byte{0x32, 0x00, 0x00, 0x00},
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			payload, err := EncodeCommand(test.cmd, 0)
			require.NoError(t, err)
			require.Equal(t, test.expected, payload)
		})
	}
}

func TestEncodeCommandFlags(t *testing.T) {
	require := require.New(t)

	payload, err := EncodeCommand(&RequestSnapshot{}, 0xABCD)
	require.NoError(err)
	require.Equal([]byte{0x30, 0x00, 0xCD, 0xAB}, payload)
}

func TestCommandValidation(t *testing.T) {
	require := require.New(t)

	_, err := EncodeCommand(&SetRelay{Index: 0, On: true}, 0)
	require.ErrorIs(err, ErrRelayIndex)

	_, err = EncodeCommand(&SetRelay{Index: 9, On: true}, 0)
	require.ErrorIs(err, ErrRelayIndex)

	for index := uint8(1); index <= 8; index++ {
		_, err := EncodeCommand(&SetRelay{Index: index}, 0)
		require.NoError(err, "index %d", index)
	}
}

func TestCommandIDNeedsSession(t *testing.T) {
	require := require.New(t)

	ids := []CommandID{
		CmdSetRelay, CmdSetRelayMask, CmdSetSV, CmdSetMode, CmdRequestPVSVRefresh,
		CmdRequestSnapshot, CmdClearWarnings, CmdClearLatchedAlarms,
		CmdKeepalive, CmdStartRun, CmdStopRun, CmdPauseRun,
	}
	for _, id := range ids {
		require.True(id.NeedsSession(), "%s", id)
	}

	require.False(CmdOpenSession.NeedsSession())
}

func TestCommandIDString(t *testing.T) {
	require := require.New(t)

	require.Equal("SET_RELAY", CmdSetRelay.String())
	require.Equal("OPEN_SESSION", CmdOpenSession.String())
	require.Equal("CLEAR_LATCHED_ALARMS", CmdClearLatchedAlarms.String())
	require.Equal("unknown(0x7f7f)", CommandID(0x7F7F).String())
}
