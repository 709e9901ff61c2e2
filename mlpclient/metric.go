package mlpclient

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// FrameRecvCount indicates the number of frames decoded from the link.
	FrameRecvCount atomic.Uint64
	// FrameTooShortCount indicates the number of frames rejected as truncated.
	FrameTooShortCount atomic.Uint64
	// FrameLengthMismatchCount indicates the number of frames rejected for a
	// declared length that does not match the bytes on the wire.
	FrameLengthMismatchCount atomic.Uint64
	// FrameCRCCount indicates the number of frames rejected by the CRC check.
	FrameCRCCount atomic.Uint64
	// FrameUnexpectedCount indicates the number of structurally valid frames
	// dropped for an unknown message type or protocol version.
	FrameUnexpectedCount atomic.Uint64

	// CmdSendCount indicates the number of commands sent.
	CmdSendCount atomic.Uint64
	// CmdAckCount indicates the number of command acks matched to a pending
	// command.
	CmdAckCount atomic.Uint64
	// CmdTimeoutCount indicates the number of commands that expired without
	// an ack.
	CmdTimeoutCount atomic.Uint64
	// CmdOrphanAckCount indicates the number of acks that matched no pending
	// command.
	CmdOrphanAckCount atomic.Uint64
	// CmdInflightCount indicates the number of commands awaiting an ack.
	CmdInflightCount atomic.Int64

	// KeepaliveSendCount indicates the number of keepalives sent.
	KeepaliveSendCount atomic.Uint64
	// KeepaliveAckCount indicates the number of keepalives acknowledged.
	KeepaliveAckCount atomic.Uint64
	// KeepaliveMissCount indicates the number of keepalives that timed out.
	KeepaliveMissCount atomic.Uint64

	// TelemetryRecvCount indicates the number of telemetry snapshots decoded.
	TelemetryRecvCount atomic.Uint64
	// TelemetryDropCount indicates the number of snapshots dropped because
	// the handler queue was full.
	TelemetryDropCount atomic.Uint64

	// EventRecvCount indicates the number of device events decoded.
	EventRecvCount atomic.Uint64
	// EventDropCount indicates the number of events dropped because the
	// handler queue was full.
	EventDropCount atomic.Uint64

	// SessionExpiredCount indicates the number of session lease expiries.
	SessionExpiredCount atomic.Uint64

	// ConnRetryGauge indicates the number of connection retries.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *ConnectionMetrics) incFrameTooShortCount() {
	m.FrameTooShortCount.Add(1)
}

func (m *ConnectionMetrics) incFrameLengthMismatchCount() {
	m.FrameLengthMismatchCount.Add(1)
}

func (m *ConnectionMetrics) incFrameCRCCount() {
	m.FrameCRCCount.Add(1)
}

func (m *ConnectionMetrics) incFrameUnexpectedCount() {
	m.FrameUnexpectedCount.Add(1)
}

func (m *ConnectionMetrics) incCmdSendCount() {
	m.CmdSendCount.Add(1)
}

func (m *ConnectionMetrics) incCmdAckCount() {
	m.CmdAckCount.Add(1)
}

func (m *ConnectionMetrics) incCmdTimeoutCount() {
	m.CmdTimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incCmdOrphanAckCount() {
	m.CmdOrphanAckCount.Add(1)
}

func (m *ConnectionMetrics) incCmdInflightCount() {
	m.CmdInflightCount.Add(1)
}

func (m *ConnectionMetrics) decCmdInflightCount() {
	m.CmdInflightCount.Add(-1)
}

func (m *ConnectionMetrics) incKeepaliveSendCount() {
	m.KeepaliveSendCount.Add(1)
}

func (m *ConnectionMetrics) incKeepaliveAckCount() {
	m.KeepaliveAckCount.Add(1)
}

func (m *ConnectionMetrics) incKeepaliveMissCount() {
	m.KeepaliveMissCount.Add(1)
}

func (m *ConnectionMetrics) incTelemetryRecvCount() {
	m.TelemetryRecvCount.Add(1)
}

func (m *ConnectionMetrics) incTelemetryDropCount() {
	m.TelemetryDropCount.Add(1)
}

func (m *ConnectionMetrics) incEventRecvCount() {
	m.EventRecvCount.Add(1)
}

func (m *ConnectionMetrics) incEventDropCount() {
	m.EventDropCount.Add(1)
}

func (m *ConnectionMetrics) incSessionExpiredCount() {
	m.SessionExpiredCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
