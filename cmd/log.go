package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/mlpclient"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Stream decoded frames in human-readable form",
	Long: `Continuously decode and display MLP frames as they arrive.

Each telemetry snapshot, device event and link state change is shown with a
timestamp. On exit a summary of the link counters is printed.

Supports serial, WebSocket and simulator connections.`,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()
	defer conn.Close()

	fmt.Printf("Mlpstat - Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	conn.OnTelemetry(func(snap *mlp.TelemetrySnapshot) {
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatTelemetry(snap))
	})
	conn.OnEvent(func(ev *mlp.Event) {
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), formatEvent(ev))
	})
	conn.AddLinkStateHandler(func(prev, next mlp.LinkState) {
		fmt.Printf("[%s] LINK %s -> %s\n", time.Now().Format("15:04:05.000"), prev, next)
	})

	if err := conn.Open(false); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println()
	printMetrics(conn.GetMetrics())

	return nil
}

// printMetrics prints the link counter summary shown when a streaming
// command exits.
func printMetrics(m *mlpclient.ConnectionMetrics) {
	fmt.Printf("Frames: %d received, %d telemetry, %d events\n",
		m.FrameRecvCount.Load(), m.TelemetryRecvCount.Load(), m.EventRecvCount.Load())

	dropped := m.FrameTooShortCount.Load() + m.FrameLengthMismatchCount.Load() +
		m.FrameCRCCount.Load() + m.FrameUnexpectedCount.Load()
	if dropped > 0 {
		fmt.Printf("Dropped: %d bytes/frames (%d short, %d length, %d crc, %d unexpected)\n",
			dropped, m.FrameTooShortCount.Load(), m.FrameLengthMismatchCount.Load(),
			m.FrameCRCCount.Load(), m.FrameUnexpectedCount.Load())
	}

	fmt.Printf("Commands: %d sent, %d acked, %d timed out\n",
		m.CmdSendCount.Load(), m.CmdAckCount.Load(), m.CmdTimeoutCount.Load())
	fmt.Printf("Keepalives: %d sent, %d acked, %d missed\n",
		m.KeepaliveSendCount.Load(), m.KeepaliveAckCount.Load(), m.KeepaliveMissCount.Load())

	if n := m.SessionExpiredCount.Load(); n > 0 {
		fmt.Printf("Sessions expired: %d\n", n)
	}
}
