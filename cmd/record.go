package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/capture"
	"github.com/cryogrind/go-mlp/mlpclient"
	"github.com/cryogrind/go-mlp/transport"
)

var (
	recordOut      string
	recordDuration time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture link traffic to a CBOR file",
	Long: `Run the client with a live session and record every transfer crossing the
link, both directions, into a CBOR capture file.

The capture includes session setup, keepalives, commands, acks and telemetry,
and can be inspected offline with the dump command.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "mlp-capture.cbor", "Output file")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 = until Ctrl+C)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	dialer, connInfo, cleanup, err := buildDialer()
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Create(recordOut)
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	w := capture.NewWriter(bw)

	// Each reconnect dials a fresh link; tap them all into the same file.
	var (
		tapMu sync.Mutex
		taps  []*capture.Tap
	)
	tapped := transport.DialerFunc(func(ctx context.Context) (transport.Conn, error) {
		c, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}

		t := capture.NewTap(c, w)
		tapMu.Lock()
		taps = append(taps, t)
		tapMu.Unlock()

		return t, nil
	})

	cfg, err := mlpclient.NewConnectionConfig(tapped, mlpclient.WithDeviceName(connInfo))
	if err != nil {
		return err
	}

	conn, err := mlpclient.NewConnection(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Mlpstat - Capture\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Writing: %s\n", recordOut)
	if recordDuration > 0 {
		fmt.Printf("Duration: %s\n", recordDuration)
	} else {
		fmt.Printf("Press Ctrl+C to stop\n")
	}
	fmt.Println()

	if err := conn.Open(true); err != nil {
		return fmt.Errorf("open link: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}
	<-ctx.Done()

	// Stop the traffic before flushing the file.
	if err := conn.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close link: %v\n", err)
	}

	tapMu.Lock()
	for _, t := range taps {
		if err := t.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "capture warning: %v\n", err)
			break
		}
	}
	tapMu.Unlock()

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush capture: %w", err)
	}

	if fi, err := f.Stat(); err == nil {
		fmt.Printf("Wrote %s (%d bytes)\n", recordOut, fi.Size())
	}

	return nil
}
