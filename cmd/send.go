package cmd

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/mlpclient"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single command and report the ack",
	Long: `Open the link, establish a session, send one command and print the result.

The command fails with the device's rejection reason when the MCU does not
acknowledge it with OK.

Examples:
  mlpstat --sim send relay 3 on
  mlpstat --sim send mask 0b1111 0b0101
  mlpstat --sim send sv 1 -150.0
  mlpstat --sim send mode 1 run
  mlpstat --sim send start dry`,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.AddCommand(
		sendRelayCmd, sendMaskCmd, sendSVCmd, sendModeCmd, sendRefreshCmd,
		sendSnapshotCmd, sendClearWarningsCmd, sendClearAlarmsCmd,
		sendStartCmd, sendStopCmd, sendPauseCmd,
	)
}

// withLiveClient opens the link, waits for a live session, runs f and prints
// OK on success.
func withLiveClient(f func(ctx context.Context, conn *mlpclient.Connection) error) error {
	conn, _, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()
	defer conn.Close()

	if err := conn.Open(true); err != nil {
		return fmt.Errorf("open link: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f(ctx, conn); err != nil {
		return err
	}

	fmt.Println("OK")
	return nil
}

func parseUint8(s, what string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint8(v), nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid relay state %q (use on or off)", s)
	}
}

// parseTempX10 parses a decimal temperature into x10 fixed point.
func parseTempX10(s string) (int16, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature %q", s)
	}

	v := math.Round(f * 10)
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, fmt.Errorf("temperature %s out of range", s)
	}

	return int16(v), nil
}

var sendRelayCmd = &cobra.Command{
	Use:   "relay <index> <on|off>",
	Short: "Drive a single output relay",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseUint8(args[0], "relay index")
		if err != nil {
			return err
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.SetRelay(ctx, index, on)
		})
	},
}

var sendMaskCmd = &cobra.Command{
	Use:   "mask <mask> <values>",
	Short: "Drive several relays atomically",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mask, err := parseUint8(args[0], "relay mask")
		if err != nil {
			return err
		}
		values, err := parseUint8(args[1], "relay values")
		if err != nil {
			return err
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.SetRelayMask(ctx, mask, values)
		})
	},
}

var sendSVCmd = &cobra.Command{
	Use:   "sv <controller> <temperature>",
	Short: "Set a controller setpoint in degrees",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, err := parseUint8(args[0], "controller id")
		if err != nil {
			return err
		}
		sv, err := parseTempX10(args[1])
		if err != nil {
			return err
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.SetSV(ctx, controller, sv)
		})
	},
}

var sendModeCmd = &cobra.Command{
	Use:   "mode <controller> <stop|run|manual>",
	Short: "Set a controller run mode",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, err := parseUint8(args[0], "controller id")
		if err != nil {
			return err
		}

		var mode mlp.ControllerMode
		switch strings.ToLower(args[1]) {
		case "stop":
			mode = mlp.ControllerStop
		case "run":
			mode = mlp.ControllerRun
		case "manual":
			mode = mlp.ControllerManual
		default:
			return fmt.Errorf("invalid controller mode %q (use stop, run or manual)", args[1])
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.SetMode(ctx, controller, mode)
		})
	},
}

var sendRefreshCmd = &cobra.Command{
	Use:   "refresh <controller>",
	Short: "Request a fresh PV/SV poll of a controller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		controller, err := parseUint8(args[0], "controller id")
		if err != nil {
			return err
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.RequestPVSVRefresh(ctx, controller)
		})
	},
}

var sendSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Request an immediate telemetry snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.RequestSnapshot(ctx)
		})
	},
}

var sendClearWarningsCmd = &cobra.Command{
	Use:   "clear-warnings",
	Short: "Clear self-clearing warnings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.ClearWarnings(ctx)
		})
	},
}

var sendClearAlarmsCmd = &cobra.Command{
	Use:   "clear-alarms",
	Short: "Clear latched alarms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.ClearLatchedAlarms(ctx)
		})
	},
}

var sendStartCmd = &cobra.Command{
	Use:   "start [normal|dry]",
	Short: "Start the loaded recipe run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := mlp.RunModeNormal
		if len(args) == 1 {
			switch strings.ToLower(args[0]) {
			case "normal":
				mode = mlp.RunModeNormal
			case "dry":
				mode = mlp.RunModeDry
			default:
				return fmt.Errorf("invalid run mode %q (use normal or dry)", args[0])
			}
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.StartRun(ctx, mode)
		})
	},
}

var sendStopCmd = &cobra.Command{
	Use:   "stop [graceful|immediate]",
	Short: "Stop the active run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := mlp.StopModeGraceful
		if len(args) == 1 {
			switch strings.ToLower(args[0]) {
			case "graceful":
				mode = mlp.StopModeGraceful
			case "immediate":
				mode = mlp.StopModeImmediate
			default:
				return fmt.Errorf("invalid stop mode %q (use graceful or immediate)", args[0])
			}
		}

		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.StopRun(ctx, mode)
		})
	},
}

var sendPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Toggle pause on the active run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLiveClient(func(ctx context.Context, conn *mlpclient.Connection) error {
			return conn.PauseRun(ctx)
		})
	},
}
