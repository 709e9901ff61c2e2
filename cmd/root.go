package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/logger"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulator flag
	useSim bool

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mlpstat",
	Short: "MLP bench tool for the cryogenic mill link",
	Long: `Mlpstat - bench tool for the MLP cryogenic mill link.

Talks to the mill MCU over a serial bench cable or a WebSocket debug bridge,
or to a built-in simulated MCU for offline work. Provides raw frame logging,
one-shot command sending, a live watch TUI and traffic capture.

Connection modes:
  Serial:     --port /dev/ttyUSB0 [--baud 115200]
  WebSocket:  --url ws://host/path [--username user]
  Simulator:  --sim

For WebSocket authentication the password is read from the MLP_PASSWORD
environment variable, or prompted interactively if not set. There is no
--password flag, so credentials stay out of shell history.`,
	Version: "0.4.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel(logger.DebugLevel)
		} else {
			logger.SetLevel(logger.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Use the built-in simulated MCU")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
