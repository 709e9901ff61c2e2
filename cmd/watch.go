package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/recipe"
)

var (
	watchMill   time.Duration
	watchHold   time.Duration
	watchCycles int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live TUI for monitoring and driving the mill",
	Long: `Monitor the mill in an interactive terminal UI.

Shows link and session health, controller temperatures, relay and input
states, alarms, device events and the progress of the active run. Run
progress is predicted locally from the recipe flags between telemetry
updates; the MCU run state supersedes the prediction whenever it arrives.

Keys:
  q          quit
  t          enter a controller setpoint ("<ctrl> <temp>")
  s          request an immediate telemetry snapshot
  r          start a run        x  stop the run       space  pause/resume
  w          clear warnings     a  clear latched alarms

Supports serial, WebSocket and simulator connections.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchMill, "mill", 5*time.Minute, "Recipe milling duration per cycle")
	watchCmd.Flags().DurationVar(&watchHold, "hold", time.Minute, "Recipe hold between cycles")
	watchCmd.Flags().IntVar(&watchCycles, "cycles", 5, "Recipe cycle count")
}

func runWatch(cmd *cobra.Command, args []string) error {
	rcp := recipe.Recipe{Milling: watchMill, Hold: watchHold, Cycles: watchCycles}
	if err := rcp.Validate(); err != nil {
		return fmt.Errorf("recipe: %w", err)
	}

	conn, connInfo, cleanup, err := newClient()
	if err != nil {
		return err
	}
	defer cleanup()
	defer conn.Close()

	m := newWatchModel(conn, connInfo, rcp)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Handlers are attached before Open so no early frame is missed.
	conn.OnTelemetry(func(snap *mlp.TelemetrySnapshot) {
		p.Send(telemetryMsg{snap: snap})
	})
	conn.OnEvent(func(ev *mlp.Event) {
		p.Send(deviceEventMsg{ev: ev})
	})
	conn.AddLinkStateHandler(func(prev, next mlp.LinkState) {
		p.Send(linkStateMsg{prev: prev, next: next})
	})

	if err := conn.Open(false); err != nil {
		return err
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
