package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cryogrind/go-mlp/mlp"
	"github.com/cryogrind/go-mlp/mlpclient"
	"github.com/cryogrind/go-mlp/recipe"
)

// Watch log entry
type watchLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type watchTickMsg time.Time

type telemetryMsg struct {
	snap *mlp.TelemetrySnapshot
}

type deviceEventMsg struct {
	ev *mlp.Event
}

type linkStateMsg struct {
	prev mlp.LinkState
	next mlp.LinkState
}

type cmdResultMsg struct {
	label string
	err   error
}

// watchModel is the Bubble Tea model for the watch TUI.
type watchModel struct {
	conn     *mlpclient.Connection
	connInfo string
	rcp      recipe.Recipe
	clock    *recipe.Clock

	linkState  mlp.LinkState
	lastSnap   *mlp.TelemetrySnapshot
	lastSnapAt time.Time

	runBar  progress.Model
	spin    spinner.Model
	svInput textinput.Model

	log           []watchLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

func newWatchModel(conn *mlpclient.Connection, connInfo string, rcp recipe.Recipe) watchModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	ti := textinput.New()
	ti.Placeholder = "1 -150.0"
	ti.Prompt = "setpoint <ctrl temp>: "
	ti.CharLimit = 16
	ti.Width = 18

	return watchModel{
		conn:          conn,
		connInfo:      connInfo,
		rcp:           rcp,
		clock:         recipe.NewClock(),
		linkState:     conn.State(),
		runBar:        progress.New(progress.WithDefaultGradient()),
		spin:          sp,
		svInput:       ti,
		maxLogEntries: 200,
		width:         80,
		height:        24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		watchTickCmd(),
		m.spin.Tick,
		textinput.Blink,
	)
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// commandCmd runs one client command off the UI goroutine and reports the
// outcome as a message.
func (m watchModel) commandCmd(label string, f func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return cmdResultMsg{label: label, err: f(ctx)}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.svInput.Focused() {
			return m.updateSetpointInput(msg)
		}
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runBar.Width = m.width - 10
		if m.runBar.Width > 60 {
			m.runBar.Width = 60
		}

	case watchTickMsg:
		return m, watchTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case telemetryMsg:
		m.lastSnap = msg.snap
		m.lastSnapAt = time.Now()
		m.driveClock(msg.snap.Run)

	case deviceEventMsg:
		ev := msg.ev
		m.addLogEntry(formatEvent(ev), ev.Severity >= mlp.SeverityAlarm)

	case linkStateMsg:
		m.linkState = msg.next
		m.addLogEntry(fmt.Sprintf("LINK %s -> %s", msg.prev, msg.next), msg.next == mlp.LinkErrorState)

	case cmdResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.label, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: ok", msg.label), false)
		}
	}

	return m, nil
}

func (m watchModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "t":
		return m, m.svInput.Focus()

	case "s":
		return m, m.commandCmd("snapshot", m.conn.RequestSnapshot)

	case "w":
		return m, m.commandCmd("clear warnings", m.conn.ClearWarnings)

	case "a":
		return m, m.commandCmd("clear latched alarms", m.conn.ClearLatchedAlarms)

	case "r":
		return m, m.commandCmd("start run", func(ctx context.Context) error {
			return m.conn.StartRun(ctx, mlp.RunModeNormal)
		})

	case "x":
		return m, m.commandCmd("stop run", func(ctx context.Context) error {
			return m.conn.StopRun(ctx, mlp.StopModeGraceful)
		})

	case " ", "space":
		return m, m.commandCmd("pause", m.conn.PauseRun)
	}

	return m, nil
}

func (m watchModel) updateSetpointInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.svInput.Blur()
		m.svInput.SetValue("")
		return m, nil

	case "enter":
		value := m.svInput.Value()
		m.svInput.Blur()
		m.svInput.SetValue("")

		fields := strings.Fields(value)
		if len(fields) != 2 {
			m.addLogEntry(fmt.Sprintf("setpoint: want \"<ctrl> <temp>\", got %q", value), true)
			return m, nil
		}
		controller, err := parseUint8(fields[0], "controller id")
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		sv, err := parseTempX10(fields[1])
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}

		label := fmt.Sprintf("set SV ctrl %d to %s", controller, formatX10(sv))
		return m, m.commandCmd(label, func(ctx context.Context) error {
			return m.conn.SetSV(ctx, controller, sv)
		})
	}

	var cmd tea.Cmd
	m.svInput, cmd = m.svInput.Update(msg)
	return m, cmd
}

// driveClock keeps the local run clock in step with the MCU run state.
func (m *watchModel) driveClock(run *mlp.RunState) {
	if run == nil {
		m.clock.Reset()
		return
	}

	switch {
	case run.State == mlp.MachinePaused:
		m.clock.Pause()

	case run.State.Running():
		if !m.clock.Running() {
			if m.clock.Elapsed() == 0 {
				m.clock.Start()
			} else {
				m.clock.Resume()
			}
		}

	case run.State == mlp.MachineIdle:
		m.clock.Reset()

	default:
		// Complete or fault, freeze the display.
		m.clock.Pause()
	}
}

func (m *watchModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, watchLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > m.maxLogEntries {
		m.log = m.log[len(m.log)-m.maxLogEntries:]
	}
}

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	dimStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warnStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("MLPSTAT - MILL WATCH"))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(fmt.Sprintf("Connection: %s | Press 'q' to quit", m.connInfo)))
	s.WriteString("\n\n")

	// Link and session
	s.WriteString(m.viewLink(labelStyle, valueStyle, warnStyle, errorStyle, dimStyle))
	s.WriteString("\n\n")

	// Telemetry
	if m.lastSnap != nil {
		s.WriteString(boxStyle.Render(m.viewTelemetry(labelStyle, valueStyle, warnStyle, errorStyle, dimStyle)))
		s.WriteString("\n\n")
	}

	// Setpoint input
	if m.svInput.Focused() {
		s.WriteString(m.svInput.View())
		s.WriteString(dimStyle.Render("  (enter to send, esc to cancel)"))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.viewLog(dimStyle, valueStyle, errorStyle)))
	s.WriteString("\n")

	// Footer
	metrics := m.conn.GetMetrics()
	s.WriteString(dimStyle.Render(fmt.Sprintf(
		"frames %d | telemetry %d | cmds %d/%d acked | timeouts %d | crc drops %d",
		metrics.FrameRecvCount.Load(), metrics.TelemetryRecvCount.Load(),
		metrics.CmdAckCount.Load(), metrics.CmdSendCount.Load(),
		metrics.CmdTimeoutCount.Load(), metrics.FrameCRCCount.Load())))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render("t setpoint | s snapshot | r start | x stop | space pause | w warnings | a alarms"))

	return s.String()
}

func (m watchModel) viewLink(labelStyle, valueStyle, warnStyle, errorStyle, dimStyle lipgloss.Style) string {
	var b strings.Builder

	b.WriteString(labelStyle.Render("Link:"))
	b.WriteString(" ")
	switch {
	case m.linkState.IsLive():
		b.WriteString(valueStyle.Render("live"))
	case m.linkState.IsDegraded():
		b.WriteString(warnStyle.Render("degraded"))
	case m.linkState == mlp.LinkErrorState || m.linkState == mlp.PermissionRequiredState:
		b.WriteString(errorStyle.Render(m.linkState.String()))
	default:
		b.WriteString(m.spin.View())
		b.WriteString(warnStyle.Render(m.linkState.String()))
	}

	sess := m.conn.Session()
	state := sess.State()
	b.WriteString("   ")
	b.WriteString(labelStyle.Render("Session:"))
	b.WriteString(" ")
	switch state {
	case mlpclient.SessionActive:
		b.WriteString(valueStyle.Render(fmt.Sprintf("active #%d (lease %s)", sess.ID(), sess.Lease())))
	case mlpclient.SessionWarning:
		b.WriteString(warnStyle.Render(fmt.Sprintf("warning #%d, lease aging", sess.ID())))
	case mlpclient.SessionExpired:
		b.WriteString(errorStyle.Render("expired"))
	default:
		b.WriteString(dimStyle.Render(state.String()))
	}

	if !m.lastSnapAt.IsZero() {
		age := time.Since(m.lastSnapAt)
		b.WriteString("   ")
		b.WriteString(labelStyle.Render("Telemetry:"))
		b.WriteString(" ")
		if age > 2*time.Second {
			b.WriteString(warnStyle.Render(fmt.Sprintf("stale (%s)", age.Round(time.Second))))
		} else {
			b.WriteString(valueStyle.Render("fresh"))
		}
	}

	return b.String()
}

func (m watchModel) viewTelemetry(labelStyle, valueStyle, warnStyle, errorStyle, dimStyle lipgloss.Style) string {
	snap := m.lastSnap

	var b strings.Builder

	for _, c := range snap.Controllers {
		b.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s  %s  %s\n",
			labelStyle.Render(fmt.Sprintf("Ctrl %d:", c.ID)),
			valueStyle.Render(formatX10(c.PVx10)+"°C"),
			labelStyle.Render("SV:"),
			valueStyle.Render(formatX10(c.SVx10)+"°C"),
			labelStyle.Render("OP:"),
			valueStyle.Render(formatX10(int16(c.OPx10))+"%"),
			dimStyle.Render(fmt.Sprintf("[%s]", c.Mode)),
			dimStyle.Render(fmt.Sprintf("age %dms", c.AgeMs)),
		))
	}

	b.WriteString(fmt.Sprintf("%s %s  %s %s  ",
		labelStyle.Render("DI:"), valueStyle.Render(fmt.Sprintf("%016b", snap.DIBits)),
		labelStyle.Render("RO:"), valueStyle.Render(fmt.Sprintf("%08b", snap.ROBits)),
	))
	if snap.AlarmBits != 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Alarms:"), errorStyle.Render(fmt.Sprintf("0x%08X", snap.AlarmBits))))
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Alarms:"), valueStyle.Render("none")))
	}

	b.WriteString(m.viewRun(labelStyle, valueStyle, warnStyle, dimStyle))

	return strings.TrimRight(b.String(), "\n")
}

func (m watchModel) viewRun(labelStyle, valueStyle, warnStyle, dimStyle lipgloss.Style) string {
	run := m.lastSnap.Run

	var b strings.Builder
	b.WriteString(labelStyle.Render("Run:"))
	b.WriteString(" ")

	if run == nil {
		b.WriteString(dimStyle.Render("no active run"))
		b.WriteString("\n")
		return b.String()
	}

	switch run.State {
	case mlp.MachinePaused:
		b.WriteString(warnStyle.Render(run.State.String()))
	case mlp.MachineFault:
		b.WriteString(warnStyle.Render(run.State.String()))
	default:
		b.WriteString(valueStyle.Render(run.State.String()))
	}

	p := m.rcp.Reconcile(m.clock.Elapsed(), run)
	b.WriteString(dimStyle.Render(fmt.Sprintf("  cycle %d/%d  %s  phase left %s  total left %s",
		p.Cycle, m.rcp.Cycles, p.Phase, p.PhaseRemaining.Round(time.Second), p.TotalRemaining.Round(time.Second))))
	b.WriteString("\n")

	frac := 0.0
	if p.Done {
		frac = 1
	} else if total := m.rcp.Total(); total > 0 {
		frac = 1 - p.TotalRemaining.Seconds()/total.Seconds()
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	b.WriteString(m.runBar.ViewAs(frac))
	b.WriteString("\n")

	return b.String()
}

func (m watchModel) viewLog(dimStyle, valueStyle, errorStyle lipgloss.Style) string {
	logHeight := m.height - 18
	if logHeight < 4 {
		logHeight = 4
	}

	if len(m.log) == 0 {
		return dimStyle.Render("  (no events yet)")
	}

	start := len(m.log) - logHeight
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i := start; i < len(m.log); i++ {
		entry := m.log[i]
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", dimStyle.Render(timestamp), errorStyle.Render(entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", dimStyle.Render(timestamp), valueStyle.Render(entry.message)))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
