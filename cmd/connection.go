package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/cryogrind/go-mlp/millsim"
	"github.com/cryogrind/go-mlp/mlpclient"
	"github.com/cryogrind/go-mlp/transport"
)

// simBench dials a fresh simulated MCU over an in-memory pipe. Every dial
// creates a new device, the same way a radio reconnect reaches a rebooted
// MCU with no session memory.
type simBench struct {
	mu      sync.Mutex
	devices []*millsim.Device
}

func (s *simBench) Dial(_ context.Context) (transport.Conn, error) {
	near, far := transport.Pipe()

	dev := millsim.NewDevice(far,
		millsim.WithTelemetryInterval(200*time.Millisecond),
		millsim.WithRunDuration(2*time.Minute),
	)
	if err := dev.Start(); err != nil {
		near.Close()
		return nil, err
	}

	s.mu.Lock()
	s.devices = append(s.devices, dev)
	s.mu.Unlock()

	return near, nil
}

func (s *simBench) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dev := range s.devices {
		dev.Stop()
	}
	s.devices = nil
}

// buildDialer picks the transport from the connection flags. The returned
// cleanup releases transport-side resources and must run after the client
// is closed.
func buildDialer() (transport.Dialer, string, func(), error) {
	if useSim {
		bench := &simBench{}
		return bench, "Simulator", bench.stop, nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = getPassword()
			if err != nil {
				return nil, "", nil, err
			}
		}

		dialer := &transport.WSDialer{
			URL:           wsURL,
			Username:      wsUsername,
			Password:      password,
			SkipTLSVerify: wsNoSSLVerify,
		}

		return dialer, fmt.Sprintf("WebSocket: %s", wsURL), func() {}, nil
	}

	if portName != "" {
		dialer := &transport.SerialDialer{Port: portName, Baud: baudRate}
		return dialer, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), func() {}, nil
	}

	return nil, "", nil, errors.New("one of --port, --url or --sim must be specified")
}

// newClient builds an unopened client connection from the connection flags.
// Callers attach handlers, then Open.
func newClient(opts ...mlpclient.ConnOption) (*mlpclient.Connection, string, func(), error) {
	dialer, connInfo, cleanup, err := buildDialer()
	if err != nil {
		return nil, "", nil, err
	}

	opts = append([]mlpclient.ConnOption{mlpclient.WithDeviceName(connInfo)}, opts...)

	cfg, err := mlpclient.NewConnectionConfig(dialer, opts...)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}

	conn, err := mlpclient.NewConnection(context.Background(), cfg)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}

	return conn, connInfo, cleanup, nil
}

// getPassword reads the bridge password from the environment or prompts for
// it without echo.
func getPassword() (string, error) {
	if pw := os.Getenv("MLP_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, fall back to plain line input.
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
