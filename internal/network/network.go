// Package network joins and monitors the Wi-Fi network.
package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNoSSID is returned by Connect when no SSID is given.
var ErrNoSSID = errors.New("no ssid")

// Manager joins a Wi-Fi network and reports link state.
type Manager interface {
	Connect(ctx context.Context, ssid, password string) error
	IsConnected(ctx context.Context) bool
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives NetworkManager through the nmcli command.
type NMCLI struct {
	// Interface restricts operations to one device. Empty lets nmcli choose.
	Interface string
	// Timeout bounds a single connect attempt.
	Timeout time.Duration

	run Runner
}

// NewNMCLI creates a manager. A nil runner executes the real nmcli binary.
func NewNMCLI(iface string, timeout time.Duration, run Runner) *NMCLI {
	if run == nil {
		run = execRunner
	}
	return &NMCLI{Interface: iface, Timeout: timeout, run: run}
}

// Connect joins ssid, waiting at most Timeout.
func (n *NMCLI) Connect(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return ErrNoSSID
	}
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	args := []string{"--wait", waitSeconds(n.Timeout), "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if n.Interface != "" {
		args = append(args, "ifname", n.Interface)
	}

	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli connect %q: %w: %s", ssid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsConnected reports whether a wifi device is in the connected state.
func (n *NMCLI) IsConnected(ctx context.Context) bool {
	out, err := n.run(ctx, "nmcli", "-t", "-f", "DEVICE,TYPE,STATE", "device")
	if err != nil {
		return false
	}
	return wifiConnected(out, n.Interface)
}

func wifiConnected(out []byte, iface string) bool {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		f := strings.Split(sc.Text(), ":")
		if len(f) < 3 || f[1] != "wifi" {
			continue
		}
		if iface != "" && f[0] != iface {
			continue
		}
		if f[2] == "connected" {
			return true
		}
	}
	return false
}

func waitSeconds(d time.Duration) string {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return fmt.Sprint(s)
}

// EnsureConnected reconnects m when the link is down. It reports whether a
// connect attempt was made.
func EnsureConnected(ctx context.Context, m Manager, ssid, password string) (bool, error) {
	if ssid == "" || m.IsConnected(ctx) {
		return false, nil
	}
	return true, m.Connect(ctx, ssid, password)
}
