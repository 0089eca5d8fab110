package link

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// runner executes a command and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NetworkManager joins a wifi network through nmcli.
type NetworkManager struct {
	iface  string
	run    runner
	logger *zap.Logger
}

func NewNetworkManager(iface string, logger *zap.Logger) *NetworkManager {
	return &NetworkManager{iface: iface, run: execRunner, logger: logger}
}

func (n *NetworkManager) Name() string { return "nmcli" }

func (n *NetworkManager) RequiresIdentity() bool { return true }

func (n *NetworkManager) Connected(ctx context.Context) (bool, error) {
	out, err := n.run(ctx, "nmcli", "-t", "-f", "DEVICE,STATE", "device")
	if err != nil {
		return false, fmt.Errorf("nmcli device status failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	state, ok := parseDeviceState(out, n.iface)
	if !ok {
		return false, fmt.Errorf("interface %s not managed by NetworkManager", n.iface)
	}
	return state == "connected", nil
}

func (n *NetworkManager) Associate(ctx context.Context, ssid, secret string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if secret != "" {
		args = append(args, "password", secret)
	}
	if n.iface != "" {
		args = append(args, "ifname", n.iface)
	}

	out, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		// nmcli echoes the command line on some errors
		msg := strings.TrimSpace(string(out))
		if secret != "" {
			msg = strings.ReplaceAll(msg, secret, "***")
		}
		return fmt.Errorf("nmcli connect failed: %w: %s", err, msg)
	}
	n.logger.Debug("nmcli connect", zap.String("output", strings.TrimSpace(string(out))))
	return nil
}

// parseDeviceState reads `nmcli -t -f DEVICE,STATE device` output.
func parseDeviceState(out []byte, iface string) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		device, state, found := strings.Cut(sc.Text(), ":")
		if !found {
			continue
		}
		if device == iface {
			return state, true
		}
	}
	return "", false
}
