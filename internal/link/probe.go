package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Probe treats the link as up when a TCP connection to the backend host
// succeeds. The OS owns the interface, so Associate only re-probes.
type Probe struct {
	address string
	dialer  net.Dialer
}

func NewProbe(address string) *Probe {
	return &Probe{address: address}
}

func (p *Probe) Name() string { return "probe" }

func (p *Probe) RequiresIdentity() bool { return false }

func (p *Probe) Connected(ctx context.Context) (bool, error) {
	if p.address == "" {
		return false, errors.New("no probe address configured")
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return false, fmt.Errorf("probe %s failed: %w", p.address, err)
	}
	conn.Close()
	return true, nil
}

func (p *Probe) Associate(ctx context.Context, ssid, secret string) error {
	return nil
}

// Static is a link whose state is set by hand, for the simulator and tests.
type Static struct {
	mu        sync.Mutex
	connected bool
	// associations counts Associate calls.
	associations int
	// joinAfter makes Associate succeed only from that call on; 0 never joins.
	joinAfter int
}

func NewStatic(connected bool) *Static {
	return &Static{connected: connected}
}

func (s *Static) Name() string { return "static" }

func (s *Static) RequiresIdentity() bool { return false }

func (s *Static) Set(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// JoinAfter lets the n-th association bring the link up.
func (s *Static) JoinAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinAfter = n
}

func (s *Static) Associations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.associations
}

func (s *Static) Connected(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, nil
}

func (s *Static) Associate(ctx context.Context, ssid, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.associations++
	if s.joinAfter > 0 && s.associations >= s.joinAfter {
		s.connected = true
		return nil
	}
	return errors.New("network not in range")
}
