// Package link keeps the device's network link up on a bounded budget per
// control cycle. Failure is never fatal; the caller just sees Disconnected.
package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

var ErrNoIdentity = errors.New("no network identity configured")

// Backend talks to whatever owns the network interface.
type Backend interface {
	Name() string
	// RequiresIdentity is true when Associate needs a network name and secret.
	RequiresIdentity() bool
	Connected(ctx context.Context) (bool, error)
	Associate(ctx context.Context, ssid, secret string) error
}

type Supervisor struct {
	backend Backend
	cfg     config.LinkConfig
	logger  *zap.Logger

	mu        sync.RWMutex
	state     types.LinkState
	lastError string
	since     time.Time
	listeners []func(state, previous types.LinkState)
}

func NewSupervisor(backend Backend, cfg config.LinkConfig, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(zap.String("backend", backend.Name())),
		state:   types.LinkDisconnected,
		since:   time.Now(),
	}
}

// OnChange registers a listener for link transitions.
func (s *Supervisor) OnChange(fn func(state, previous types.LinkState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Supervisor) State() types.LinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

type Status struct {
	State     string    `json:"state"`
	Backend   string    `json:"backend"`
	SSID      string    `json:"ssid,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:     s.state.String(),
		Backend:   s.backend.Name(),
		SSID:      s.cfg.SSID,
		LastError: s.lastError,
		Since:     s.since,
	}
}

// EnsureLink returns Connected if the link is up or could be brought up
// within link.max_attempts. The waits between attempts end early when ctx
// is cancelled.
func (s *Supervisor) EnsureLink(ctx context.Context) types.LinkState {
	if s.backend.RequiresIdentity() && !s.cfg.HasIdentity() {
		return s.set(types.LinkDisconnected, ErrNoIdentity)
	}

	if ok, _ := s.check(ctx); ok {
		return s.set(types.LinkConnected, nil)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		s.logger.Info("Connecting to network",
			zap.String("ssid", s.cfg.SSID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.MaxAttempts))

		lastErr = s.associate(ctx)
		if lastErr == nil {
			ok, err := s.check(ctx)
			if ok {
				s.logger.Info("Network link established", zap.Int("attempt", attempt))
				return s.set(types.LinkConnected, nil)
			}
			lastErr = err
			if lastErr == nil {
				lastErr = errors.New("link still down after association")
			}
		}

		s.logger.Warn("Network connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := backoff(attempt, s.cfg.RetryDelay, s.cfg.MaxRetryDelay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}
	return s.set(types.LinkDisconnected, lastErr)
}

func (s *Supervisor) check(ctx context.Context) (bool, error) {
	cctx, cancel := s.attemptContext(ctx)
	defer cancel()
	return s.backend.Connected(cctx)
}

func (s *Supervisor) associate(ctx context.Context) error {
	actx, cancel := s.attemptContext(ctx)
	defer cancel()
	return s.backend.Associate(actx, s.cfg.SSID, s.cfg.Secret)
}

func (s *Supervisor) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.AttemptTimeout)
}

// set records the state and notifies listeners on a transition. Errors are
// logged once per transition, not once per cycle.
func (s *Supervisor) set(state types.LinkState, cause error) types.LinkState {
	s.mu.Lock()
	previous := s.state
	changed := previous != state
	s.state = state
	if cause != nil {
		s.lastError = cause.Error()
	} else if state == types.LinkConnected {
		s.lastError = ""
	}
	if changed {
		s.since = time.Now()
	}
	listeners := append([]func(state, previous types.LinkState){}, s.listeners...)
	s.mu.Unlock()

	if !changed {
		return state
	}

	if state == types.LinkConnected {
		s.logger.Info("Link state changed", zap.String("state", state.String()))
	} else {
		s.logger.Warn("Link state changed",
			zap.String("state", state.String()),
			zap.Error(cause))
	}

	for _, fn := range listeners {
		fn(state, previous)
	}
	return state
}

// backoff = retryDelay * 2^(attempt-1), capped at maxDelay.
func backoff(attempt int, retryDelay, maxDelay time.Duration) time.Duration {
	delay := retryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// NewBackend builds the backend named by link.backend.
func NewBackend(cfg config.LinkConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "nmcli":
		return NewNetworkManager(cfg.Interface, logger), nil
	case "probe":
		return NewProbe(cfg.ProbeAddress), nil
	case "static":
		return NewStatic(true), nil
	default:
		return nil, errors.New("unknown link backend: " + cfg.Backend)
	}
}
