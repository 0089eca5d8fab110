// Package commands adapts the remote command queue and the local operator
// channel to the control loop.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/storage"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrLinkDown       = errors.New("link down")
	ErrTransport      = errors.New("command transport failure")
	ErrLocalQueueFull = errors.New("local command queue full")
	ErrUnknownCommand = errors.New("unknown command type")
)

// Queue is the remote store holding pending commands.
type Queue interface {
	FetchPendingCommand(ctx context.Context) (*types.Command, error)
	MarkCommandExecuted(ctx context.Context, id string) error
}

type Source struct {
	queue  Queue
	local  chan types.Command
	logger *zap.Logger
}

// NewSource wraps queue, which may be nil when the device runs without a
// backend. localBuffer bounds the operator commands waiting for the loop.
func NewSource(queue Queue, localBuffer int, logger *zap.Logger) *Source {
	if localBuffer < 1 {
		localBuffer = 1
	}
	return &Source{
		queue:  queue,
		local:  make(chan types.Command, localBuffer),
		logger: logger,
	}
}

// FetchPendingCommand returns the newest pending command or nil when there
// is none. Nothing is contacted while the link is down.
func (s *Source) FetchPendingCommand(ctx context.Context, link types.LinkState) (*types.Command, error) {
	if !link.Connected() {
		return nil, ErrLinkDown
	}
	if s.queue == nil {
		return nil, nil
	}

	cmd, err := s.queue.FetchPendingCommand(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoPendingCommand) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return cmd, nil
}

// Acknowledge marks a queue command executed. Local commands have nothing
// to acknowledge. A command that is no longer pending counts as acknowledged.
func (s *Source) Acknowledge(ctx context.Context, link types.LinkState, cmd types.Command) error {
	if cmd.Origin == types.OriginLocal {
		return nil
	}
	if !link.Connected() {
		return ErrLinkDown
	}
	if s.queue == nil {
		return nil
	}

	err := s.queue.MarkCommandExecuted(ctx, cmd.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrCommandNotFound):
		s.logger.Warn("Command already acknowledged", zap.String("command_id", cmd.ID))
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// Submit queues an operator command for the control loop without blocking.
func (s *Source) Submit(rawType string, value *float64) (types.Command, error) {
	cmd := types.NewCommand(uuid.NewString(), rawType, value, types.OriginLocal, time.Now())
	if cmd.Kind == types.CommandUnknown {
		return types.Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, rawType)
	}

	select {
	case s.local <- cmd:
		s.logger.Info("Local command queued",
			zap.String("command_id", cmd.ID),
			zap.String("command", cmd.Kind.String()))
		return cmd, nil
	default:
		return types.Command{}, ErrLocalQueueFull
	}
}

// NextLocal takes one waiting operator command, if any.
func (s *Source) NextLocal() (*types.Command, bool) {
	select {
	case cmd := <-s.local:
		return &cmd, true
	default:
		return nil, false
	}
}

// PendingLocal is the number of operator commands waiting.
func (s *Source) PendingLocal() int {
	return len(s.local)
}
