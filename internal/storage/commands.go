package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/types"
	"github.com/jackc/pgx/v5"
)

// FetchPendingCommand returns the most recently created pending command.
func (p *PostgresClient) FetchPendingCommand(ctx context.Context) (*types.Command, error) {
	var (
		id, kind, status string
		value            *float64
		createdAt        time.Time
	)

	err := p.pool.QueryRow(ctx, `
		SELECT id, type, value, status, created_at
		FROM commands
		WHERE status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&id, &kind, &value, &status, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPendingCommand
		}
		return nil, fmt.Errorf("failed to fetch pending command: %w", err)
	}

	cmd := types.NewCommand(id, kind, value, types.OriginQueue, createdAt)
	cmd.Status = types.CommandStatus(status)
	return &cmd, nil
}

// MarkCommandExecuted flips a pending command to executed.
func (p *PostgresClient) MarkCommandExecuted(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE commands
		SET status = 'executed', executed_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark command executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return nil
}
