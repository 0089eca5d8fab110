package storage

import (
	"context"
	"fmt"
)

// Auth Event Logging
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType, username, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, username, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, username, ipAddress, userAgent, success, reason)
	if err != nil {
		return fmt.Errorf("failed to log auth event: %w", err)
	}
	return nil
}
