package messagedb

import (
	"context"
	"fmt"
)

// HealthCheck verifies database connectivity and that the message-store
// functions are installed. It runs a trivial query first, then confirms
// write_message exists in pg_proc, so a reachable database without the
// schema still reports unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	var health int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&health); err != nil {
		return fmt.Errorf("connectivity check failed: %w", err)
	}

	var installed bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_proc p
			JOIN pg_namespace n ON p.pronamespace = n.oid
			WHERE n.nspname = 'message_store' AND p.proname = 'write_message'
		)`).Scan(&installed)
	if err != nil {
		return fmt.Errorf("schema check failed: %w", err)
	}
	if !installed {
		return fmt.Errorf("message store schema is not installed")
	}

	return nil
}
