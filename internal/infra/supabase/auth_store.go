package supabase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kmessan/caisse-manager-go/internal/domain"
)

// Auth store — implements port.AuthStore over the app_users table.

// GetUserByEmail looks up an application account. A missing user returns
// (nil, nil) so the auth service can answer "invalid credentials" without
// leaking whether the account exists.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByEmail")
	defer span.End()

	path := fmt.Sprintf("app_users?email=eq.%s&limit=1", url.QueryEscape(email))

	var rows []domain.User
	if err := c.getList(ctx, path, "app_users", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
