package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nhle/insync/internal/model"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp model.TokenResponse
	err := c.Post(ctx, "/auth/login", "/auth/login", model.Credentials{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("login response carried no access token")
	}
	return resp.AccessToken, nil
}

// Register creates a new account. The caller logs in separately.
func (c *Client) Register(ctx context.Context, reg model.Registration) (*model.User, error) {
	var user model.User
	if err := c.Post(ctx, "/auth/register", "/auth/register", reg, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// User fetches a user profile by id.
func (c *Client) User(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := c.Get(ctx, "/user/{id}", "/user/"+url.PathEscape(id), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DashboardSummary fetches the current user's dashboard counters.
func (c *Client) DashboardSummary(ctx context.Context) (*model.DashboardSummary, error) {
	var s model.DashboardSummary
	if err := c.Get(ctx, "/user/dashboard-summary", "/user/dashboard-summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Workspaces lists the workspaces the current user belongs to.
func (c *Client) Workspaces(ctx context.Context) ([]model.Workspace, error) {
	var ws []model.Workspace
	if err := c.Get(ctx, "/workspace/all", "/workspace/all", &ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// UnreadNotifications lists the current user's unread notifications,
// newest first.
func (c *Client) UnreadNotifications(ctx context.Context) ([]model.Notification, error) {
	var ns []model.Notification
	if err := c.Get(ctx, "/notifications/unread", "/notifications/unread", &ns); err != nil {
		return nil, err
	}
	if ns == nil {
		ns = []model.Notification{}
	}
	return ns, nil
}

// UnreadCount returns the server's count of unread notifications.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var n int
	if err := c.Get(ctx, "/notifications/unread-count", "/notifications/unread-count", &n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkNotificationRead marks a notification read for the current user.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	return c.Patch(ctx, "/notifications/{id}/read", path, nil, nil)
}
