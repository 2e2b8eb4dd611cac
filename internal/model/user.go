package model

// User is the authenticated user's profile.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// DisplayName returns the full name, falling back to the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Credentials are submitted to the login endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is submitted to the register endpoint.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

// TokenResponse is returned by the login endpoint.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// DashboardSummary holds the per-user counters shown on the dashboard.
type DashboardSummary struct {
	WorkspaceCount      int `json:"workspaceCount"`
	TaskCount           int `json:"taskCount"`
	CompletedTaskCount  int `json:"completedTaskCount"`
	UnreadNotifications int `json:"unreadNotifications"`
}

// Workspace is a project space the user is a member of.
type Workspace struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
