package cache

// Entry names cached per user.
const (
	Notifications      = "notifications"
	NotificationsCount = "notificationsCount"
	Dashboard          = "dashboard"
)

// Key scopes name to userID so no entry is shared between identities.
func Key(userID, name string) string {
	return "insync:user:" + userID + ":" + name
}

// UserKeys returns every key cached for userID.
func UserKeys(userID string) []string {
	return []string{
		Key(userID, Notifications),
		Key(userID, NotificationsCount),
		Key(userID, Dashboard),
	}
}
