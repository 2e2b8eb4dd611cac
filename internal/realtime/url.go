package realtime

import (
	"net/url"
	"strings"
)

// EndpointURL derives the socket URL for userID from the ws(s) origin,
// e.g. ws://localhost:8000/ws/u1.
func EndpointURL(base, userID string) string {
	return strings.TrimRight(base, "/") + "/ws/" + url.PathEscape(userID)
}
