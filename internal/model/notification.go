package model

import (
	"strings"
)

// EventType identifies the workspace activity that produced a notification.
type EventType string

const (
	EventTaskCreated       EventType = "TASK_CREATED"
	EventTaskUpdated       EventType = "TASK_UPDATED"
	EventTaskAssigned      EventType = "TASK_ASSIGNED"
	EventTaskUnassigned    EventType = "TASK_UNASSIGNED"
	EventTaskDeleted       EventType = "TASK_DELETED"
	EventTaskStatusChanged EventType = "TASK_STATUS_CHANGED"
	EventTaskDueSoon       EventType = "TASK_DUE_SOON"
	EventTaskCompleted     EventType = "TASK_COMPLETED"
)

// EventTypes lists every event type the server emits.
var EventTypes = []EventType{
	EventTaskCreated,
	EventTaskUpdated,
	EventTaskAssigned,
	EventTaskUnassigned,
	EventTaskDeleted,
	EventTaskStatusChanged,
	EventTaskDueSoon,
	EventTaskCompleted,
}

// Known reports whether e is one of EventTypes.
func (e EventType) Known() bool {
	for _, t := range EventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// Label returns a lower-case, space separated form of the event type,
// e.g. "status changed" for TASK_STATUS_CHANGED.
func (e EventType) Label() string {
	s := strings.TrimPrefix(string(e), "TASK_")
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

// Notification is a record of a workspace or task event relevant to the
// current user. The same ID is used whether the notification arrived in the
// unread list or as a realtime push.
type Notification struct {
	// ID is the unique, stable identifier for this notification.
	ID string `json:"id"`

	// TaskID links this notification to the originating task.
	TaskID string `json:"taskId,omitempty"`

	// TaskName is the title of the task at the time of the event.
	TaskName string `json:"taskName"`

	// WorkspaceID identifies the workspace the task belongs to.
	WorkspaceID string `json:"workspaceId"`

	// WorkspaceName is the display name of the workspace.
	WorkspaceName string `json:"workspaceName"`

	// Message is the notification text. It may hold several lines
	// separated by semicolons.
	Message string `json:"message"`

	// CreatorID identifies the user who triggered the event.
	CreatorID string `json:"creatorId,omitempty"`

	// CreatorName is the full name of the user who triggered the event.
	CreatorName string `json:"creatorName"`

	// EventType identifies which activity produced this notification.
	EventType EventType `json:"eventType"`

	// NotifiedAt is when the notification was delivered to the recipient.
	NotifiedAt Timestamp `json:"notifiedAt"`

	// IsRead indicates whether the user has marked this notification read.
	IsRead bool `json:"isRead"`
}

// Lines splits the message into its semicolon separated lines, trimming
// surrounding whitespace and dropping empty lines.
func (n Notification) Lines() []string {
	parts := strings.Split(n.Message, ";")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// CreatorInitials returns the upper-cased initials of the creator's name.
func (n Notification) CreatorInitials() string {
	return Initials(n.CreatorName)
}

// Initials returns the upper-cased first letter of each word in name.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)
		b.WriteRune(r[0])
	}
	return strings.ToUpper(b.String())
}
