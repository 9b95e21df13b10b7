package domain

import (
	"strconv"
	"time"
)

// NotificationKind is the type of an outbound intent.
type NotificationKind string

const (
	NotificationPreliminary  NotificationKind = "preliminary"
	NotificationConfirmed    NotificationKind = "confirmed"
	NotificationWarning      NotificationKind = "warning"
	NotificationTsunami      NotificationKind = "tsunami"
	NotificationPersonalized NotificationKind = "personalized"
	NotificationRetraction   NotificationKind = "retraction"
)

// Notification is an intent for delivery adapters. It carries no formatting;
// RenderedFields are plain values keyed by field name.
type Notification struct {
	ID             string            `json:"id"`
	Kind           NotificationKind  `json:"kind"`
	EventID        string            `json:"event_id"`
	RecipientID    string            `json:"recipient_id,omitempty"`
	Revision       int               `json:"revision"`
	RenderedFields map[string]string `json:"rendered_fields"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NotificationID derives a stable id so redelivered intents can be collapsed
// downstream.
func NotificationID(kind NotificationKind, eventID, recipientID string, revision int) string {
	return HashID(string(kind), eventID, recipientID, strconv.Itoa(revision))
}
