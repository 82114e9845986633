// Package notify implements the notification collaborator (C12):
// creation from mentions, CVE assignment transitions and explicit API
// calls, best-effort real-time delivery over the push fabric, and the
// paged/filtered read-state API.
package notify

import "time"

// Type is the kind of event a notification describes.
type Type string

const (
	TypeMention   Type = "mention"
	TypeCVEUpdate Type = "cve_update"
	TypeComment   Type = "comment"
)

// Status is a notification's read state.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// Notification is the persisted record, per §3.
type Notification struct {
	ID          string         `bson:"id" json:"id"`
	RecipientID string         `bson:"recipient_id" json:"recipient_id"`
	SenderID    string         `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	Type        Type           `bson:"type" json:"type"`
	Content     string         `bson:"content" json:"content"`
	CVEID       string         `bson:"cve_id,omitempty" json:"cve_id,omitempty"`
	Metadata    map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Status      Status         `bson:"status" json:"status"`
	Delivered   bool           `bson:"delivered" json:"delivered"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	ReadAt      *time.Time     `bson:"read_at,omitempty" json:"read_at,omitempty"`
}
