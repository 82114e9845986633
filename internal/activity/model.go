// Package activity implements the append-only user-activity log (C11):
// every mutation through the CVE upsert engine, every login/logout, and
// every comment mutation writes one record here.
package activity

import (
	"time"

	"github.com/cvehub/cvehub/internal/changes"
)

// Action is the verb an activity record describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAdd    Action = "add"
	ActionAssign Action = "assign"
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// TargetType is the kind of entity an activity record concerns.
type TargetType string

const (
	TargetCVE       TargetType = "cve"
	TargetPoC       TargetType = "poc"
	TargetSnortRule TargetType = "snort_rule"
	TargetReference TargetType = "reference"
	TargetComment   TargetType = "comment"
	TargetUser      TargetType = "user"
	TargetSystem    TargetType = "system"
)

// Record is one append-only UserActivity entry, per §3.
type Record struct {
	Username    string           `bson:"username" json:"username"`
	Timestamp   time.Time        `bson:"timestamp" json:"timestamp"`
	Action      Action           `bson:"action" json:"action"`
	TargetType  TargetType       `bson:"target_type" json:"target_type"`
	TargetID    string           `bson:"target_id" json:"target_id"`
	TargetTitle string           `bson:"target_title,omitempty" json:"target_title,omitempty"`
	Changes     []changes.Change `bson:"changes,omitempty" json:"changes,omitempty"`
}
