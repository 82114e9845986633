// Package cve implements the CVE document model and upsert engine (C7):
// a single converged schema, with no parallel or duplicate models.
package cve

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cvehub/cvehub/internal/changes"
)

// Status is the CVE lifecycle state.
type Status string

const (
	StatusNew             Status = "new"
	StatusAnalyzing        Status = "analyzing"
	StatusReleaseComplete Status = "release-complete"
	StatusCannotAnalyze   Status = "cannot-analyze"
)

// Severity is the normalized severity tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
	SeverityUnknown  Severity = "unknown"
)

// ReferenceCategory classifies a Reference entry.
type ReferenceCategory string

const (
	ReferenceNVD      ReferenceCategory = "NVD"
	ReferenceExploit  ReferenceCategory = "EXPLOIT"
	ReferenceAdvisory ReferenceCategory = "ADVISORY"
	ReferenceOther    ReferenceCategory = "OTHER"
)

// PoCSource identifies where a ProofOfConcept came from.
type PoCSource string

const (
	PoCSourceEtc             PoCSource = "Etc"
	PoCSourceMetasploit      PoCSource = "Metasploit"
	PoCSourceNucleiTemplates PoCSource = "Nuclei-Templates"
	PoCSourceEmergingThreats PoCSource = "Emerging-Threats"
)

// MaxCommentDepth caps how deep a comment thread may nest; exceeding it
// is a ValidationError, not a silent clip.
const MaxCommentDepth = 10

// AuditQuadruple is embedded in every sub-document that tracks who
// created/last touched it and when.
type AuditQuadruple struct {
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	CreatedBy      string    `bson:"created_by" json:"created_by"`
	LastModifiedAt time.Time `bson:"last_modified_at" json:"last_modified_at"`
	LastModifiedBy string    `bson:"last_modified_by" json:"last_modified_by"`
}

// Reference is an external link attached to a CVE.
type Reference struct {
	URL         string            `bson:"url" json:"url"`
	Category    ReferenceCategory `bson:"category" json:"category"`
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	AuditQuadruple `bson:",inline"`
}

// DiffKey identifies a Reference for item-level diffing and dedupe: by URL.
func (r Reference) DiffKey() string { return r.URL }

// ProofOfConcept is a PoC artifact attached to a CVE.
type ProofOfConcept struct {
	Source      PoCSource `bson:"source" json:"source"`
	URL         string    `bson:"url" json:"url"`
	Description string    `bson:"description,omitempty" json:"description,omitempty"`
	AuditQuadruple `bson:",inline"`
}

// DiffKey identifies a ProofOfConcept for item-level diffing and dedupe: by URL.
func (p ProofOfConcept) DiffKey() string { return p.URL }

// SnortRule is a detection rule attached to a CVE.
type SnortRule struct {
	Rule        string `bson:"rule" json:"rule"`
	Type        string `bson:"type" json:"type"`
	SID         string `bson:"sid,omitempty" json:"sid,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	AuditQuadruple `bson:",inline"`
}

// DiffKey identifies a SnortRule for item-level diffing and dedupe: by sid.
func (s SnortRule) DiffKey() string { return s.SID }

// Comment is embedded in a CVE, forming a tree via ParentID.
type Comment struct {
	ID             string    `bson:"id" json:"id"`
	Content        string    `bson:"content" json:"content"`
	CreatedBy      string    `bson:"created_by" json:"created_by"`
	ParentID       string    `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	Depth          int       `bson:"depth" json:"depth"`
	IsDeleted      bool      `bson:"is_deleted" json:"is_deleted"`
	Mentions       []string  `bson:"mentions,omitempty" json:"mentions,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastModifiedAt time.Time `bson:"last_modified_at" json:"last_modified_at"`
}

// ModificationEntry is one append-only ModificationHistory record.
type ModificationEntry struct {
	Username   string            `bson:"username" json:"username"`
	ModifiedAt time.Time         `bson:"modified_at" json:"modified_at"`
	Changes    []changes.Change  `bson:"changes" json:"changes"`
}

// Lock is the edit-lock tuple, 30-minute default lease.
type Lock struct {
	IsLocked      bool       `bson:"is_locked" json:"is_locked"`
	LockedBy      string     `bson:"locked_by,omitempty" json:"locked_by,omitempty"`
	LockTimestamp *time.Time `bson:"lock_timestamp,omitempty" json:"lock_timestamp,omitempty"`
	LockExpiresAt *time.Time `bson:"lock_expires_at,omitempty" json:"lock_expires_at,omitempty"`
}

// CVE is the single converged document for a vulnerability record.
type CVE struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	CVEID  string             `bson:"cve_id" json:"cve_id"`
	Title       string   `bson:"title" json:"title"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Status      Status   `bson:"status" json:"status"`
	AssignedTo  string   `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	Severity    Severity `bson:"severity" json:"severity"`

	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastModifiedAt time.Time `bson:"last_modified_at" json:"last_modified_at"`
	CreatedBy      string    `bson:"created_by" json:"created_by"`
	LastModifiedBy string    `bson:"last_modified_by" json:"last_modified_by"`

	NucleiHash string `bson:"nuclei_hash,omitempty" json:"nuclei_hash,omitempty"`
	Notes      string `bson:"notes,omitempty" json:"notes,omitempty"`

	Lock `bson:",inline"`

	References []Reference      `bson:"references,omitempty" json:"references,omitempty"`
	PoCs       []ProofOfConcept `bson:"pocs,omitempty" json:"pocs,omitempty"`
	SnortRules []SnortRule      `bson:"snort_rules,omitempty" json:"snort_rules,omitempty"`
	Comments   []Comment        `bson:"comments,omitempty" json:"comments,omitempty"`

	ModificationHistory []ModificationEntry `bson:"modification_history,omitempty" json:"modification_history,omitempty"`
}

// NormalizeSeverity implements the §4.5 tolerant severity mapping. It is
// idempotent: calling it again on an already-normalized value is a no-op.
func NormalizeSeverity(raw string) Severity {
	switch normalizeToken(raw) {
	case "critical", "crit":
		return SeverityCritical
	case "high", "severe":
		return SeverityHigh
	case "medium", "moderate", "med":
		return SeverityMedium
	case "low", "minor":
		return SeverityLow
	case "info", "information":
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

func normalizeToken(raw string) string {
	out := make([]rune, 0, len(raw))
	for _, r := range raw {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}
