// Package changes implements the field-level diff engine (C6) the upsert
// engine uses to build ModificationHistory entries.
package changes

import (
	"fmt"
	"reflect"
)

// Action classifies how a field moved between two document states.
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// DetailType distinguishes a scalar before/after change from an
// item-level collection summary.
type DetailType string

const (
	DetailSimple   DetailType = "simple"
	DetailDetailed DetailType = "detailed"
)

// Change is one entry in a ModificationHistory record's changes list.
type Change struct {
	Field      string     `bson:"field" json:"field"`
	FieldLabel string     `bson:"field_label" json:"field_label"`
	Action     Action     `bson:"action" json:"action"`
	DetailType DetailType `bson:"detail_type" json:"detail_type"`
	Before     any        `bson:"before,omitempty" json:"before,omitempty"`
	After      any        `bson:"after,omitempty" json:"after,omitempty"`
	Summary    string     `bson:"summary" json:"summary"`
}

// fieldLabels maps known field names to their display label. Unknown
// fields fall back to the raw key.
var fieldLabels = map[string]string{
	"status":      "상태",
	"severity":    "심각도",
	"assigned_to": "담당자",
	"title":       "제목",
	"description": "설명",
	"notes":       "메모",
	"references":  "참고자료",
	"pocs":        "증명코드",
	"snort_rules":  "스노트룰",
}

func label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// DefaultIgnoreFields is the set of audit fields never diffed.
func DefaultIgnoreFields() map[string]struct{} {
	return map[string]struct{}{
		"last_modified_at": {},
		"last_modified_by": {},
	}
}

const truncateLimit = 100

func truncate(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	runes := []rune(s)
	if len(runes) <= truncateLimit {
		return s
	}
	return string(runes[:truncateLimit]) + "..."
}

// Identifiable is implemented by collection items the detector can diff
// item-by-item instead of as an opaque scalar blob.
type Identifiable interface {
	DiffKey() string
}

// ItemDiff is the item-level result for a list-valued field.
type ItemDiff struct {
	Added    int
	Removed  int
	Modified int
}

// Diff compares old and new, both maps from field name to value, and
// returns one Change per field that differs, skipping anything in
// ignoreFields. Scalar values produce a detailed change with truncated
// before/after; values implementing []Identifiable produce a simple
// change summarizing item-level adds/removes/edits.
func Diff(old, new map[string]any, ignoreFields map[string]struct{}) []Change {
	if ignoreFields == nil {
		ignoreFields = DefaultIgnoreFields()
	}

	seen := make(map[string]struct{})
	var out []Change

	for field := range old {
		seen[field] = struct{}{}
	}
	for field := range new {
		seen[field] = struct{}{}
	}

	for field := range seen {
		if _, skip := ignoreFields[field]; skip {
			continue
		}

		oldVal, inOld := old[field]
		newVal, inNew := new[field]

		switch {
		case !inOld && inNew:
			out = append(out, scalarChange(field, ActionAdd, nil, newVal))
		case inOld && !inNew:
			out = append(out, scalarChange(field, ActionDelete, oldVal, nil))
		case inOld && inNew:
			if c, changed := diffPresent(field, oldVal, newVal); changed {
				out = append(out, c)
			}
		}
	}

	return out
}

func diffPresent(field string, oldVal, newVal any) (Change, bool) {
	oldItems, oldIsList := asIdentifiableList(oldVal)
	newItems, newIsList := asIdentifiableList(newVal)

	if oldIsList && newIsList {
		diff := diffItems(oldItems, newItems)
		if diff.Added == 0 && diff.Removed == 0 && diff.Modified == 0 {
			return Change{}, false
		}
		return Change{
			Field:      field,
			FieldLabel: label(field),
			Action:     ActionEdit,
			DetailType: DetailSimple,
			Summary:    fmt.Sprintf("%s: +%d -%d ~%d", label(field), diff.Added, diff.Removed, diff.Modified),
		}, true
	}

	if reflect.DeepEqual(oldVal, newVal) {
		return Change{}, false
	}
	return scalarChange(field, ActionEdit, oldVal, newVal), true
}

func scalarChange(field string, action Action, before, after any) Change {
	var summary string
	switch action {
	case ActionAdd:
		summary = fmt.Sprintf("%s added", label(field))
	case ActionDelete:
		summary = fmt.Sprintf("%s removed", label(field))
	default:
		summary = fmt.Sprintf("%s changed", label(field))
	}
	return Change{
		Field:      field,
		FieldLabel: label(field),
		Action:     action,
		DetailType: DetailDetailed,
		Before:     truncate(before),
		After:      truncate(after),
		Summary:    summary,
	}
}

func asIdentifiableList(v any) ([]Identifiable, bool) {
	items, ok := v.([]Identifiable)
	return items, ok
}

func diffItems(old, new []Identifiable) ItemDiff {
	oldByKey := make(map[string]Identifiable, len(old))
	for _, it := range old {
		oldByKey[it.DiffKey()] = it
	}
	newByKey := make(map[string]Identifiable, len(new))
	for _, it := range new {
		newByKey[it.DiffKey()] = it
	}

	var diff ItemDiff
	for key, newItem := range newByKey {
		oldItem, existed := oldByKey[key]
		if !existed {
			diff.Added++
			continue
		}
		if !reflect.DeepEqual(oldItem, newItem) {
			diff.Modified++
		}
	}
	for key := range oldByKey {
		if _, stillPresent := newByKey[key]; !stillPresent {
			diff.Removed++
		}
	}
	return diff
}
