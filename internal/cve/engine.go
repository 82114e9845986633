package cve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/cache"
	"github.com/cvehub/cvehub/internal/changes"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Engine is the CVE upsert engine (C7): the only path CVE documents are
// created, updated, replaced or deleted through.
type Engine struct {
	store *store.Store
	cache *cache.Cache
	hub   *realtime.Hub
	clock clock.Clock
	log   *logger.Logger
}

// New builds an Engine. hub may be nil in contexts that don't need push
// fan-out (e.g. offline migration tooling).
func New(s *store.Store, c *cache.Cache, hub *realtime.Hub, clk clock.Clock, log *logger.Logger) *Engine {
	return &Engine{store: s, cache: c, hub: hub, clock: clk, log: log.WithComponent("cve")}
}

// ListFilters narrows get_list's result set.
type ListFilters struct {
	Status   string
	Severity string
	Search   string
}

// ListResult is get_list's return shape.
type ListResult struct {
	Total int64
	Items []CVE
	Page  int
	Limit int
}

// listProjection restricts get_list's documents to list-view essentials,
// per §4.5.
var listProjection = bson.M{
	"cve_id": 1, "title": 1, "status": 1, "severity": 1, "assigned_to": 1,
	"created_at": 1, "last_modified_at": 1, "created_by": 1, "last_modified_by": 1,
	"is_locked": 1, "locked_by": 1, "lock_expires_at": 1,
}

// GetList implements §4.5's get_list.
func (e *Engine) GetList(ctx context.Context, page, limit int, f ListFilters) (ListResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Severity != "" {
		filter["severity"] = f.Severity
	}
	if f.Search != "" {
		escaped := strings.ReplaceAll(f.Search, `"`, `\"`)
		filter["$or"] = []bson.M{
			{"cve_id": bson.M{"$regex": escaped, "$options": "i"}},
			{"title": bson.M{"$regex": escaped, "$options": "i"}},
			{"description": bson.M{"$regex": escaped, "$options": "i"}},
		}
	}

	coll := e.store.Collection(store.CollectionCVEs)

	total, err := store.Count(ctx, coll, filter)
	if err != nil {
		return ListResult{}, &apperr.StorageError{Op: "get_list.count", Cause: err}
	}

	items, err := store.FindMany[CVE](ctx, coll, filter, store.FindOptions{
		Projection: listProjection,
		Sort:       bson.D{{Key: "last_modified_at", Value: -1}, {Key: "created_at", Value: -1}},
		Skip:       int64((page - 1) * limit),
		Limit:      int64(limit),
	})
	if err != nil {
		return ListResult{}, &apperr.StorageError{Op: "get_list.find", Cause: err}
	}

	return ListResult{Total: total, Items: items, Page: page, Limit: limit}, nil
}

// GetDetail implements §4.5's get_detail: case-insensitive lookup, nil (no
// error) when absent.
func (e *Engine) GetDetail(ctx context.Context, cveID string) (*CVE, error) {
	coll := e.store.Collection(store.CollectionCVEs)
	doc, err := store.FindOne[CVE](ctx, coll, store.CVEIDFilter(cveID), nil)
	if err != nil {
		return nil, &apperr.StorageError{Op: "get_detail", Cause: err}
	}
	return doc, nil
}

// CreateInput is what Create accepts from a caller.
type CreateInput struct {
	CVEID       string
	Title       string
	Description string
	Severity    string
	Notes       string
}

// Create implements §4.5's create. Rejects if cve_id already exists
// case-insensitively.
func (e *Engine) Create(ctx context.Context, in CreateInput, creator string) (*CVE, error) {
	if strings.TrimSpace(in.CVEID) == "" {
		return nil, apperr.NewValidation("cve_id is required", "cve_id", "required")
	}

	existing, err := e.GetDetail(ctx, in.CVEID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &apperr.ConflictError{Message: fmt.Sprintf("cve %s already exists", in.CVEID)}
	}

	now := e.clock.Now()
	doc := CVE{
		CVEID:          strings.ToUpper(in.CVEID),
		Title:          in.Title,
		Description:    in.Description,
		Status:         StatusNew,
		Severity:       NormalizeSeverity(in.Severity),
		Notes:          in.Notes,
		CreatedAt:      now,
		LastModifiedAt: now,
		CreatedBy:      creator,
		LastModifiedBy: creator,
	}
	doc.ModificationHistory = []ModificationEntry{{
		Username:   creator,
		ModifiedAt: now,
		Changes: []changes.Change{{
			Field: "cve_id", FieldLabel: "cve_id", Action: changes.ActionAdd,
			DetailType: changes.DetailDetailed, After: doc.CVEID, Summary: "created",
		}},
	}}

	coll := e.store.Collection(store.CollectionCVEs)
	if _, err := store.Insert(ctx, coll, doc); err != nil {
		return nil, &apperr.StorageError{Op: "create", Cause: err}
	}

	e.afterWrite(ctx, doc.CVEID, realtime.EventCVECreated, &doc)
	return &doc, nil
}

// UpdatePatch is a sparse set of fields to apply. Only non-nil pointers
// are considered present, matching PATCH semantics.
type UpdatePatch struct {
	Title       *string
	Description *string
	Status      *string
	AssignedTo  *string
	Severity    *string
	Notes       *string
}

// Update implements §4.5's update: loads current, diffs via C6, applies
// $set of changed fields, appends ModificationHistory iff non-empty.
func (e *Engine) Update(ctx context.Context, cveID string, patch UpdatePatch, updater string) (*CVE, error) {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.NotFoundError{ID: cveID}
	}

	oldMap := changeMap(current)
	newMap := changeMap(current)
	fields := bson.M{}

	applyIfSet(patch.Title, "title", newMap, fields)
	applyIfSet(patch.Description, "description", newMap, fields)
	applyIfSet(patch.Status, "status", newMap, fields)
	applyIfSet(patch.AssignedTo, "assigned_to", newMap, fields)
	applyIfSet(patch.Notes, "notes", newMap, fields)
	if patch.Severity != nil {
		norm := string(NormalizeSeverity(*patch.Severity))
		newMap["severity"] = norm
		fields["severity"] = norm
	}

	changeSet := changes.Diff(oldMap, newMap, nil)

	if len(changeSet) == 0 {
		return current, nil
	}

	now := e.clock.Now()
	fields["last_modified_at"] = now
	fields["last_modified_by"] = updater

	coll := e.store.Collection(store.CollectionCVEs)
	entry := ModificationEntry{Username: updater, ModifiedAt: now, Changes: changeSet}

	err = store.WithRetry(ctx, func(ctx context.Context) error {
		if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpSet, fields); err != nil {
			return err
		}
		return store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpPush, bson.M{"modification_history": entry})
	})
	if err != nil {
		// §7: on write failure, fall back to replace (whole-document swap).
		if replaceErr := e.replaceFromPatch(ctx, current, fields, entry); replaceErr != nil {
			return nil, &apperr.StorageError{Op: "update", Cause: err}
		}
	}

	post, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}

	e.afterWrite(ctx, cveID, realtime.EventCVEUpdated, post)
	return post, nil
}

func (e *Engine) replaceFromPatch(ctx context.Context, current *CVE, fields bson.M, entry ModificationEntry) error {
	updated := *current
	if v, ok := fields["title"].(string); ok {
		updated.Title = v
	}
	if v, ok := fields["description"].(string); ok {
		updated.Description = v
	}
	if v, ok := fields["status"].(string); ok {
		updated.Status = Status(v)
	}
	if v, ok := fields["assigned_to"].(string); ok {
		updated.AssignedTo = v
	}
	if v, ok := fields["notes"].(string); ok {
		updated.Notes = v
	}
	if v, ok := fields["severity"].(string); ok {
		updated.Severity = Severity(v)
	}
	if v, ok := fields["last_modified_at"].(time.Time); ok {
		updated.LastModifiedAt = v
	}
	if v, ok := fields["last_modified_by"].(string); ok {
		updated.LastModifiedBy = v
	}
	updated.ModificationHistory = append(updated.ModificationHistory, entry)

	return e.Replace(ctx, updated.CVEID, updated)
}

// Replace implements §4.5's replace: overwrites all fields except _id.
func (e *Engine) Replace(ctx context.Context, cveID string, doc CVE) error {
	coll := e.store.Collection(store.CollectionCVEs)
	bdoc, err := bson.Marshal(doc)
	if err != nil {
		return &apperr.StorageError{Op: "replace.marshal", Cause: err}
	}
	var m bson.M
	if err := bson.Unmarshal(bdoc, &m); err != nil {
		return &apperr.StorageError{Op: "replace.unmarshal", Cause: err}
	}
	if err := store.ReplaceOne(ctx, coll, store.CVEIDFilter(cveID), m); err != nil {
		return &apperr.StorageError{Op: "replace", Cause: err}
	}
	return nil
}

// Delete implements §4.5's delete: hard delete.
func (e *Engine) Delete(ctx context.Context, cveID string) error {
	existing, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return err
	}
	if existing == nil {
		return &apperr.NotFoundError{ID: cveID}
	}

	coll := e.store.Collection(store.CollectionCVEs)
	if err := store.DeleteOne(ctx, coll, store.CVEIDFilter(cveID)); err != nil {
		return &apperr.StorageError{Op: "delete", Cause: err}
	}

	e.afterWrite(ctx, cveID, realtime.EventCVEDeleted, nil)
	return nil
}

// BulkResult is bulk_upsert's return shape.
type BulkResult struct {
	Success map[string]string
	Errors  map[string]string
}

// BulkUpsert implements §4.5's bulk_upsert: per item chooses create or
// update; a single item's failure must not abort the batch.
func (e *Engine) BulkUpsert(ctx context.Context, items []CreateInput, creator string) BulkResult {
	result := BulkResult{Success: map[string]string{}, Errors: map[string]string{}}

	for _, item := range items {
		existing, err := e.GetDetail(ctx, item.CVEID)
		if err != nil {
			result.Errors[item.CVEID] = err.Error()
			continue
		}

		if existing == nil {
			if _, err := e.Create(ctx, item, creator); err != nil {
				result.Errors[item.CVEID] = err.Error()
				continue
			}
			result.Success[item.CVEID] = "created"
			continue
		}

		patch := UpdatePatch{}
		if item.Title != "" {
			patch.Title = &item.Title
		}
		if item.Description != "" {
			patch.Description = &item.Description
		}
		if item.Severity != "" {
			patch.Severity = &item.Severity
		}
		if _, err := e.Update(ctx, item.CVEID, patch, creator); err != nil {
			result.Errors[item.CVEID] = err.Error()
			continue
		}
		result.Success[item.CVEID] = "updated"
	}

	return result
}

// Stats is stats()'s return shape.
type Stats struct {
	TotalCount        int64
	HighSeverityCount int64
	NewLastWeekCount  int64
	InProgressCount   int64
	CompletedCount    int64
}

// GetStats implements §4.5's stats(): per-field count queries, not an
// in-memory scan.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	coll := e.store.Collection(store.CollectionCVEs)
	var s Stats
	var err error

	if s.TotalCount, err = store.Count(ctx, coll, bson.M{}); err != nil {
		return s, &apperr.StorageError{Op: "stats.total", Cause: err}
	}
	if s.HighSeverityCount, err = store.Count(ctx, coll, bson.M{"severity": string(SeverityHigh)}); err != nil {
		return s, &apperr.StorageError{Op: "stats.high", Cause: err}
	}
	weekAgo := e.clock.Now().Add(-7 * 24 * time.Hour)
	if s.NewLastWeekCount, err = store.Count(ctx, coll, bson.M{"created_at": bson.M{"$gte": weekAgo}}); err != nil {
		return s, &apperr.StorageError{Op: "stats.new_last_week", Cause: err}
	}
	if s.InProgressCount, err = store.Count(ctx, coll, bson.M{"status": string(StatusAnalyzing)}); err != nil {
		return s, &apperr.StorageError{Op: "stats.in_progress", Cause: err}
	}
	if s.CompletedCount, err = store.Count(ctx, coll, bson.M{"status": string(StatusReleaseComplete)}); err != nil {
		return s, &apperr.StorageError{Op: "stats.completed", Cause: err}
	}
	return s, nil
}

// afterWrite implements the common tail of every mutating operation in
// §4.5: invalidate caches, then emit exactly one push event scoped to the
// CVE's subscribers.
func (e *Engine) afterWrite(ctx context.Context, cveID, event string, post *CVE) {
	if e.cache != nil {
		result, err := e.cache.InvalidateCVE(ctx, cveID)
		if err != nil {
			e.log.WithError(err).Warn("cache invalidation failed", "cve_id", cveID)
		} else if e.hub != nil {
			e.hub.Emit(realtime.EventCacheInvalidated, realtime.CacheInvalidatedPayload{
				CVEID:             cveID,
				InvalidatedDetail: result.InvalidatedDetail,
				InvalidatedLists:  result.InvalidatedLists,
			}, realtime.Target{CVESubscribers: cveID})
		}
	}
	if e.hub != nil {
		e.hub.Emit(event, post, realtime.Target{CVESubscribers: cveID})
	}
}

func applyIfSet(v *string, field string, newMap map[string]any, fields bson.M) {
	if v == nil {
		return
	}
	newMap[field] = *v
	fields[field] = *v
}

// changeMap projects a CVE's human-editable and audit-adjacent fields
// into the map shape C6's Diff operates on.
func changeMap(c *CVE) map[string]any {
	m := map[string]any{
		"title":       c.Title,
		"description": c.Description,
		"status":      string(c.Status),
		"severity":    string(c.Severity),
		"notes":       c.Notes,
	}
	if c.AssignedTo != "" {
		m["assigned_to"] = c.AssignedTo
	}
	return m
}
