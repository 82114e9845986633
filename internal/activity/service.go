package activity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/changes"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Service appends and queries UserActivity records.
type Service struct {
	store *store.Store
	clock clock.Clock
	log   *logger.Logger
}

// New builds a Service.
func New(s *store.Store, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{store: s, clock: clk, log: log.WithComponent("activity")}
}

// Extractor supplies the target identity and change set for one activity
// record, evaluated by Record when it builds the entry — this is the
// "decorator-like helper" §4 calls for, so callers at the mutation site
// don't duplicate record construction.
type Extractor func() (targetID, targetTitle string, chs []changes.Change)

// Record appends one activity entry. Failures are logged, not
// propagated: the activity log is observational and must never block
// the mutation it describes.
func (s *Service) Record(ctx context.Context, username string, action Action, targetType TargetType, extract Extractor) {
	targetID, targetTitle, chs := extract()
	rec := Record{
		Username:    username,
		Timestamp:   s.clock.Now(),
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		TargetTitle: targetTitle,
		Changes:     chs,
	}
	coll := s.store.Collection(store.CollectionUserActivities)
	if _, err := store.Insert(ctx, coll, rec); err != nil {
		s.log.ErrorContext(ctx, "failed to record activity",
			"username", username, "action", action, "target_type", targetType, "error", err)
	}
}

// Simple is a convenience Extractor for callers with no change set to
// attach, e.g. login/logout.
func Simple(targetID, targetTitle string) Extractor {
	return func() (string, string, []changes.Change) { return targetID, targetTitle, nil }
}

// WithChanges is a convenience Extractor carrying a computed change set.
func WithChanges(targetID, targetTitle string, chs []changes.Change) Extractor {
	return func() (string, string, []changes.Change) { return targetID, targetTitle, chs }
}

// PageResult is the shape every paged query below returns.
type PageResult struct {
	Total int64
	Items []Record
}

const defaultLimit = 20

func clampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = defaultLimit
	}
	return page, limit
}

// ByUser returns username's activity, newest first, paged.
func (s *Service) ByUser(ctx context.Context, username string, page, limit int) (PageResult, error) {
	page, limit = clampPage(page, limit)
	return s.query(ctx, bson.M{"username": username}, page, limit)
}

// ByTarget returns activity for one (target_type, target_id) pair, paged.
func (s *Service) ByTarget(ctx context.Context, targetType TargetType, targetID string, page, limit int) (PageResult, error) {
	page, limit = clampPage(page, limit)
	return s.query(ctx, bson.M{"target_type": string(targetType), "target_id": targetID}, page, limit)
}

// Filters narrows the combined-filter query: comma-separated OR on
// target_type/action, exact username/target_id, and a range on the
// record's timestamp.
type Filters struct {
	TargetTypes []string
	Actions     []string
	Username    string
	TargetID    string
	From, To    *time.Time
	Page, Limit int
}

// Filter implements the combined-filter activity endpoint.
func (s *Service) Filter(ctx context.Context, f Filters) (PageResult, error) {
	page, limit := clampPage(f.Page, f.Limit)
	filter := bson.M{}
	if len(f.TargetTypes) > 0 {
		filter["target_type"] = bson.M{"$in": f.TargetTypes}
	}
	if len(f.Actions) > 0 {
		filter["action"] = bson.M{"$in": f.Actions}
	}
	if f.Username != "" {
		filter["username"] = f.Username
	}
	if f.TargetID != "" {
		filter["target_id"] = f.TargetID
	}
	if f.From != nil || f.To != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = *f.From
		}
		if f.To != nil {
			rng["$lte"] = *f.To
		}
		filter["timestamp"] = rng
	}
	return s.query(ctx, filter, page, limit)
}

func (s *Service) query(ctx context.Context, filter bson.M, page, limit int) (PageResult, error) {
	coll := s.store.Collection(store.CollectionUserActivities)
	total, err := store.Count(ctx, coll, filter)
	if err != nil {
		return PageResult{}, &apperr.StorageError{Op: "activity_count", Cause: err}
	}
	items, err := store.FindMany[Record](ctx, coll, filter, store.FindOptions{
		Sort:  bson.D{{Key: "timestamp", Value: -1}},
		Skip:  int64((page - 1) * limit),
		Limit: int64(limit),
	})
	if err != nil {
		return PageResult{}, &apperr.StorageError{Op: "activity_query", Cause: err}
	}
	return PageResult{Total: total, Items: items}, nil
}
