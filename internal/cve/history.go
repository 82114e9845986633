package cve

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/changes"
	"github.com/cvehub/cvehub/internal/store"
)

// crawlerUsernamePrefix marks modification-history entries written by a
// crawler rather than a human, for the recent-history endpoint's
// crawlers_only filter.
const crawlerUsernamePrefix = "crawler:"

// HistoryEntry is one row of the cross-CVE recent-history listing.
type HistoryEntry struct {
	CVEID      string           `bson:"cve_id" json:"cve_id"`
	Title      string           `bson:"title" json:"title"`
	Username   string           `bson:"username" json:"username"`
	ModifiedAt time.Time        `bson:"modified_at" json:"modified_at"`
	Changes    []changes.Change `bson:"changes" json:"changes"`
}

// HistoryFilters narrows RecentHistory's result set.
type HistoryFilters struct {
	Days         int
	CrawlersOnly bool
	Username     string
	Page         int
	Limit        int
}

// RecentHistory implements the GET /update-history/recent endpoint: a
// cross-CVE $unwind over modification_history filtered by day range,
// optional crawlers_only and username, paged.
func (e *Engine) RecentHistory(ctx context.Context, f HistoryFilters) ([]HistoryEntry, error) {
	if f.Days <= 0 {
		f.Days = 7
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}

	since := e.clock.Now().Add(-time.Duration(f.Days) * 24 * time.Hour)

	matchHistory := bson.M{"modification_history.modified_at": bson.M{"$gte": since}}
	if f.Username != "" {
		matchHistory["modification_history.username"] = f.Username
	}
	if f.CrawlersOnly {
		matchHistory["modification_history.username"] = bson.M{"$regex": "^" + crawlerUsernamePrefix}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$modification_history"}},
		{{Key: "$match", Value: matchHistory}},
		{{Key: "$sort", Value: bson.D{{Key: "modification_history.modified_at", Value: -1}}}},
		{{Key: "$skip", Value: int64((f.Page - 1) * f.Limit)}},
		{{Key: "$limit", Value: int64(f.Limit)}},
		{{Key: "$project", Value: bson.M{
			"cve_id":      1,
			"title":       1,
			"username":    "$modification_history.username",
			"modified_at": "$modification_history.modified_at",
			"changes":     "$modification_history.changes",
		}}},
	}

	coll := e.store.Collection(store.CollectionCVEs)
	out, err := store.Aggregate[HistoryEntry](ctx, coll, pipeline)
	if err != nil {
		return nil, &apperr.StorageError{Op: "recent_history", Cause: err}
	}
	return out, nil
}

// FieldCount is one row of HistoryStats's per-field breakdown.
type FieldCount struct {
	Field string `bson:"_id" json:"field"`
	Count int64  `bson:"count" json:"count"`
}

// UserCount is one row of HistoryStats's per-user breakdown.
type UserCount struct {
	Username string `bson:"_id" json:"username"`
	Count    int64  `bson:"count" json:"count"`
}

// DayCount is one row of HistoryStats's per-day breakdown.
type DayCount struct {
	Day   string `bson:"_id" json:"day"`
	Count int64  `bson:"count" json:"count"`
}

// HistoryStats is the GET /update-history/stats result shape.
type HistoryStats struct {
	ByUser  []UserCount  `json:"by_user"`
	ByField []FieldCount `json:"by_field"`
	ByDay   []DayCount   `json:"by_day"`
}

// HistoryStats implements the GET /update-history/stats endpoint: totals
// by user, field, and day over the window.
func (e *Engine) HistoryStats(ctx context.Context, days int) (HistoryStats, error) {
	if days <= 0 {
		days = 7
	}
	since := e.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	coll := e.store.Collection(store.CollectionCVEs)

	base := mongo.Pipeline{
		{{Key: "$unwind", Value: "$modification_history"}},
		{{Key: "$match", Value: bson.M{"modification_history.modified_at": bson.M{"$gte": since}}}},
	}

	byUserPipeline := append(append(mongo.Pipeline{}, base...),
		bson.D{{Key: "$group", Value: bson.M{"_id": "$modification_history.username", "count": bson.M{"$sum": 1}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	)
	byUser, err := store.Aggregate[UserCount](ctx, coll, byUserPipeline)
	if err != nil {
		return HistoryStats{}, &apperr.StorageError{Op: "history_stats.by_user", Cause: err}
	}

	byFieldPipeline := append(append(mongo.Pipeline{}, base...),
		bson.D{{Key: "$unwind", Value: "$modification_history.changes"}},
		bson.D{{Key: "$group", Value: bson.M{"_id": "$modification_history.changes.field", "count": bson.M{"$sum": 1}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	)
	byField, err := store.Aggregate[FieldCount](ctx, coll, byFieldPipeline)
	if err != nil {
		return HistoryStats{}, &apperr.StorageError{Op: "history_stats.by_field", Cause: err}
	}

	byDayPipeline := append(append(mongo.Pipeline{}, base...),
		bson.D{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$modification_history.modified_at"}},
			"count": bson.M{"$sum": 1},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)
	byDay, err := store.Aggregate[DayCount](ctx, coll, byDayPipeline)
	if err != nil {
		return HistoryStats{}, &apperr.StorageError{Op: "history_stats.by_day", Cause: err}
	}

	return HistoryStats{ByUser: byUser, ByField: byField, ByDay: byDay}, nil
}

// CrawlerUsername tags a modification-history entry as crawler-authored,
// matching the crawlers_only sentinel prefix.
func CrawlerUsername(sourceTag string) string {
	return crawlerUsernamePrefix + strings.ToLower(sourceTag)
}
