// Package store adapts the document-store contract (§4.1) onto
// go.mongodb.org/mongo-driver. It is the only package that connects to
// MongoDB and runs driver operations; other packages build bson filters
// and aggregation pipelines and run them through this one's typed helpers.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
	"github.com/cvehub/cvehub/pkg/telemetry"
)

// Collection names, one per entity per §6's "persisted state layout."
const (
	CollectionCVEs           = "cves"
	CollectionUsers          = "users"
	CollectionRefreshTokens  = "refresh_tokens"
	CollectionNotifications  = "notifications"
	CollectionUserActivities = "user_activities"
	CollectionSystemConfig   = "system_config"
)

// OpType selects the update operator update_one applies.
type OpType string

const (
	OpSet  OpType = "set"
	OpPush OpType = "push"
	OpPull OpType = "pull"
)

// Store is a thin handle on the database plus the collections the rest of
// the system addresses by name.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// New connects to MongoDB and provisions the indexes described in §4.1.
func New(ctx context.Context, cfg config.MongoConfig, log *logger.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.DatabaseName),
		log:    log.WithComponent("store"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return s, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Health pings the primary.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Collection returns the raw *mongo.Collection for name, for packages that
// need operations not exposed by the generic helpers below (e.g.
// aggregation pipelines specific to one domain).
func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	cves := s.db.Collection(CollectionCVEs)
	cveModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "cve_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "assigned_to", Value: 1}}},
		{Keys: bson.D{{Key: "last_modified_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_modified_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "cve_id", Value: "text"}, {Key: "title", Value: "text"}, {Key: "description", Value: "text"}},
			Options: options.Index().SetName("cve_text_search"),
		},
	}
	if _, err := cves.Indexes().CreateMany(ctx, cveModels); err != nil {
		return fmt.Errorf("cves indexes: %w", err)
	}

	refreshTokens := s.db.Collection(CollectionRefreshTokens)
	rtModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	}
	if _, err := refreshTokens.Indexes().CreateMany(ctx, rtModels); err != nil {
		return fmt.Errorf("refresh_tokens indexes: %w", err)
	}

	notifications := s.db.Collection(CollectionNotifications)
	notifModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "recipient_id", Value: 1}}},
		{Keys: bson.D{{Key: "recipient_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := notifications.Indexes().CreateMany(ctx, notifModels); err != nil {
		return fmt.Errorf("notifications indexes: %w", err)
	}

	activities := s.db.Collection(CollectionUserActivities)
	actModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}},
		{Keys: bson.D{{Key: "target_type", Value: 1}}},
		{Keys: bson.D{{Key: "target_id", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "target_type", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := activities.Indexes().CreateMany(ctx, actModels); err != nil {
		return fmt.Errorf("user_activities indexes: %w", err)
	}

	return nil
}

// CVEIDFilter builds the anchored, case-insensitive match mandated by
// §4.1 for every cve_id lookup.
func CVEIDFilter(cveID string) bson.M {
	escaped := regexp.QuoteMeta(strings.ToUpper(cveID))
	return bson.M{"cve_id": bson.M{"$regex": primitive.Regex{Pattern: "^" + escaped + "$", Options: "i"}}}
}

// FindOptions tunes FindMany beyond a bare filter.
type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Skip       int64
	Limit      int64
}

// FindOne decodes a single document matching filter into a fresh *T, or
// returns (nil, nil) if no document matches.
func FindOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, projection bson.M) (*T, error) {
	ctx, span := telemetry.StoreSpan(ctx, "find_one", coll.Name())
	defer span.End()

	opts := options.FindOne()
	if projection != nil {
		opts.SetProjection(projection)
	}

	var out T
	err := coll.FindOne(ctx, filter, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("find_one on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return &out, nil
}

// FindMany decodes every matching document into a []T, honoring
// projection, sort, skip and limit.
func FindMany[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, fo FindOptions) ([]T, error) {
	ctx, span := telemetry.StoreSpan(ctx, "find_many", coll.Name())
	defer span.End()

	opts := options.Find()
	if fo.Projection != nil {
		opts.SetProjection(fo.Projection)
	}
	if fo.Sort != nil {
		opts.SetSort(fo.Sort)
	}
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("find_many on %s: %w", coll.Name(), err)
	}
	defer cur.Close(ctx)

	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("decode find_many on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return out, nil
}

// Count returns the number of documents matching filter.
func Count(ctx context.Context, coll *mongo.Collection, filter bson.M) (int64, error) {
	ctx, span := telemetry.StoreSpan(ctx, "count", coll.Name())
	defer span.End()

	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		span.SetError(err)
		return 0, fmt.Errorf("count on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return n, nil
}

// Insert inserts doc and returns the assigned _id.
func Insert(ctx context.Context, coll *mongo.Collection, doc any) (primitive.ObjectID, error) {
	ctx, span := telemetry.StoreSpan(ctx, "insert", coll.Name())
	defer span.End()

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		span.SetError(err)
		return primitive.NilObjectID, fmt.Errorf("insert into %s: %w", coll.Name(), err)
	}
	span.SetOK()
	oid, _ := res.InsertedID.(primitive.ObjectID)
	return oid, nil
}

// UpdateOne applies a $set/$push/$pull update built from fields. fields
// keyed by dotted path per the sub-document being targeted. _id is always
// stripped from fields, matching the "adapter must strip _id from update
// payloads" requirement.
func UpdateOne(ctx context.Context, coll *mongo.Collection, filter bson.M, op OpType, fields bson.M) error {
	ctx, span := telemetry.StoreSpan(ctx, "update_one:"+string(op), coll.Name())
	defer span.End()

	delete(fields, "_id")

	var operator string
	switch op {
	case OpSet:
		operator = "$set"
	case OpPush:
		operator = "$push"
	case OpPull:
		operator = "$pull"
	default:
		err := fmt.Errorf("unknown op type %q", op)
		span.SetError(err)
		return err
	}

	_, err := coll.UpdateOne(ctx, filter, bson.M{operator: fields})
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("update_one(%s) on %s: %w", op, coll.Name(), err)
	}
	span.SetOK()
	return nil
}

// ReplaceOne overwrites the whole document matched by filter, preserving
// its _id.
func ReplaceOne(ctx context.Context, coll *mongo.Collection, filter bson.M, doc bson.M) error {
	ctx, span := telemetry.StoreSpan(ctx, "replace_one", coll.Name())
	defer span.End()

	delete(doc, "_id")
	existing, err := FindOne[bson.M](ctx, coll, filter, bson.M{"_id": 1})
	if err != nil {
		span.SetError(err)
		return err
	}
	if existing != nil {
		doc["_id"] = (*existing)["_id"]
	}

	_, err = coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("replace_one on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return nil
}

// DeleteOne hard-deletes the document matched by filter.
func DeleteOne(ctx context.Context, coll *mongo.Collection, filter bson.M) error {
	ctx, span := telemetry.StoreSpan(ctx, "delete_one", coll.Name())
	defer span.End()

	_, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("delete_one on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return nil
}

// Aggregate runs pipeline and decodes all results into []T.
func Aggregate[T any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]T, error) {
	ctx, span := telemetry.StoreSpan(ctx, "aggregate", coll.Name())
	defer span.End()

	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("aggregate on %s: %w", coll.Name(), err)
	}
	defer cur.Close(ctx)

	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("decode aggregate on %s: %w", coll.Name(), err)
	}
	span.SetOK()
	return out, nil
}

// WithRetry performs op once, and on failure retries exactly once after a
// short backoff, matching §7's "idempotent retry once" StorageError rule.
// The caller is responsible for ensuring op is actually idempotent.
func WithRetry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return fmt.Errorf("retry: %w", ctx.Err())
	}
	return op(ctx)
}
