package notify

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Service creates, delivers, and queries notifications.
type Service struct {
	store *store.Store
	hub   *realtime.Hub
	clock clock.Clock
	log   *logger.Logger
}

// New builds a Service. hub may be nil in contexts with no push fabric.
func New(s *store.Store, hub *realtime.Hub, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{store: s, hub: hub, clock: clk, log: log.WithComponent("notify")}
}

// CreateInput is the shape every creation path (mention extraction, CVE
// assignment transitions, explicit API calls) supplies.
type CreateInput struct {
	RecipientID string
	SenderID    string
	Type        Type
	Content     string
	CVEID       string
	Metadata    map[string]any
}

// payload is the wire shape of the notification push event.
type payload struct {
	Notification Notification `json:"notification"`
	UnreadCount  int64        `json:"unreadCount"`
}

// Create persists a notification unread/undelivered, then attempts
// real-time delivery; delivery failure never aborts creation (§4.9).
func (s *Service) Create(ctx context.Context, in CreateInput) (*Notification, error) {
	n := Notification{
		ID:          clock.NewID(),
		RecipientID: in.RecipientID,
		SenderID:    in.SenderID,
		Type:        in.Type,
		Content:     in.Content,
		CVEID:       in.CVEID,
		Metadata:    in.Metadata,
		Status:      StatusUnread,
		Delivered:   false,
		CreatedAt:   s.clock.Now(),
	}

	coll := s.store.Collection(store.CollectionNotifications)
	if _, err := store.Insert(ctx, coll, n); err != nil {
		return nil, &apperr.StorageError{Op: "notification_create", Cause: err}
	}

	if s.deliver(ctx, n) {
		n.Delivered = true
		if err := store.UpdateOne(ctx, coll, bson.M{"id": n.ID}, store.OpSet, bson.M{"delivered": true}); err != nil {
			s.log.ErrorContext(ctx, "failed to mark notification delivered", "id", n.ID, "error", err)
		}
	}

	return &n, nil
}

// deliver attempts push delivery and reports whether it was attempted
// successfully (hub present); push-fabric errors are swallowed per §7's
// PushError contract.
func (s *Service) deliver(ctx context.Context, n Notification) bool {
	if s.hub == nil {
		return false
	}
	unread, err := s.UnreadCount(ctx, n.RecipientID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to compute unread count for delivery", "recipient", n.RecipientID, "error", err)
		unread = 0
	}
	s.hub.Emit(realtime.EventNotification, payload{Notification: n, UnreadCount: unread}, realtime.Target{Username: n.RecipientID})
	return true
}

// PageResult is a paged notification query's return shape.
type PageResult struct {
	Total  int64
	Unread int64
	Items  []Notification
}

// List returns recipientID's notifications, optionally filtered by
// status, newest first, paged.
func (s *Service) List(ctx context.Context, recipientID string, status Status, skip, limit int) (PageResult, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if skip < 0 {
		skip = 0
	}

	filter := bson.M{"recipient_id": recipientID}
	if status != "" {
		filter["status"] = string(status)
	}

	coll := s.store.Collection(store.CollectionNotifications)
	total, err := store.Count(ctx, coll, filter)
	if err != nil {
		return PageResult{}, &apperr.StorageError{Op: "notification_count", Cause: err}
	}
	items, err := store.FindMany[Notification](ctx, coll, filter, store.FindOptions{
		Sort:  bson.D{{Key: "created_at", Value: -1}},
		Skip:  int64(skip),
		Limit: int64(limit),
	})
	if err != nil {
		return PageResult{}, &apperr.StorageError{Op: "notification_list", Cause: err}
	}
	unread, err := s.UnreadCount(ctx, recipientID)
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{Total: total, Unread: unread, Items: items}, nil
}

// UnreadCount returns recipientID's unread notification count.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	coll := s.store.Collection(store.CollectionNotifications)
	n, err := store.Count(ctx, coll, bson.M{"recipient_id": recipientID, "status": string(StatusUnread)})
	if err != nil {
		return 0, &apperr.StorageError{Op: "notification_unread_count", Cause: err}
	}
	return n, nil
}

// MarkRead marks a single notification read, checking recipient
// ownership.
func (s *Service) MarkRead(ctx context.Context, id, recipientID string) error {
	return s.markRead(ctx, bson.M{"id": id, "recipient_id": recipientID})
}

// MarkMultipleRead marks several notifications read at once, checking
// recipient ownership per id.
func (s *Service) MarkMultipleRead(ctx context.Context, ids []string, recipientID string) error {
	return s.markRead(ctx, bson.M{"id": bson.M{"$in": ids}, "recipient_id": recipientID})
}

// MarkAllRead marks every unread notification for recipientID read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) error {
	return s.markRead(ctx, bson.M{"recipient_id": recipientID, "status": string(StatusUnread)})
}

func (s *Service) markRead(ctx context.Context, filter bson.M) error {
	coll := s.store.Collection(store.CollectionNotifications)
	matches, err := store.FindMany[Notification](ctx, coll, filter, store.FindOptions{})
	if err != nil {
		return &apperr.StorageError{Op: "notification_mark_read_lookup", Cause: err}
	}
	now := s.clock.Now()
	for _, m := range matches {
		if err := store.UpdateOne(ctx, coll, bson.M{"id": m.ID}, store.OpSet, bson.M{
			"status":  string(StatusRead),
			"read_at": now,
		}); err != nil {
			return &apperr.StorageError{Op: "notification_mark_read", Cause: err}
		}
	}
	return nil
}

// RetentionCutoff is the default age, per §4.9, beyond which the
// optional retention job deletes notification records.
const RetentionCutoff = 30 * 24 * time.Hour

// PurgeOlderThan deletes notifications older than cutoff. StartRetention
// calls it once a day with RetentionCutoff.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Duration) (int64, error) {
	before := s.clock.Now().Add(-cutoff)
	coll := s.store.Collection(store.CollectionNotifications)
	matches, err := store.FindMany[Notification](ctx, coll, bson.M{"created_at": bson.M{"$lt": before}}, store.FindOptions{})
	if err != nil {
		return 0, &apperr.StorageError{Op: "notification_purge_lookup", Cause: err}
	}
	var deleted int64
	for _, m := range matches {
		if err := store.DeleteOne(ctx, coll, bson.M{"id": m.ID}); err != nil {
			s.log.ErrorContext(ctx, "failed to purge notification", "id", m.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// StartRetention runs PurgeOlderThan on a daily tick until ctx is
// cancelled. This package never starts it; cmd/cvehub starts it at boot,
// with no configuration switch.
func (s *Service) StartRetention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeOlderThan(ctx, RetentionCutoff)
			if err != nil {
				s.log.ErrorContext(ctx, "notification retention purge failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.InfoContext(ctx, "purged expired notifications", "count", n)
			}
		}
	}
}
