package cve

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/store"
)

// LockLease is the default edit-lock duration per §3's glossary entry.
const LockLease = 30 * time.Minute

// AcquireLock implements the edit-lock acquire operation: grants the
// lock if unheld or expired, otherwise returns a LockedError describing
// the current holder.
func (e *Engine) AcquireLock(ctx context.Context, cveID, username string) (*CVE, error) {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.NotFoundError{ID: cveID}
	}

	now := e.clock.Now()
	if current.IsLocked && current.LockedBy != username && current.LockExpiresAt != nil && current.LockExpiresAt.After(now) {
		return nil, &apperr.LockedError{LockedBy: current.LockedBy, LockExpiresAt: *current.LockExpiresAt}
	}

	expires := now.Add(LockLease)
	coll := e.store.Collection(store.CollectionCVEs)
	fields := bson.M{
		"is_locked":       true,
		"locked_by":       username,
		"lock_timestamp":  now,
		"lock_expires_at": expires,
	}
	if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpSet, fields); err != nil {
		return nil, &apperr.StorageError{Op: "acquire_lock", Cause: err}
	}

	return e.GetDetail(ctx, cveID)
}

// ReleaseLock implements the edit-lock release operation. Releasing a
// lock held by someone else is a no-op success, so retried or
// out-of-order release calls never surface an ownership race as an error.
func (e *Engine) ReleaseLock(ctx context.Context, cveID, username string) error {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return err
	}
	if current == nil {
		return &apperr.NotFoundError{ID: cveID}
	}
	if !current.IsLocked || current.LockedBy != username {
		return nil
	}

	coll := e.store.Collection(store.CollectionCVEs)
	fields := bson.M{
		"is_locked":       false,
		"locked_by":       "",
		"lock_timestamp":  nil,
		"lock_expires_at": nil,
	}
	if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpSet, fields); err != nil {
		return &apperr.StorageError{Op: "release_lock", Cause: err}
	}
	return nil
}

// HeartbeatLock extends an already-held lock's expiry by another lease
// period, used by clients that keep an edit form open.
func (e *Engine) HeartbeatLock(ctx context.Context, cveID, username string) (*CVE, error) {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.NotFoundError{ID: cveID}
	}
	if !current.IsLocked || current.LockedBy != username {
		return nil, &apperr.LockedError{LockedBy: current.LockedBy, LockExpiresAt: derefTime(current.LockExpiresAt)}
	}

	expires := e.clock.Now().Add(LockLease)
	coll := e.store.Collection(store.CollectionCVEs)
	if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpSet, bson.M{"lock_expires_at": expires}); err != nil {
		return nil, &apperr.StorageError{Op: "heartbeat_lock", Cause: err}
	}
	return e.GetDetail(ctx, cveID)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
