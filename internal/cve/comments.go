package cve

import (
	"context"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/store"
)

// mentionPattern matches @username tokens in comment content.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_.-]+)`)

// ExtractMentions returns the deduplicated, order-preserving list of
// usernames mentioned in content.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{})
	var out []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// AddComment implements comment creation: depth is parent.depth+1 (0 for
// root), hard-capped at MaxCommentDepth. Exceeding the cap is a
// ValidationError rather than a silent clip.
func (e *Engine) AddComment(ctx context.Context, cveID, content, author, parentID string) (*Comment, error) {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.NotFoundError{ID: cveID}
	}

	depth := 0
	if parentID != "" {
		parent := findComment(current.Comments, parentID)
		if parent == nil {
			return nil, apperr.NewValidation("parent comment not found", "parent_id", "unknown")
		}
		depth = parent.Depth + 1
	}
	if depth > MaxCommentDepth {
		return nil, apperr.NewValidation("comment depth exceeds maximum", "parent_id", "max depth exceeded")
	}

	now := e.clock.Now()
	comment := Comment{
		ID:             newCommentID(),
		Content:        content,
		CreatedBy:      author,
		ParentID:       parentID,
		Depth:          depth,
		Mentions:       ExtractMentions(content),
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	coll := e.store.Collection(store.CollectionCVEs)
	if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpPush, bson.M{"comments": comment}); err != nil {
		return nil, &apperr.StorageError{Op: "add_comment", Cause: err}
	}

	e.afterCommentWrite(ctx, cveID, realtime.EventCommentAdded, comment, len(current.Comments)+1)
	return &comment, nil
}

// UpdateComment edits an existing comment's content and recomputes its
// mentions.
func (e *Engine) UpdateComment(ctx context.Context, cveID, commentID, content, editor string) (*Comment, error) {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &apperr.NotFoundError{ID: cveID}
	}

	comment := findComment(current.Comments, commentID)
	if comment == nil {
		return nil, &apperr.NotFoundError{ID: commentID}
	}
	if comment.CreatedBy != editor {
		return nil, apperr.NewForbidden("only the comment author may edit it")
	}

	comment.Content = content
	comment.Mentions = ExtractMentions(content)
	comment.LastModifiedAt = e.clock.Now()

	if err := e.replaceComments(ctx, cveID, current.Comments); err != nil {
		return nil, err
	}

	e.afterCommentWrite(ctx, cveID, realtime.EventCommentUpdated, *comment, len(current.Comments))
	return comment, nil
}

// DeleteComment soft-deletes by default; permanent removal is restricted
// to administrators per §3.
func (e *Engine) DeleteComment(ctx context.Context, cveID, commentID, actor string, isAdmin bool) error {
	current, err := e.GetDetail(ctx, cveID)
	if err != nil {
		return err
	}
	if current == nil {
		return &apperr.NotFoundError{ID: cveID}
	}

	comment := findComment(current.Comments, commentID)
	if comment == nil {
		return &apperr.NotFoundError{ID: commentID}
	}
	if comment.CreatedBy != actor && !isAdmin {
		return apperr.NewForbidden("only the comment author or an administrator may delete it")
	}

	remaining := current.Comments
	if isAdmin {
		remaining = removeComment(current.Comments, commentID)
	} else {
		comment.IsDeleted = true
		comment.LastModifiedAt = e.clock.Now()
	}

	if err := e.replaceComments(ctx, cveID, remaining); err != nil {
		return err
	}

	e.afterCommentWrite(ctx, cveID, realtime.EventCommentDeleted, Comment{ID: commentID}, len(remaining))
	return nil
}

func (e *Engine) replaceComments(ctx context.Context, cveID string, comments []Comment) error {
	coll := e.store.Collection(store.CollectionCVEs)
	if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(cveID), store.OpSet, bson.M{"comments": comments}); err != nil {
		return &apperr.StorageError{Op: "replace_comments", Cause: err}
	}
	return nil
}

// afterCommentWrite implements §4.2's comment-mutation invalidation rule
// (detail-only, not the full CVE-mutation protocol) plus the matching
// comment_added/updated/deleted and comment_count_update push events.
func (e *Engine) afterCommentWrite(ctx context.Context, cveID, event string, comment Comment, count int) {
	if e.cache != nil {
		if err := e.cache.InvalidateCVEDetailOnly(ctx, cveID); err != nil {
			e.log.WithError(err).Warn("comment cache invalidation failed", "cve_id", cveID)
		}
	}
	if e.hub != nil {
		e.hub.Emit(event, comment, realtime.Target{CVESubscribers: cveID})
		e.hub.Emit(realtime.EventCommentCountUpdate, map[string]any{"cve_id": cveID, "count": count}, realtime.Target{CVESubscribers: cveID})
	}
}

func findComment(comments []Comment, id string) *Comment {
	for i := range comments {
		if comments[i].ID == id {
			return &comments[i]
		}
	}
	return nil
}

func removeComment(comments []Comment, id string) []Comment {
	out := make([]Comment, 0, len(comments))
	for _, c := range comments {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func newCommentID() string {
	return clock.NewID()
}
