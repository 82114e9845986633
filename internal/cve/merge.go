package cve

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/changes"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/store"
)

// CrawlerItem is a canonical ingest item, the shape every crawler
// implementation (C9) produces for C7 to upsert, per §4.7.
type CrawlerItem struct {
	CVEID       string
	Title       string
	Description string
	Severity    string
	References  []Reference
	PoCs        []ProofOfConcept
	SnortRules  []SnortRule
	SourceHash  string
	SourceTag   string
}

// UpsertFromCrawler implements §4.5's crawler-facing upsert path: a
// crawler never overwrites non-empty human-editable fields (status,
// assigned_to, notes, comments, modification_history); it only merges
// into its source-owned collections and refreshes last_modified_*.
func (e *Engine) UpsertFromCrawler(ctx context.Context, item CrawlerItem, creator string) (created bool, err error) {
	current, err := e.GetDetail(ctx, item.CVEID)
	if err != nil {
		return false, err
	}

	now := e.clock.Now()
	severity := NormalizeSeverity(item.Severity)

	if current == nil {
		doc := CVE{
			CVEID:          strings.ToUpper(item.CVEID),
			Title:          item.Title,
			Description:    item.Description,
			Status:         StatusNew,
			Severity:       severity,
			NucleiHash:     item.SourceHash,
			CreatedAt:      now,
			LastModifiedAt: now,
			CreatedBy:      creator,
			LastModifiedBy: creator,
			References:     stampReferences(item.References, creator, now),
			PoCs:           stampPoCs(item.PoCs, creator, now),
			SnortRules:     stampRules(item.SnortRules, creator, now),
		}
		doc.ModificationHistory = []ModificationEntry{{
			Username:   creator,
			ModifiedAt: now,
			Changes: []changes.Change{{
				Field: "cve_id", FieldLabel: "cve_id", Action: changes.ActionAdd,
				DetailType: changes.DetailDetailed, After: doc.CVEID, Summary: "ingested",
			}},
		}}

		coll := e.store.Collection(store.CollectionCVEs)
		if _, err := store.Insert(ctx, coll, doc); err != nil {
			return false, &apperr.StorageError{Op: "crawler_create", Cause: err}
		}
		e.afterWrite(ctx, doc.CVEID, realtime.EventCVECreated, &doc)
		return true, nil
	}

	if item.SourceHash != "" && current.NucleiHash == "" {
		// Stored hash is missing (the document predates the hash shortcut,
		// or this is the first ingest that carried one): backfill just the
		// hash so the next run can use it as a shortcut, without touching
		// anything else or recording a modification_history entry.
		coll := e.store.Collection(store.CollectionCVEs)
		if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(item.CVEID), store.OpSet, bson.M{"nuclei_hash": item.SourceHash}); err != nil {
			return false, &apperr.StorageError{Op: "crawler_hash_backfill", Cause: err}
		}
		return false, nil
	}

	mergedRefs := mergeReferences(current.References, item.References, creator, now)
	mergedPoCs := mergePoCs(current.PoCs, item.PoCs, creator, now)
	mergedRules := mergeSnortRules(current.SnortRules, item.SnortRules, creator, now)

	changeSet := changes.Diff(
		collectionChangeMap(current.Severity, current.References, current.PoCs, current.SnortRules),
		collectionChangeMap(severity, mergedRefs, mergedPoCs, mergedRules),
		map[string]struct{}{},
	)
	if len(changeSet) == 0 {
		// Nothing a crawler owns actually changed; a no-op ingest leaves
		// modification_history and last_modified_at untouched (this is what
		// makes repeated crawls idempotent for sources with no content-hash
		// shortcut of their own).
		return false, nil
	}

	fields := bson.M{
		"references":       mergedRefs,
		"pocs":             mergedPoCs,
		"snort_rules":      mergedRules,
		"severity":         string(severity),
		"last_modified_at": now,
		"last_modified_by": creator,
	}
	if item.SourceHash != "" {
		fields["nuclei_hash"] = item.SourceHash
	}
	var entry *ModificationEntry
	if len(changeSet) > 0 {
		entry = &ModificationEntry{Username: creator, ModifiedAt: now, Changes: changeSet}
	}

	coll := e.store.Collection(store.CollectionCVEs)
	err = store.WithRetry(ctx, func(ctx context.Context) error {
		if err := store.UpdateOne(ctx, coll, store.CVEIDFilter(item.CVEID), store.OpSet, fields); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return store.UpdateOne(ctx, coll, store.CVEIDFilter(item.CVEID), store.OpPush, bson.M{"modification_history": *entry})
	})
	if err != nil {
		// §7: StorageError falls back from update to replace for crawler writes.
		updated := *current
		updated.References = mergedRefs
		updated.PoCs = mergedPoCs
		updated.SnortRules = mergedRules
		updated.Severity = severity
		updated.LastModifiedAt = now
		updated.LastModifiedBy = creator
		if item.SourceHash != "" {
			updated.NucleiHash = item.SourceHash
		}
		if entry != nil {
			updated.ModificationHistory = append(updated.ModificationHistory, *entry)
		}
		if replaceErr := e.Replace(ctx, item.CVEID, updated); replaceErr != nil {
			return false, &apperr.StorageError{Op: "crawler_update", Cause: err}
		}
	}

	post, err := e.GetDetail(ctx, item.CVEID)
	if err != nil {
		return false, err
	}
	e.afterWrite(ctx, item.CVEID, realtime.EventCVEUpdated, post)
	return false, nil
}

// collectionChangeMap projects the fields a crawler is allowed to touch
// into the map shape C6's Diff operates on, converting list fields to
// []changes.Identifiable so item-level diffing applies.
func collectionChangeMap(severity Severity, refs []Reference, pocs []ProofOfConcept, rules []SnortRule) map[string]any {
	return map[string]any{
		"severity":    string(severity),
		"references":  identifiableRefs(refs),
		"pocs":        identifiablePoCs(pocs),
		"snort_rules": identifiableRules(rules),
	}
}

func identifiableRefs(refs []Reference) []changes.Identifiable {
	out := make([]changes.Identifiable, len(refs))
	for i, r := range refs {
		out[i] = r
	}
	return out
}

func identifiablePoCs(pocs []ProofOfConcept) []changes.Identifiable {
	out := make([]changes.Identifiable, len(pocs))
	for i, p := range pocs {
		out[i] = p
	}
	return out
}

func identifiableRules(rules []SnortRule) []changes.Identifiable {
	out := make([]changes.Identifiable, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	return out
}

// mergeReferences dedupes by url: existing entries are left untouched
// unless type/description differs, in which case the later write wins;
// new entries get the crawler's audit quadruple.
func mergeReferences(existing, incoming []Reference, creator string, now time.Time) []Reference {
	byURL := make(map[string]Reference, len(existing))
	order := make([]string, 0, len(existing))
	for _, r := range existing {
		byURL[r.URL] = r
		order = append(order, r.URL)
	}
	for _, r := range incoming {
		if old, ok := byURL[r.URL]; ok {
			if old.Category != r.Category || old.Description != r.Description {
				old.Category = r.Category
				old.Description = r.Description
				old.LastModifiedAt = now
				old.LastModifiedBy = creator
				byURL[r.URL] = old
			}
			continue
		}
		r.CreatedAt, r.CreatedBy, r.LastModifiedAt, r.LastModifiedBy = now, creator, now, creator
		byURL[r.URL] = r
		order = append(order, r.URL)
	}
	out := make([]Reference, 0, len(order))
	for _, url := range order {
		out = append(out, byURL[url])
	}
	return out
}

// mergePoCs dedupes by url; audit set on add.
func mergePoCs(existing, incoming []ProofOfConcept, creator string, now time.Time) []ProofOfConcept {
	byURL := make(map[string]ProofOfConcept, len(existing))
	order := make([]string, 0, len(existing))
	for _, p := range existing {
		byURL[p.URL] = p
		order = append(order, p.URL)
	}
	for _, p := range incoming {
		if _, ok := byURL[p.URL]; ok {
			continue
		}
		p.CreatedAt, p.CreatedBy, p.LastModifiedAt, p.LastModifiedBy = now, creator, now, creator
		byURL[p.URL] = p
		order = append(order, p.URL)
	}
	out := make([]ProofOfConcept, 0, len(order))
	for _, url := range order {
		out = append(out, byURL[url])
	}
	return out
}

// mergeSnortRules dedupes by sid; if an existing rule shares the sid, its
// body is replaced (upstream authoritative).
func mergeSnortRules(existing, incoming []SnortRule, creator string, now time.Time) []SnortRule {
	bySID := make(map[string]SnortRule, len(existing))
	order := make([]string, 0, len(existing))
	for _, r := range existing {
		bySID[r.SID] = r
		order = append(order, r.SID)
	}
	for _, r := range incoming {
		if old, ok := bySID[r.SID]; ok {
			if old.Rule != r.Rule || old.Type != r.Type || old.Description != r.Description {
				old.Rule = r.Rule
				old.Type = r.Type
				old.Description = r.Description
				old.LastModifiedAt = now
				old.LastModifiedBy = creator
				bySID[r.SID] = old
			}
			continue
		}
		r.CreatedAt, r.CreatedBy, r.LastModifiedAt, r.LastModifiedBy = now, creator, now, creator
		bySID[r.SID] = r
		order = append(order, r.SID)
	}
	out := make([]SnortRule, 0, len(order))
	for _, sid := range order {
		out = append(out, bySID[sid])
	}
	return out
}

func stampReferences(refs []Reference, creator string, now time.Time) []Reference {
	out := make([]Reference, len(refs))
	for i, r := range refs {
		r.CreatedAt, r.CreatedBy, r.LastModifiedAt, r.LastModifiedBy = now, creator, now, creator
		out[i] = r
	}
	return out
}

func stampPoCs(pocs []ProofOfConcept, creator string, now time.Time) []ProofOfConcept {
	out := make([]ProofOfConcept, len(pocs))
	for i, p := range pocs {
		p.CreatedAt, p.CreatedBy, p.LastModifiedAt, p.LastModifiedBy = now, creator, now, creator
		out[i] = p
	}
	return out
}

func stampRules(rules []SnortRule, creator string, now time.Time) []SnortRule {
	out := make([]SnortRule, len(rules))
	for i, r := range rules {
		r.CreatedAt, r.CreatedBy, r.LastModifiedAt, r.LastModifiedBy = now, creator, now, creator
		out[i] = r
	}
	return out
}
