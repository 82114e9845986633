package cve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/changes"
)

func TestMergeReferences_DedupesByURL(t *testing.T) {
	now := time.Now().UTC()
	existing := []Reference{{URL: "https://a", Category: ReferenceNVD}}
	incoming := []Reference{{URL: "https://a", Category: ReferenceNVD}, {URL: "https://b", Category: ReferenceOther}}

	out := mergeReferences(existing, incoming, "crawler:nuclei", now)

	assert.Len(t, out, 2, "re-adding an existing reference must not duplicate it")
}

func TestMergeReferences_LaterWriteWinsOnTypeOrDescriptionChange(t *testing.T) {
	now := time.Now().UTC()
	existing := []Reference{{URL: "https://a", Category: ReferenceOther, Description: "old"}}
	incoming := []Reference{{URL: "https://a", Category: ReferenceAdvisory, Description: "new"}}

	out := mergeReferences(existing, incoming, "crawler:nuclei", now)

	assert.Len(t, out, 1)
	assert.Equal(t, ReferenceAdvisory, out[0].Category)
	assert.Equal(t, "new", out[0].Description)
}

func TestMergePoCs_DedupesByURLAndLeavesExistingUntouched(t *testing.T) {
	now := time.Now().UTC()
	existing := []ProofOfConcept{{URL: "https://poc", Source: PoCSourceNucleiTemplates, Description: "keep me"}}
	incoming := []ProofOfConcept{{URL: "https://poc", Source: PoCSourceNucleiTemplates, Description: "should not overwrite"}}

	out := mergePoCs(existing, incoming, "crawler:nuclei", now)

	assert.Len(t, out, 1)
	assert.Equal(t, "keep me", out[0].Description)
}

func TestMergeSnortRules_ExistingSIDReplacesBody(t *testing.T) {
	now := time.Now().UTC()
	existing := []SnortRule{{SID: "1000001", Rule: "alert tcp any any -> any any (msg:\"old\"; sid:1000001;)"}}
	incoming := []SnortRule{{SID: "1000001", Rule: "alert tcp any any -> any any (msg:\"new\"; sid:1000001;)"}}

	out := mergeSnortRules(existing, incoming, "crawler:emerging-threats", now)

	assert.Len(t, out, 1, "re-ingesting an existing sid must not duplicate it")
	assert.Equal(t, incoming[0].Rule, out[0].Rule, "upstream rule body is authoritative")
}

func TestMergeSnortRules_UnchangedBodyLeavesAuditFieldsUntouched(t *testing.T) {
	stamped := time.Now().UTC().Add(-time.Hour)
	existing := []SnortRule{{
		SID: "1000001", Rule: "alert tcp any any -> any any (msg:\"x\"; sid:1000001;)",
		LastModifiedAt: stamped, LastModifiedBy: "crawler:emerging-threats",
	}}
	incoming := []SnortRule{{SID: "1000001", Rule: existing[0].Rule}}

	out := mergeSnortRules(existing, incoming, "crawler:emerging-threats", time.Now().UTC())

	assert.Len(t, out, 1)
	assert.Equal(t, stamped, out[0].LastModifiedAt, "re-ingesting an unchanged rule body must not bump the audit timestamp")
}

func TestMergeSnortRules_NewSIDAppends(t *testing.T) {
	now := time.Now().UTC()
	existing := []SnortRule{{SID: "1"}}
	incoming := []SnortRule{{SID: "2"}}

	out := mergeSnortRules(existing, incoming, "crawler:emerging-threats", now)

	assert.Len(t, out, 2)
}

func TestCollectionChangeMap_NoChangeWhenMergedCollectionsAreIdentical(t *testing.T) {
	refs := []Reference{{URL: "https://a", Category: ReferenceNVD}}
	pocs := []ProofOfConcept{{URL: "https://poc", Source: PoCSourceEtc}}
	rules := []SnortRule{{SID: "1", Rule: "r"}}

	oldMap := collectionChangeMap(SeverityHigh, refs, pocs, rules)
	newMap := collectionChangeMap(SeverityHigh, refs, pocs, rules)

	assert.Empty(t, changes.Diff(oldMap, newMap, map[string]struct{}{}))
}

func TestCollectionChangeMap_DetectsNewReference(t *testing.T) {
	oldRefs := []Reference{{URL: "https://a"}}
	newRefs := []Reference{{URL: "https://a"}, {URL: "https://b"}}

	oldMap := collectionChangeMap(SeverityHigh, oldRefs, nil, nil)
	newMap := collectionChangeMap(SeverityHigh, newRefs, nil, nil)

	result := changes.Diff(oldMap, newMap, map[string]struct{}{})

	assert.Len(t, result, 1)
	assert.Equal(t, "references", result[0].Field)
}

func TestCollectionChangeMap_DetectsSeverityChange(t *testing.T) {
	oldMap := collectionChangeMap(SeverityLow, nil, nil, nil)
	newMap := collectionChangeMap(SeverityHigh, nil, nil, nil)

	result := changes.Diff(oldMap, newMap, map[string]struct{}{})

	assert.Len(t, result, 1)
	assert.Equal(t, "severity", result[0].Field)
}
