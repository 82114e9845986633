package changes_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/changes"
)

func TestDiff_EditProducesDetailedChangeWithKoreanLabel(t *testing.T) {
	old := map[string]any{"status": "new"}
	new := map[string]any{"status": "analyzing"}

	result := changes.Diff(old, new, nil)

	assert.Len(t, result, 1)
	c := result[0]
	assert.Equal(t, "status", c.Field)
	assert.Equal(t, "상태", c.FieldLabel)
	assert.Equal(t, changes.ActionEdit, c.Action)
	assert.Equal(t, changes.DetailDetailed, c.DetailType)
	assert.Equal(t, "new", c.Before)
	assert.Equal(t, "analyzing", c.After)
	assert.NotEmpty(t, c.Summary)
}

func TestDiff_AddAndDelete(t *testing.T) {
	old := map[string]any{"notes": "x"}
	new := map[string]any{"assigned_to": "alice"}

	result := changes.Diff(old, new, nil)

	var actions []changes.Action
	for _, c := range result {
		actions = append(actions, c.Action)
	}
	assert.ElementsMatch(t, []changes.Action{changes.ActionDelete, changes.ActionAdd}, actions)
}

func TestDiff_NoChangeWhenEqual(t *testing.T) {
	old := map[string]any{"title": "same"}
	new := map[string]any{"title": "same"}

	assert.Empty(t, changes.Diff(old, new, nil))
}

func TestDiff_IgnoresAuditFieldsByDefault(t *testing.T) {
	old := map[string]any{"last_modified_at": "t0", "last_modified_by": "bob"}
	new := map[string]any{"last_modified_at": "t1", "last_modified_by": "carol"}

	assert.Empty(t, changes.Diff(old, new, nil))
}

func TestDiff_TruncatesLongScalarValues(t *testing.T) {
	old := map[string]any{"description": strings.Repeat("a", 5)}
	new := map[string]any{"description": strings.Repeat("b", 250)}

	result := changes.Diff(old, new, nil)
	require := assert.New(t)
	require.Len(result, 1)
	after, ok := result[0].After.(string)
	require.True(ok)
	require.True(strings.HasSuffix(after, "..."))
	require.LessOrEqual(len(after), 103)
}

type fakeRef struct {
	URL string
}

func (f fakeRef) DiffKey() string { return f.URL }

func TestDiff_ListValuedFieldProducesSimpleItemSummary(t *testing.T) {
	old := map[string]any{"references": []changes.Identifiable{fakeRef{URL: "a"}, fakeRef{URL: "b"}}}
	new := map[string]any{"references": []changes.Identifiable{fakeRef{URL: "b"}, fakeRef{URL: "c"}}}

	result := changes.Diff(old, new, nil)

	assert.Len(t, result, 1)
	assert.Equal(t, changes.DetailSimple, result[0].DetailType)
}

func TestDiff_UnknownFieldFallsBackToRawKey(t *testing.T) {
	old := map[string]any{}
	new := map[string]any{"custom_field": "v"}

	result := changes.Diff(old, new, nil)
	assert.Len(t, result, 1)
	assert.Equal(t, "custom_field", result[0].FieldLabel)
}
