package activity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/activity"
)

func TestSimple_CarriesNoChanges(t *testing.T) {
	targetID, targetTitle, chs := activity.Simple("alice", "Alice")()
	assert.Equal(t, "alice", targetID)
	assert.Equal(t, "Alice", targetTitle)
	assert.Nil(t, chs)
}

func TestWithChanges_CarriesGivenChanges(t *testing.T) {
	_, _, chs := activity.WithChanges("CVE-2024-1", "t", nil)()
	assert.Nil(t, chs)
}
