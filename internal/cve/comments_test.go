package cve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/cve"
)

func TestExtractMentions_DedupesAndPreservesOrder(t *testing.T) {
	mentions := cve.ExtractMentions("hey @alice can @bob check this, cc @alice again")
	assert.Equal(t, []string{"alice", "bob"}, mentions)
}

func TestExtractMentions_NoMentionsReturnsEmpty(t *testing.T) {
	assert.Empty(t, cve.ExtractMentions("no mentions here"))
}

func TestExtractMentions_AllowsDotsUnderscoresHyphens(t *testing.T) {
	mentions := cve.ExtractMentions("ping @jane.doe and @john_smith-2")
	assert.ElementsMatch(t, []string{"jane.doe", "john_smith-2"}, mentions)
}
