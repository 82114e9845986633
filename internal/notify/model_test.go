package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/notify"
)

func TestRetentionCutoff_Is30Days(t *testing.T) {
	assert.Equal(t, 30*24, int(notify.RetentionCutoff.Hours()))
}
