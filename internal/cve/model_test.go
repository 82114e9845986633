package cve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/cve"
)

func TestNormalizeSeverity_TolerantMapping(t *testing.T) {
	cases := map[string]cve.Severity{
		"CRITICAL":    cve.SeverityCritical,
		"crit":        cve.SeverityCritical,
		"HIGH":        cve.SeverityHigh,
		"severe":      cve.SeverityHigh,
		"Medium":      cve.SeverityMedium,
		"moderate":    cve.SeverityMedium,
		"med":         cve.SeverityMedium,
		"low":         cve.SeverityLow,
		"minor":       cve.SeverityLow,
		"info":        cve.SeverityInfo,
		"information": cve.SeverityInfo,
		"bogus":       cve.SeverityUnknown,
		"":            cve.SeverityUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, cve.NormalizeSeverity(raw), "input %q", raw)
	}
}

func TestNormalizeSeverity_Idempotent(t *testing.T) {
	for _, raw := range []string{"critical", "HIGH", "unknown", "garbage"} {
		once := cve.NormalizeSeverity(raw)
		twice := cve.NormalizeSeverity(string(once))
		assert.Equal(t, once, twice)
	}
}

func TestReference_DiffKeyIsURL(t *testing.T) {
	r := cve.Reference{URL: "https://example.com/a"}
	assert.Equal(t, "https://example.com/a", r.DiffKey())
}

func TestSnortRule_DiffKeyIsSID(t *testing.T) {
	r := cve.SnortRule{SID: "1000001"}
	assert.Equal(t, "1000001", r.DiffKey())
}
