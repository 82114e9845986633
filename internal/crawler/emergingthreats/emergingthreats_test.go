package emergingthreats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `# comment line, ignored
alert tcp any any -> any any (msg:"ET EXPLOIT Example RCE Attempt"; flow:established,to_server; sid:2030001; rev:1; reference:cve,2024-1234; reference:url,vendor.example.com/advisory; metadata:created_at 2024_01_01;)
alert tcp any any -> any any (msg:"ET EXPLOIT Example RCE Attempt Duplicate"; sid:2030002; reference:cve,2024-1234;)
alert tcp any any -> any any (msg:"ET POLICY No CVE here"; sid:2030003;)
`

func TestParseRules_OneItemPerCVE(t *testing.T) {
	items := parseRules([]byte(sampleRules))
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, "CVE-2024-1234", item.CVEID)
	assert.Equal(t, "CVE-2024-1234", item.Title)
	require.Len(t, item.SnortRules, 1)
	assert.Equal(t, "2030001", item.SnortRules[0].SID)
	require.Len(t, item.References, 1)
	assert.Equal(t, "http://vendor.example.com/advisory", item.References[0].URL)
}

func TestParseRules_IgnoresRulesWithoutCVEReference(t *testing.T) {
	items := parseRules([]byte("alert tcp any any -> any any (msg:\"no cve\"; sid:1;)\n"))
	assert.Empty(t, items)
}
