package nuclei

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTemplate = `id: CVE-2024-1234
info:
  name: Example Vendor Product RCE
  severity: high
  description: An example remote code execution vulnerability.
  reference:
    - https://nvd.nist.gov/vuln/detail/CVE-2024-1234
    - https://vendor.example.com/advisory
# digest: 4a0201ba30d2b1c2f9a1e3b4c5d6e7f8
`

func TestCrawler_ParseTemplate(t *testing.T) {
	dir := t.TempDir()
	yearDir := filepath.Join(dir, "2024")
	require.NoError(t, os.MkdirAll(yearDir, 0o755))
	path := filepath.Join(yearDir, "CVE-2024-1234.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTemplate), 0o644))

	c := &Crawler{repoURL: "https://github.com/example/nuclei-templates.git"}
	item, ok, err := c.parseTemplate(path)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "CVE-2024-1234", item.CVEID)
	assert.Equal(t, "high", item.Severity)
	assert.Equal(t, "4a0201ba30d2b1c2f9a1e3b4c5d6e7f8", item.SourceHash)
	assert.Len(t, item.References, 2)
	require.Len(t, item.PoCs, 1)
	assert.Equal(t, "https://github.com/example/nuclei-templates/blob/main/http/cves/2024/CVE-2024-1234.yaml", item.PoCs[0].URL)
}

func TestCrawler_ParseTemplate_NoCVEIDSkips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "generic-check.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: generic-check\ninfo:\n  name: Generic Check\n  severity: low\n"), 0o644))

	c := &Crawler{}
	_, ok, err := c.parseTemplate(path)
	require.NoError(t, err)
	assert.False(t, ok)
}
