package metasploit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleModule = `
class MetasploitModule < Msf::Exploit::Remote
  def initialize(info = {})
    super(update_info(info,
      'Name'        => 'Example Vendor Product Remote Code Execution',
      'Description' => %q(
        This module exploits CVE-2024-5678 in Example Vendor Product.
      ),
      'References'  =>
        [
          [ 'URL', 'https://vendor.example.com/advisory/CVE-2024-5678' ],
          [ 'URL', 'https://nvd.nist.gov/vuln/detail/CVE-2024-5678' ]
        ]
    ))
  end
end
`

func TestCrawler_ParseModule(t *testing.T) {
	dir := t.TempDir()
	modDir := filepath.Join(dir, "modules", "exploits", "windows", "http")
	require.NoError(t, os.MkdirAll(modDir, 0o755))
	path := filepath.Join(modDir, "example_rce.rb")
	require.NoError(t, os.WriteFile(path, []byte(sampleModule), 0o644))

	c := &Crawler{repoURL: "https://github.com/example/metasploit-framework.git", workDir: dir}
	item, ok, err := c.parseModule(path)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "CVE-2024-5678", item.CVEID)
	assert.Equal(t, "Example Vendor Product Remote Code Execution", item.Title)
	assert.Len(t, item.References, 2)
	require.Len(t, item.PoCs, 1)
	assert.Equal(t, "https://github.com/example/metasploit-framework/blob/master/modules/exploits/windows/http/example_rce.rb", item.PoCs[0].URL)
}

func TestCrawler_ParseModule_NoCVESkips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no_cve.rb")
	require.NoError(t, os.WriteFile(path, []byte("'Name' => 'Generic module'"), 0o644))

	c := &Crawler{}
	_, ok, err := c.parseModule(path)
	require.NoError(t, err)
	assert.False(t, ok)
}
