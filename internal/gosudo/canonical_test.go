package gosudo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeResolvesDirectoryButNotFile(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	// The final component is a symlink too; it must be preserved as
	// written while the directory is resolved.
	require.NoError(t, os.Symlink("/usr/bin/true", filepath.Join(real, "ls")))

	resolvedReal, err := filepath.EvalSymlinks(real)
	require.NoError(t, err)
	got := CanonicalizeCommand(filepath.Join(link, "ls"))
	assert.Equal(t, filepath.Join(resolvedReal, "ls"), got)
}

func TestCanonicalizeLeavesUnresolvableAlone(t *testing.T) {
	assert.Equal(t, "/no/such/dir/cmd", CanonicalizeCommand("/no/such/dir/cmd"))
}
