package pathsafe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := Validate(root, "../etc/passwd")
	require.Error(t, err)

	_, err = Validate(root, "foo/../../etc/passwd")
	require.Error(t, err)
}

func TestRejectsAbsolutePaths(t *testing.T) {
	root := t.TempDir()
	_, err := Validate(root, "/etc/passwd")
	require.Error(t, err)
}

func TestRejectsEmptyPath(t *testing.T) {
	root := t.TempDir()
	_, err := Validate(root, "")
	require.Error(t, err)

	_, err = Validate(root, "   ")
	require.Error(t, err)
}

func TestAcceptsValidRelativePath(t *testing.T) {
	root := t.TempDir()
	path, err := Validate(root, "data/config.json")
	require.NoError(t, err)
	require.Contains(t, path, root)
}
