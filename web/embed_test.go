package web

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSServesBuiltFrontend(t *testing.T) {
	root, err := FS()
	require.NoError(t, err)

	index, err := fs.ReadFile(root, IndexFile)
	require.NoError(t, err)
	require.NotEmpty(t, index)

	_, err = fs.Stat(root, "assets/app.css")
	require.NoError(t, err)
}
