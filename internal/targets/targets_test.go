package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/mydra/internal/models"
)

func TestParse_Expansion(t *testing.T) {
	f, err := Parse([]byte(`
mydraApi: "0"
pythonVersions: ["39", "310"]
pythonPackageNames:
  - numpy
  - scipy
  - numpy
nativePackages:
  - hello
  - python39Packages.numpy
`))
	require.NoError(t, err)

	require.Equal(t, []models.Attribute{
		"python39Packages.numpy",
		"python39Packages.scipy",
		"python310Packages.numpy",
		"python310Packages.scipy",
		"hello",
	}, f.Attributes())
}

func TestParse_UnsupportedAPI(t *testing.T) {
	_, err := Parse([]byte("mydraApi: \"1\"\nnativePackages: [hello]\n"))
	require.ErrorIs(t, err, ErrUnsupportedAPI)

	_, err = Parse([]byte("nativePackages: [hello]\n"))
	require.ErrorIs(t, err, ErrUnsupportedAPI)
}

func TestParse_NoTargets(t *testing.T) {
	_, err := Parse([]byte("mydraApi: \"0\"\npythonVersions: [\"39\"]\n"))
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("mydraApi: [unclosed"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yml")
	require.NoError(t, os.WriteFile(path, []byte("mydraApi: \"0\"\nnativePackages: [hello]\n"), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []models.Attribute{"hello"}, f.Attributes())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
