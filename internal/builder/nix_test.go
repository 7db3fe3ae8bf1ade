package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/mydra/internal/models"
)

func TestPairOutputs(t *testing.T) {
	hello := models.BuildUnit(storePath(1, "hello-2.12.drv"))
	numpy := models.BuildUnit(storePath(2, "python3.9-numpy-1.21.0.drv"))

	lines := []string{
		storePath(10, "python3.9-numpy-1.21.0"),
		storePath(11, "hello-2.12-dev"),
		"",
		storePath(12, "hello-2.12"),
	}

	got := pairOutputs([]models.BuildUnit{hello, numpy}, lines)
	require.Equal(t, []models.ArtifactLocation{
		models.ArtifactLocation(storePath(12, "hello-2.12")),
		models.ArtifactLocation(storePath(10, "python3.9-numpy-1.21.0")),
	}, got)
}

func TestPairOutputs_MissingOutput(t *testing.T) {
	hello := models.BuildUnit(storePath(1, "hello-2.12.drv"))
	got := pairOutputs([]models.BuildUnit{hello}, []string{storePath(10, "other-1.0")})
	require.Empty(t, got)
}

func TestBuildArgs_NotATerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdout"))
	require.NoError(t, err)
	defer f.Close()

	c := NewNixClient(nil, discardLogger())
	c.stdout = f

	unit := models.BuildUnit(storePath(1, "hello-2.12.drv"))
	require.Equal(t,
		[]string{"build", "--no-link", "--keep-going", "--print-build-logs", string(unit)},
		c.buildArgs([]models.BuildUnit{unit}),
	)
}

func TestArgNamesSorted(t *testing.T) {
	require.Equal(t, []string{"attrsJSON", "collection"}, argNames(map[string]string{
		"collection": "/src/nixpkgs",
		"attrsJSON":  "[]",
	}))
}
