package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/geoserve/mapserver/pkg/catalog"
	"github.com/geoserve/mapserver/pkg/types"
)

func writeProject(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("dummy"), 0o644))
}

func TestScan_BuildsServicesUnderCommonPrefix(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, filepath.Join(dir, "data", "ne", "world.qgs"))
	writeProject(t, filepath.Join(dir, "data", "ne", "europe.qgs"))

	cat := catalog.New(catalog.Backend{
		Name:            types.BackendQgis,
		ProjectSuffixes: []string{"qgs", "qgz"},
		CapType:         types.CapQgis,
	})

	ix := New(dir, cat, zerolog.Nop())
	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Len(t, inv.Services, 2)

	paths := map[string]bool{}
	for _, s := range inv.Services {
		paths[s.WmsPath] = true
		require.Equal(t, types.CapQgis, s.CapType)
		require.Equal(t, types.BackendQgis, s.Backend)
	}
	require.True(t, paths["/wms/qgs/world"])
	require.True(t, paths["/wms/qgs/europe"])
}

func TestScan_IgnoresUnknownSuffixes(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, filepath.Join(dir, "readme.txt"))
	writeProject(t, filepath.Join(dir, "project.qgs"))

	cat := catalog.New(catalog.Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs"}})
	ix := New(dir, cat, zerolog.Nop())

	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Len(t, inv.Services, 1)
	require.Equal(t, "/wms/qgs/project", inv.Services[0].WmsPath)
}

func TestScan_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	cat := catalog.New(catalog.Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs"}})
	ix := New(dir, cat, zerolog.Nop())

	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Empty(t, inv.Services)
}

func TestScan_BaseDirSpansBackendSuffixes(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, filepath.Join(dir, "data", "ne", "world.qgs"))
	writeProject(t, filepath.Join(dir, "data", "alt", "world.qgz"))

	cat := catalog.New(catalog.Backend{
		Name:            types.BackendQgis,
		ProjectSuffixes: []string{"qgs", "qgz"},
		CapType:         types.CapQgis,
	})

	ix := New(dir, cat, zerolog.Nop())
	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Len(t, inv.Services, 2)

	// both suffixes belong to the same backend, so their common root is
	// computed across both, not independently per suffix.
	require.Equal(t, filepath.Join(dir, "data"), inv.BaseDirs[types.BackendQgis])
}

func TestScan_BaseDirFallsBackToScanRoot(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, filepath.Join(dir, "project.qgs"))

	cat := catalog.New(catalog.Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs"}})
	ix := New(dir, cat, zerolog.Nop())

	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Equal(t, dir, inv.BaseDirs[types.BackendQgis])
}

func TestScan_BaseDirOverrideWinsForItsBackendOnly(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, filepath.Join(dir, "data", "ne", "world.qgs"))
	writeProject(t, filepath.Join(dir, "data", "mapfiles", "world.map"))

	cat := catalog.New(
		catalog.Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs"}},
		catalog.Backend{Name: types.BackendUmn, ProjectSuffixes: []string{"map"}},
	)
	ix := New(dir, cat, zerolog.Nop())

	override := filepath.Join(dir, "data", "ne", "world.qgs")
	ix.SetBaseDirOverride(types.BackendQgis, filepath.Dir(override))

	inv, err := ix.Scan()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "data", "ne"), inv.BaseDirs[types.BackendQgis])
	require.Equal(t, filepath.Join(dir, "data", "mapfiles"), inv.BaseDirs[types.BackendUmn])
}

func TestInventory_ByWmsPath(t *testing.T) {
	inv := types.Inventory{Services: []types.WmsService{{WmsPath: "/wms/qgs/a"}}}

	_, ok := inv.ByWmsPath("/wms/qgs/a")
	require.True(t, ok)

	_, ok = inv.ByWmsPath("/wms/qgs/missing")
	require.False(t, ok)
}
