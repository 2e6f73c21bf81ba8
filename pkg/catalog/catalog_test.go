package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geoserve/mapserver/pkg/types"
)

func TestBackendLocate_FindsFirstExisting(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.fcgi")
	present := filepath.Join(dir, "present.fcgi")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\n"), 0o755))

	b := Backend{Name: types.BackendQgis, ExeCandidates: []string{missing, present}}

	path, err := b.Locate()
	require.NoError(t, err)
	require.Equal(t, present, path)
}

func TestBackendLocate_NoneExist(t *testing.T) {
	dir := t.TempDir()
	b := Backend{Name: types.BackendUmn, ExeCandidates: []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}}

	_, err := b.Locate()
	require.Error(t, err)

	var notFound *ErrExecutableNotFound
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, types.BackendUmn, notFound.Backend)
}

func TestCatalog_ForSuffix(t *testing.T) {
	cat := New(
		Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs", "qgz"}},
		Backend{Name: types.BackendUmn, ProjectSuffixes: []string{"map"}},
	)

	b, ok := cat.ForSuffix("qgz")
	require.True(t, ok)
	require.Equal(t, types.BackendQgis, b.Name)

	_, ok = cat.ForSuffix("mock")
	require.False(t, ok)
}

func TestCatalog_SkipsDisabledBackends(t *testing.T) {
	cat := New(
		Backend{Name: types.BackendQgis, ProjectSuffixes: []string{"qgs"}},
		Backend{Name: types.BackendUmn}, // no suffixes configured: disabled
	)

	require.Len(t, cat.Backends, 1)
	require.ElementsMatch(t, []string{"qgs"}, cat.AllSuffixes())
}
