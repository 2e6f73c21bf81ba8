// Package indexer discovers backend project files under a base directory
// and turns them into a routable Inventory of WmsService entries. Project
// paths are trimmed to their longest common directory so a shared project
// root doesn't have to be repeated in every URL.
package indexer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/catalog"
	"github.com/geoserve/mapserver/pkg/types"
)

// Indexer scans a base directory for project files and builds a WmsService
// inventory from whatever it finds, grouped by backend.
type Indexer struct {
	baseDir string
	catalog *catalog.Catalog
	logger  zerolog.Logger

	mu        sync.RWMutex
	inventory types.Inventory
	overrides map[types.BackendName]string
}

// New creates an Indexer rooted at baseDir.
func New(baseDir string, cat *catalog.Catalog, logger zerolog.Logger) *Indexer {
	return &Indexer{
		baseDir:   baseDir,
		catalog:   cat,
		logger:    logger.With().Str("component", "indexer").Logger(),
		overrides: make(map[types.BackendName]string),
	}
}

// SetBaseDirOverride pins backend's base_dir to dir for every future Scan,
// regardless of what the discovered project files would otherwise derive.
// This is how a CLI override naming a specific project file takes effect:
// the caller resolves the file's suffix to a backend and passes the file's
// parent directory here before calling Scan.
func (ix *Indexer) SetBaseDirOverride(backend types.BackendName, dir string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.overrides[backend] = dir
}

// Inventory returns the most recently built inventory.
func (ix *Indexer) Inventory() types.Inventory {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.inventory
}

// projectFile is one discovered file paired with the backend and suffix it
// routes through, kept together so grouping by backend doesn't lose either.
type projectFile struct {
	path    string
	suffix  string
	backend catalog.Backend
}

// Scan walks BaseDir, finds every file whose extension matches a
// configured backend's project suffixes, and rebuilds the inventory.
// It replaces the inventory atomically: callers never observe a partial
// scan. Directories that can't be read are logged and skipped rather than
// aborting the whole scan.
func (ix *Indexer) Scan() (types.Inventory, error) {
	var found []projectFile

	err := filepath.WalkDir(ix.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			ix.logger.Warn().Str("path", path).Err(err).Msg("unreadable directory entry, skipping")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		suffix := strings.TrimPrefix(filepath.Ext(path), ".")
		if suffix == "" {
			return nil
		}
		backend, ok := ix.catalog.ForSuffix(suffix)
		if !ok {
			return nil
		}
		found = append(found, projectFile{path: path, suffix: suffix, backend: backend})
		return nil
	})
	if err != nil {
		return types.Inventory{}, err
	}

	byBackend := make(map[types.BackendName][]projectFile)
	for _, pf := range found {
		byBackend[pf.backend.Name] = append(byBackend[pf.backend.Name], pf)
	}

	ix.mu.RLock()
	overrides := make(map[types.BackendName]string, len(ix.overrides))
	for k, v := range ix.overrides {
		overrides[k] = v
	}
	ix.mu.RUnlock()

	var services []types.WmsService
	baseDirs := make(map[types.BackendName]string)

	for backendName, pfs := range byBackend {
		sort.Slice(pfs, func(i, j int) bool { return pfs[i].path < pfs[j].path })

		paths := make([]string, len(pfs))
		for i, pf := range pfs {
			paths[i] = pf.path
		}
		root := longestCommonDir(paths)
		if root == "" {
			root = ix.baseDir
		}
		if override, ok := overrides[backendName]; ok {
			root = override
		}
		baseDirs[backendName] = root

		for _, pf := range pfs {
			rel := strings.TrimPrefix(strings.TrimPrefix(pf.path, root), string(filepath.Separator))
			rel = strings.TrimSuffix(rel, "."+pf.suffix)
			rel = filepath.ToSlash(rel)

			services = append(services, types.WmsService{
				ID:      strings.Trim(strings.ReplaceAll(rel, "/", "_"), "_"),
				WmsPath: "/wms/" + pf.suffix + "/" + rel,
				CapType: pf.backend.CapType,
				Backend: backendName,
			})
		}
	}

	// A backend can carry an override base_dir with zero discovered files
	// yet (a fresh project drop waiting to happen).
	for backendName, dir := range overrides {
		if _, ok := baseDirs[backendName]; !ok {
			baseDirs[backendName] = dir
		}
	}

	sort.Slice(services, func(i, j int) bool { return services[i].WmsPath < services[j].WmsPath })
	inv := types.Inventory{Services: services, BaseDirs: baseDirs}

	ix.mu.Lock()
	ix.inventory = inv
	ix.mu.Unlock()

	ix.logger.Info().Int("services", len(services)).Msg("project index rebuilt")
	return inv, nil
}

// longestCommonDir returns the deepest directory shared by every path in
// paths, so public WMS routes don't repeat a project root all configured
// projects happen to share.
func longestCommonDir(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		dir := filepath.Dir(p)
		prefix = commonPrefix(prefix, dir)
	}
	return prefix
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	// the shorter path is a whole-component prefix of the longer one
	if i == n && (len(a) == len(b) || (len(a) > n && a[n] == filepath.Separator) || (len(b) > n && b[n] == filepath.Separator)) {
		return a[:n]
	}
	// back off to the last path separator so we don't split mid-component
	for i > 0 && a[i-1] != filepath.Separator {
		i--
	}
	// drop that trailing separator, but keep a bare root
	if i > 1 {
		i--
	}
	return a[:i]
}
