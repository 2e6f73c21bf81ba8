// Package catalog defines the Backend Catalog: the fixed set of FastCGI
// backend families the map server knows how to spawn, and the logic for
// locating each one's executable on the host.
package catalog

import (
	"fmt"
	"os"

	"github.com/geoserve/mapserver/pkg/types"
)

// ErrExecutableNotFound is returned by Backend.Locate when none of a
// backend's candidate paths exist on disk.
type ErrExecutableNotFound struct {
	Backend    types.BackendName
	Candidates []string
}

func (e *ErrExecutableNotFound) Error() string {
	return fmt.Sprintf("no executable found for backend %s, tried %v", e.Backend, e.Candidates)
}

// Backend describes one FastCGI backend family: where its executable might
// live, which project file suffixes route to it, what environment it needs,
// and which capabilities dialect it speaks.
type Backend struct {
	Name            types.BackendName
	ExeCandidates   []string
	ProjectSuffixes []string
	Env             map[string]string
	CapType         types.CapType
}

// Locate returns the first existing path among ExeCandidates.
func (b Backend) Locate() (string, error) {
	for _, candidate := range b.ExeCandidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", &ErrExecutableNotFound{Backend: b.Name, Candidates: b.ExeCandidates}
}

// Handles reports whether this backend serves the given project suffix.
func (b Backend) Handles(suffix string) bool {
	for _, s := range b.ProjectSuffixes {
		if s == suffix {
			return true
		}
	}
	return false
}

// QgisBackend returns the QGIS Server backend definition. qgisServerPath,
// if non-empty, is tried before the well-known package install locations.
func QgisBackend(qgisServerPath string) Backend {
	candidates := []string{}
	if qgisServerPath != "" {
		candidates = append(candidates, qgisServerPath)
	}
	candidates = append(candidates,
		"/usr/lib/cgi-bin/qgis_mapserv.fcgi",
		"/usr/lib/cgi-bin/qgis_mapserver.fcgi",
		"/usr/bin/qgis_mapserv.fcgi",
	)

	return Backend{
		Name:            types.BackendQgis,
		ExeCandidates:   candidates,
		ProjectSuffixes: []string{"qgs", "qgz"},
		Env: map[string]string{
			"QGIS_SERVER_LOG_LEVEL": "2",
		},
		CapType: types.CapQgis,
	}
}

// UmnBackend returns the UMN MapServer backend definition.
func UmnBackend(mapservPath string) Backend {
	candidates := []string{}
	if mapservPath != "" {
		candidates = append(candidates, mapservPath)
	}
	candidates = append(candidates,
		"/usr/lib/cgi-bin/mapserv",
		"/usr/bin/mapserv",
	)

	return Backend{
		Name:            types.BackendUmn,
		ExeCandidates:   candidates,
		ProjectSuffixes: []string{"map"},
		Env:             map[string]string{},
		CapType:         types.CapOgc,
	}
}

// MockBackend returns the test/demo backend definition. exePath is required
// since the mock binary is built by this repo and has no system install path.
func MockBackend(exePath string) Backend {
	return Backend{
		Name:            types.BackendMock,
		ExeCandidates:   []string{exePath},
		ProjectSuffixes: []string{"mock"},
		Env:             map[string]string{},
		CapType:         types.CapOgc,
	}
}

// Catalog is the set of backends a running server was configured with.
type Catalog struct {
	Backends []Backend
}

// New builds a Catalog from the given backends, skipping any with no
// project suffixes configured (i.e. entries the caller chose to disable).
func New(backends ...Backend) *Catalog {
	c := &Catalog{}
	for _, b := range backends {
		if len(b.ProjectSuffixes) == 0 {
			continue
		}
		c.Backends = append(c.Backends, b)
	}
	return c
}

// ForSuffix returns the backend that handles a given project file suffix.
func (c *Catalog) ForSuffix(suffix string) (Backend, bool) {
	for _, b := range c.Backends {
		if b.Handles(suffix) {
			return b, true
		}
	}
	return Backend{}, false
}

// AllSuffixes returns every project suffix any configured backend handles.
func (c *Catalog) AllSuffixes() []string {
	var suffixes []string
	for _, b := range c.Backends {
		suffixes = append(suffixes, b.ProjectSuffixes...)
	}
	return suffixes
}
