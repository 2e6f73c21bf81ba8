package types

import "fmt"

// BackendName identifies a family of WMS render engines sharing the FastCGI ABI.
type BackendName string

const (
	BackendQgis BackendName = "qgis"
	BackendUmn  BackendName = "umn"
	BackendMock BackendName = "mock"
)

// CapType selects which request a WmsService issues for its capabilities document.
type CapType string

const (
	// CapOgc requests GetCapabilities, the OGC-standard capabilities document.
	CapOgc CapType = "ogc"
	// CapQgis requests GetProjectSettings, QGIS Server's project-aware variant.
	CapQgis CapType = "qgis"
)

// CapRequest returns the REQUEST= query value for this capabilities dialect.
func (c CapType) CapRequest() string {
	if c == CapQgis {
		return "GetProjectSettings"
	}
	return "GetCapabilities"
}

// ProjectFile is an absolute filesystem path to a backend project file found
// by the indexer, paired with the route suffix it was discovered under.
type ProjectFile struct {
	Path   string // absolute path on disk
	Suffix string // "qgs", "qgz", "map", "mock"
}

// WmsService is a single routable WMS endpoint derived from one ProjectFile.
// Built once at indexing time; never mutated afterward.
type WmsService struct {
	// ID is the suffix-stripped project path with '/' replaced by '_',
	// e.g. "/wms/qgs/data/ne.qgs" -> "data_ne".
	ID string
	// WmsPath is the public route, e.g. "/wms/qgs/data/ne".
	WmsPath string
	CapType CapType
	Backend BackendName
}

// CapabilitiesURL reconstructs the capabilities document URL for this
// service against baseURL ("" is fine for a relative URL).
func (s WmsService) CapabilitiesURL(baseURL string) string {
	return fmt.Sprintf("%s%s?SERVICE=WMS&VERSION=1.3.0&REQUEST=%s", baseURL, s.WmsPath, s.CapType.CapRequest())
}

// Inventory is the complete set of WMS services discovered across all
// configured backends. Services is an unkeyed slice; ByWmsPath scans it.
type Inventory struct {
	Services []WmsService
	// BaseDirs is the longest common parent directory of every project
	// file found for a backend, across all of that backend's suffixes.
	// A spawned worker's cwd is set to its backend's entry here.
	BaseDirs map[BackendName]string `json:"base_dirs,omitempty"`
}

// ByWmsPath returns the service routed at path, if any.
func (inv Inventory) ByWmsPath(path string) (WmsService, bool) {
	for _, s := range inv.Services {
		if s.WmsPath == path {
			return s, true
		}
	}
	return WmsService{}, false
}

// RequestFingerprint identifies a class of request for dispatcher affinity
// and latency tracking: same project, request type and rendered extent tend
// to cost about the same each time.
type RequestFingerprint struct {
	Project string
	Request string
	Layers  string
	Width   int
	Height  int
}

func (f RequestFingerprint) String() string {
	return fmt.Sprintf("%s|%s|%s|%dx%d", f.Project, f.Request, f.Layers, f.Width, f.Height)
}
