// Package shim implements the HTTP<->FastCGI request translation: given an
// inbound /wms/{suffix}/{project...} request it selects a worker, acquires
// a client from that worker's pool, issues the FastCGI request, and streams
// the backend's CGI-style response back as an HTTP response. Only
// Content-Type is forwarded from the backend's response headers; X-us is
// logged as backend render time and every other header is dropped. STDERR
// bytes the backend wrote are logged at warn level and never by themselves
// fail the request.
package shim

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	fcgiclient "github.com/tomasen/fcgi_client"
	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/apperrors"
	"github.com/geoserve/mapserver/pkg/dispatcher"
	"github.com/geoserve/mapserver/pkg/metrics"
	"github.com/geoserve/mapserver/pkg/pool"
	"github.com/geoserve/mapserver/pkg/types"
)

// ClientPoolSource resolves a worker index to its client pool. Satisfied by
// *pool.WorkerPool; narrowed to an interface here so the shim can be tested
// against a fake pool without spawning real worker processes.
type ClientPoolSource interface {
	ClientPoolFor(idx int) *pool.ClientPool
}

// Target bundles the collaborators the shim needs to serve one route
// suffix: a dispatcher to pick a worker, the worker pool to acquire a
// client from, and the backend name for metrics labels.
type Target struct {
	Backend    types.BackendName
	Pool       ClientPoolSource
	Dispatcher dispatcher.Dispatcher
	// Optimized is set only when Dispatcher is a *dispatcher.WmsOptimized,
	// so the shim can feed back observed latency after each request.
	Optimized *dispatcher.WmsOptimized
}

// Shim is an http.Handler serving every registered /wms/{suffix}/... route.
type Shim struct {
	targets map[string]*Target
	logger  zerolog.Logger
}

// New builds a Shim over the given suffix->Target routing table.
func New(targets map[string]*Target, logger zerolog.Logger) *Shim {
	return &Shim{targets: targets, logger: logger.With().Str("component", "shim").Logger()}
}

// ServeHTTP expects to be mounted on a mux pattern exposing "suffix" and
// "project" path values, e.g. "/wms/{suffix}/{project...}".
func (s *Shim) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	suffix := r.PathValue("suffix")
	project := r.PathValue("project")

	target, ok := s.targets[suffix]
	if !ok {
		s.fail(w, apperrors.New(apperrors.KindSuffixNotFound, suffix, nil), "unknown", suffix)
		return
	}

	idx := target.Dispatcher.Select(r.URL.RawQuery)
	clientPool := target.Pool.ClientPoolFor(idx)

	conn, err := clientPool.Acquire(r.Context())
	if err != nil {
		s.fail(w, err, string(target.Backend), suffix)
		return
	}

	env := buildEnv(r, project, suffix)

	start := time.Now()
	resp, stderr, err := fastcgiDo(conn.Client(), env)
	latency := time.Since(start)

	if err != nil {
		clientPool.Remove(conn)
		s.logger.Warn().Err(err).Str("suffix", suffix).Msg("FastCGI transport error")
		s.fail(w, apperrors.New(apperrors.KindBackendTransportError, "fcgi request", err), string(target.Backend), suffix)
		return
	}
	defer resp.Body.Close()

	if len(stderr) > 0 {
		s.logger.Warn().Str("suffix", suffix).Str("backend", string(target.Backend)).Str("stderr", string(stderr)).Msg("backend wrote to STDERR")
	}

	if len(resp.Header) == 0 {
		clientPool.Release(conn)
		s.fail(w, apperrors.New(apperrors.KindMalformedResponse, "empty header block", nil), string(target.Backend), suffix)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if us := resp.Header.Get("X-us"); us != "" {
		if micros, err := strconv.ParseInt(us, 10, 64); err == nil {
			s.logger.Debug().Int64("backend_us", micros).Str("suffix", suffix).Msg("backend render time")
		}
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug().Err(err).Msg("client disconnected mid-response")
	}

	clientPool.Release(conn)

	metrics.WmsRequestsTotal.WithLabelValues(string(target.Backend), suffix, strconv.Itoa(status)).Inc()
	metrics.WmsRequestDuration.WithLabelValues(string(target.Backend), suffix).Observe(latency.Seconds())

	if target.Optimized != nil {
		target.Optimized.Record(r.URL.RawQuery, idx, latency)
	}
}

// fastcgiDo issues a request through the client's lower-level Request
// method and parses the CGI-style response itself, rather than calling the
// client's Get convenience method: Get folds any STDERR bytes into its
// returned error, which would turn an informational backend warning into a
// failed request. Request returns STDOUT and STDERR separately, so STDERR
// content can be logged without affecting the outcome.
func fastcgiDo(client *fcgiclient.FCGIClient, env map[string]string) (*http.Response, []byte, error) {
	stdout, stderr, err := client.Request(env, nil)
	if err != nil {
		return nil, stderr, err
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(stdout)))
	header, err := tp.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return &http.Response{Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil))}, stderr, nil
	}

	resp := &http.Response{
		Header: http.Header(header),
		Body:   io.NopCloser(tp.R),
	}
	if status := resp.Header.Get("Status"); status != "" {
		if code, convErr := strconv.Atoi(strings.Fields(status)[0]); convErr == nil {
			resp.StatusCode = code
		}
	}
	return resp, stderr, nil
}

func buildEnv(r *http.Request, project, suffix string) map[string]string {
	host, port := splitHostPort(r.Host)
	query := fmt.Sprintf("map=%s.%s&%s", project, suffix, r.URL.RawQuery)

	// REQUEST_URI carries the rewritten query as well: responders that
	// rebuild the request URL from REQUEST_URI (Go's net/http/cgi does)
	// would otherwise never see the map parameter.
	env := map[string]string{
		"REQUEST_METHOD": r.Method,
		"REQUEST_URI":    r.URL.EscapedPath() + "?" + query,
		"SERVER_NAME":    host,
		"QUERY_STRING":   query,
		"CONTENT_LENGTH": "0",
	}
	if port != "" {
		env["SERVER_PORT"] = port
	}
	if r.TLS != nil {
		env["HTTPS"] = "ON"
	}
	return env
}

func splitHostPort(hostHeader string) (host, port string) {
	parts := strings.SplitN(hostHeader, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func (s *Shim) fail(w http.ResponseWriter, err error, backend, suffix string) {
	status := apperrors.StatusCode(err)
	http.Error(w, err.Error(), status)
	metrics.WmsRequestsTotal.WithLabelValues(backend, suffix, strconv.Itoa(status)).Inc()
}
