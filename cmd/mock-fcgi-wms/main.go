// Command mock-fcgi-wms is a minimal FastCGI responder standing in for a
// real QGIS Server/UMN MapServer backend during local testing: it never
// renders anything, it just exercises the full socket hand-off and
// request/response plumbing. The "t" query parameter overrides its
// simulated render time; "helloworld", "slow", and "crash" project names
// select canned behavior.
package main

import (
	"fmt"
	"net/http"
	"net/http/fcgi"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

func main() {
	pid := os.Getpid()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := projectFromRequestURI(r.RequestURI)
		query, _ := url.ParseQuery(r.URL.RawQuery)

		var sleepOverride time.Duration
		if t := query.Get("t"); t != "" {
			if ms, err := strconv.Atoi(t); err == nil {
				sleepOverride = time.Duration(ms) * time.Millisecond
			}
		}

		var body string
		switch project {
		case "helloworld":
			sleep(sleepOverride, 50*time.Millisecond)
			body = fmt.Sprintf("Hello, world! (pid=%d)", pid)
		case "slow":
			sleep(sleepOverride, time.Second)
			body = fmt.Sprintf("Good morning! (pid=%d)", pid)
		case "crash":
			os.Exit(0)
		default:
			body = fmt.Sprintf("Unknown project. Use e.g. 'helloworld', 'slow', 'crash'. (pid=%d)", pid)
		}

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, body)
	})

	// fd 0 is the listening UNIX socket handed off by the supervisor.
	if err := fcgi.Serve(nil, handler); err != nil {
		fmt.Fprintln(os.Stderr, "mock-fcgi-wms:", err)
		os.Exit(1)
	}
}

func sleep(override, fallback time.Duration) {
	d := fallback
	if override > 0 {
		d = override
	}
	time.Sleep(d)
}

// projectFromRequestURI extracts the file-stem-like project token real
// backends derive from the "map=" query value's basename.
func projectFromRequestURI(requestURI string) string {
	withoutQuery := strings.SplitN(requestURI, "?", 2)[0]
	base := path.Base(withoutQuery)
	return strings.TrimSuffix(base, path.Ext(base))
}
