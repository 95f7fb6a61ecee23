// Package endpoints serves a run's admin http surface: health, metrics, task
// summaries and the job log directories of each task.
package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/stats"
)

const shutdownTimeout = 5 * time.Second

func NewServer(addr string, stat stats.StatsReceiver) *Server {
	s := &Server{
		Addr:      addr,
		Stats:     stat,
		Resources: NewResourceHandler(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.helpHandler)
	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	s.mux.Handle(ResourcePrefix, s.Resources)
	return s
}

type Server struct {
	Addr      string
	Stats     stats.StatsReceiver
	Resources *ResourceHandler
	mux       *http.ServeMux

	mu    sync.Mutex
	paths []string
}

// Handle registers an extra path, listed on the help page.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	s.paths = append(s.paths, pattern)
	s.mu.Unlock()
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Serving http & stats on ", s.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) helpHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	paths := append([]string{"/health", "/admin/metrics.json", ResourcePrefix + "{TASK}/logs/"}, s.paths...)
	s.mu.Unlock()
	http.Error(w, fmt.Sprintf("Common paths: '%s'", strings.Join(paths, "', '")), http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	if _, err := io.Copy(w, bytes.NewBuffer(s.Stats.Render(pretty))); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// JSONHandler serves whatever get returns, marshalled fresh per request.
func JSONHandler(get func() interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		enc := json.NewEncoder(w)
		if r.URL.Query().Get("pretty") == "true" {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(get()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// MakeStatsReceiver returns a scoped receiver over a fresh finagle-style registry.
func MakeStatsReceiver(scope string) stats.StatsReceiver {
	return stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry).Scope(scope).Precision(time.Millisecond)
}

const ResourcePrefix = "/resources/"

// ResourceHandler serves files and directories registered by namespace and name at
// /resources/{namespace}/{name}/...
type ResourceHandler struct {
	mu sync.RWMutex
	// map[namespace]map[name]path
	resources map[string]map[string]string
}

func NewResourceHandler() *ResourceHandler {
	return &ResourceHandler{resources: map[string]map[string]string{}}
}

// AddResource registers path and returns the url path it is served under.
func (h *ResourceHandler) AddResource(namespace, name, p string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.resources[namespace]; !ok {
		h.resources[namespace] = map[string]string{}
	}
	h.resources[namespace][name] = p
	return ResourcePrefix + namespace + "/" + name + "/"
}

// Namespaces lists the registered namespaces.
func (h *ResourceHandler) Namespaces() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.resources))
	for ns := range h.resources {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (h *ResourceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, ResourcePrefix), "/", 3)
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	h.mu.RLock()
	root, ok := h.resources[parts[0]][parts[1]]
	h.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	rest := "/"
	if len(parts) == 3 {
		rest = path.Clean("/" + parts[2])
	}
	http.StripPrefix(ResourcePrefix+parts[0]+"/"+parts[1], http.FileServer(http.Dir(root))).ServeHTTP(w, withPath(r, rest, parts))
}

// withPath rewrites r to the cleaned resource path so ".." cannot escape the root.
func withPath(r *http.Request, rest string, parts []string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.URL.Path = ResourcePrefix + parts[0] + "/" + parts[1] + rest
	return r2
}
