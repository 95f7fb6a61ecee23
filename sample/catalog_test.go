package sample

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/domain"
)

const (
	filesPayload = `[
		{"name": "/store/ds/2.root", "nevents": 20, "sizeGB": 1.5},
		{"name": "/store/ds/1.root", "nevents": 10, "sizeGB": 1.0},
		{"name": "/store/ds/skip.root", "nevents": 5, "sizeGB": 0.1}
	]`
	configPayload = `{"global_tag": "94X_mc2017", "release_version": "CMSSW_9_4_6"}`
	sitesPayload  = `{"block": [{"file": [
		{"name": "/store/ds/1.root", "replica": [
			{"node": "T2_US_UCSD", "se": "disk"},
			{"node": "T1_US_FNAL_Disk", "se": "disk"},
			{"node": "T1_US_FNAL_MSS", "se": "TAPE"},
			{"node": "T2_DE_DESY", "se": "disk"},
			{"node": "T2_US_Purdue", "se": "disk"}
		]},
		{"name": "/store/ds/2.root", "replica": []}
	]}]}`
)

type catalogServer struct {
	*httptest.Server
	hits int64
}

func newCatalogServer(t *testing.T) *catalogServer {
	cs := &catalogServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&cs.hits, 1)
		if r.URL.Query().Get("query") != "/A/B/MINIAODSIM" {
			fmt.Fprint(w, `{"response": {"status": "fail", "fail_reason": "unknown dataset", "payload": []}}`)
			return
		}
		var payload string
		switch r.URL.Query().Get("type") {
		case "files":
			payload = filesPayload
		case "config":
			payload = configPayload
		case "sites":
			payload = sitesPayload
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"response": {"status": "success", "payload": %s}}`, payload)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func noBackoff(int) time.Duration { return 0 }

func TestCatalogSample_FilesSortedAndSelected(t *testing.T) {
	cs := newCatalogServer(t)
	reg := stats.NewFinagleStatsRegistry()
	catalog := NewCatalogClient(CatalogConfig{URL: cs.URL, Backoff: noBackoff},
		stats.NewCustomStatsReceiver(func() stats.StatsRegistry { return reg }))

	s := NewCatalogSample("/A/B/MINIAODSIM", catalog)
	s.Selection = func(name string) bool { return !strings.Contains(name, "skip") }

	ctx := context.Background()
	files, err := s.Files(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.File{{Name: "/store/ds/1.root", Events: 10}, {Name: "/store/ds/2.root", Events: 20}}, files)

	n, err := s.NEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)

	gt, err := s.GlobalTag(ctx)
	require.NoError(t, err)
	assert.Equal(t, "94X_mc2017", gt)
	rel, _ := s.NativeRelease(ctx)
	assert.Equal(t, "CMSSW_9_4_6", rel)

	// files once, config once; everything else from cache
	assert.Equal(t, int64(2), atomic.LoadInt64(&cs.hits))
	stats.VerifyCounts("catalog", reg, t, map[string]int64{
		"catalog/cacheMissCounter": 2,
		"catalog/cacheHitCounter":  2,
	})
}

func TestCatalogSample_TagOverride(t *testing.T) {
	cs := newCatalogServer(t)
	s := NewCatalogSample("/A/B/MINIAODSIM", NewCatalogClient(CatalogConfig{URL: cs.URL, Backoff: noBackoff}, nil))
	s.Tag = "mytag"
	gt, err := s.GlobalTag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mytag", gt)
	assert.Equal(t, int64(0), atomic.LoadInt64(&cs.hits))
}

func TestCatalogSample_FailureNotCached(t *testing.T) {
	cs := newCatalogServer(t)
	s := NewCatalogSample("/Unknown/X/Y", NewCatalogClient(CatalogConfig{URL: cs.URL, Backoff: noBackoff}, nil))
	_, err := s.Files(context.Background())
	assert.Error(t, err)
	_, err = s.Files(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&cs.hits))
}

func TestCatalogClient_Replicas(t *testing.T) {
	cs := newCatalogServer(t)
	catalog := NewCatalogClient(CatalogConfig{URL: cs.URL, Backoff: noBackoff}, nil)
	replicas, err := catalog.Replicas(context.Background(), "/A/B/MINIAODSIM")
	require.NoError(t, err)
	assert.Equal(t, domain.ReplicaMap{
		"/store/ds/1.root": {"T2_US_UCSD", "T2_US_Purdue"},
		"/store/ds/2.root": nil,
	}, replicas)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(10, 50*time.Millisecond, nil)
	loads := 0
	load := func() ([]byte, error) { loads++; return []byte("v"), nil }

	c.GetOrLoad("k", load)
	c.GetOrLoad("k", load)
	assert.Equal(t, 1, loads)

	time.Sleep(120 * time.Millisecond)
	c.GetOrLoad("k", load)
	assert.Equal(t, 2, loads)

	c.Purge()
	c.GetOrLoad("k", load)
	assert.Equal(t, 3, loads)
}

func TestCache_ZeroTTLDisables(t *testing.T) {
	c := NewCache(10, 0, nil)
	loads := 0
	load := func() ([]byte, error) { loads++; return []byte("v"), nil }
	c.GetOrLoad("k", load)
	c.GetOrLoad("k", load)
	assert.Equal(t, 2, loads)
}
