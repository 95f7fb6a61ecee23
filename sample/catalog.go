package sample

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/common/stats"
	"github.com/twitter/condortask/domain"
)

const (
	DefaultCatalogTimeout    = 2 * time.Minute
	DefaultCatalogMaxRetries = 3
)

// CatalogConfig configures a CatalogClient. Zero values get defaults.
type CatalogConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
	ReplicaTTL time.Duration
	CacheSize  int

	// Backoff between HTTP retries. Defaults to pester.ExponentialBackoff.
	Backoff pester.BackoffStrategy
}

// CatalogClient queries a dataset metadata service. A request is
//
//	GET {URL}?query={dataset}&type={files|config|sites}&detail=1
//
// answered with {"response": {"status": "success", "payload": ...}}.
type CatalogClient struct {
	url      string
	http     *pester.Client
	cache    *Cache
	replicas *Cache
	stat     stats.StatsReceiver
}

func NewCatalogClient(cfg CatalogConfig, stat stats.StatsReceiver) *CatalogClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCatalogTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultCatalogMaxRetries
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ReplicaTTL == 0 {
		cfg.ReplicaTTL = DefaultReplicaTTL
	}
	if cfg.Backoff == nil {
		cfg.Backoff = pester.ExponentialBackoff
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	stat = stat.Scope("catalog")

	client := pester.NewExtendedClient(&http.Client{Timeout: cfg.Timeout})
	client.Concurrency = 1
	client.MaxRetries = cfg.MaxRetries
	client.Backoff = cfg.Backoff
	client.LogHook = func(e pester.ErrEntry) {
		log.Warnf("Retrying catalog request after failed attempt: %+v", e)
	}

	return &CatalogClient{
		url:      cfg.URL,
		http:     client,
		cache:    NewCache(cfg.CacheSize, cfg.CacheTTL, stat),
		replicas: NewCache(cfg.CacheSize, cfg.ReplicaTTL, stat),
		stat:     stat,
	}
}

type catalogResponse struct {
	Response struct {
		Status  string          `json:"status"`
		Payload json.RawMessage `json:"payload"`
		Fail    string          `json:"fail_reason"`
	} `json:"response"`
}

// Query returns the payload of one catalog query, through cache.
func (c *CatalogClient) Query(ctx context.Context, query, typ string) (json.RawMessage, error) {
	cache := c.cache
	if typ == "sites" {
		cache = c.replicas
	}
	return cache.GetOrLoad(typ+"|"+query, func() ([]byte, error) {
		return c.fetch(ctx, query, typ)
	})
}

func (c *CatalogClient) fetch(ctx context.Context, query, typ string) ([]byte, error) {
	defer c.stat.Latency(stats.SampleCatalogLatency_ms).Time().Stop()
	log.WithFields(log.Fields{tags.Dataset: query, "type": typ}).Debug("catalog query")

	v := url.Values{}
	v.Set("query", query)
	v.Set("type", typ)
	v.Set("detail", "1")
	req, err := http.NewRequest(http.MethodGet, c.url+"?"+v.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "catalog request")
	}
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "catalog %s query for %s", typ, query)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("catalog %s query for %s: http %d", typ, query, resp.StatusCode)
	}

	var cr catalogResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, errors.Wrap(err, "decoding catalog response")
	}
	if cr.Response.Status != "success" {
		return nil, errors.Errorf("catalog %s query for %s failed: %s", typ, query, cr.Response.Fail)
	}
	return cr.Response.Payload, nil
}

type catalogFile struct {
	Name    string  `json:"name"`
	NEvents int64   `json:"nevents"`
	SizeGB  float64 `json:"sizeGB"`
}

type catalogConfig struct {
	GlobalTag      string `json:"global_tag"`
	ReleaseVersion string `json:"release_version"`
}

type catalogSites struct {
	Block []struct {
		File []struct {
			Name    string `json:"name"`
			Replica []struct {
				Node string `json:"node"`
				SE   string `json:"se"`
			} `json:"replica"`
		} `json:"file"`
	} `json:"block"`
}

// Replicas maps every file of dataset to the US disk sites holding it. FNAL is
// reported as T2_US_Purdue, where jobs reading FNAL data can run.
func (c *CatalogClient) Replicas(ctx context.Context, dataset string) (domain.ReplicaMap, error) {
	payload, err := c.Query(ctx, dataset, "sites")
	if err != nil {
		return nil, err
	}
	var sites catalogSites
	if err := json.Unmarshal(payload, &sites); err != nil {
		return nil, errors.Wrap(err, "decoding sites payload")
	}
	replicas := domain.ReplicaMap{}
	for _, block := range sites.Block {
		for _, f := range block.File {
			var nodes []string
			seen := map[string]bool{}
			for _, r := range f.Replica {
				name := r.Node
				if strings.Contains(r.SE, "TAPE") || !strings.Contains(name, "_US_") {
					continue
				}
				if strings.Contains(name, "FNAL") {
					name = "T2_US_Purdue"
				}
				if seen[name] {
					continue
				}
				seen[name] = true
				nodes = append(nodes, name)
			}
			replicas[f.Name] = nodes
		}
	}
	return replicas, nil
}

// CatalogSample is a dataset whose files and configuration come from the catalog.
type CatalogSample struct {
	Dataset string

	// Selection, when set, keeps only files whose name it accepts.
	Selection func(name string) bool

	// Tag overrides the catalog's global tag.
	Tag string

	catalog *CatalogClient
}

var _ Sample = (*CatalogSample)(nil)

func NewCatalogSample(dataset string, catalog *CatalogClient) *CatalogSample {
	return &CatalogSample{Dataset: dataset, catalog: catalog}
}

func (s *CatalogSample) DatasetName() string { return s.Dataset }

func (s *CatalogSample) Files(ctx context.Context) ([]domain.File, error) {
	payload, err := s.catalog.Query(ctx, s.Dataset, "files")
	if err != nil {
		return nil, err
	}
	var entries []catalogFile
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, errors.Wrap(err, "decoding files payload")
	}
	if len(entries) == 0 {
		log.WithFields(log.Fields{tags.Dataset: s.Dataset}).Warn("catalog returned no files")
	}
	files := make([]domain.File, 0, len(entries))
	for _, e := range entries {
		if s.Selection != nil && !s.Selection(e.Name) {
			continue
		}
		files = append(files, domain.File{Name: e.Name, Events: e.NEvents})
	}
	sortFiles(files)
	return files, nil
}

func (s *CatalogSample) NEvents(ctx context.Context) (int64, error) {
	files, err := s.Files(ctx)
	if err != nil {
		return 0, err
	}
	return domain.SumEvents(files), nil
}

func (s *CatalogSample) config(ctx context.Context) (catalogConfig, error) {
	var cfg catalogConfig
	payload, err := s.catalog.Query(ctx, s.Dataset, "config")
	if err != nil {
		return cfg, err
	}
	return cfg, errors.Wrap(json.Unmarshal(payload, &cfg), "decoding config payload")
}

func (s *CatalogSample) GlobalTag(ctx context.Context) (string, error) {
	if s.Tag != "" {
		return s.Tag, nil
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.GlobalTag, nil
}

// NativeRelease is the software release the dataset was produced with.
func (s *CatalogSample) NativeRelease(ctx context.Context) (string, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return "", err
	}
	return cfg.ReleaseVersion, nil
}
