package optimizer

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/twitter/condortask/domain"
)

func files(names ...string) []domain.File {
	var fs []domain.File
	for _, n := range names {
		fs = append(fs, domain.NewFile(n))
	}
	return fs
}

func attempts(sites ...string) []domain.Submission {
	var subs []domain.Submission
	for i, s := range sites {
		subs = append(subs, domain.Submission{ID: string(rune('a' + i)), Site: s})
	}
	return subs
}

func TestSitesFor_AllFilesTier(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2", "S3"}, nil)
	replicas := domain.ReplicaMap{"a": {"S1", "S2"}, "b": {"S2", "S3"}}
	sel := o.SitesFor(context.Background(), replicas, Pending{Index: 1, Inputs: files("a", "b")})
	if sel.Err != nil || sel.Tier != TierAllFiles || !reflect.DeepEqual(sel.Sites, []string{"S2"}) {
		t.Errorf("Expected tier A [S2], got %+v", sel)
	}
}

func TestSitesFor_FallsBackToSomeFilesTier(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2", "S3", "S4", "S5"}, nil)
	// no site holds both files; S1 holds some but failed three times, S3 ran last
	replicas := domain.ReplicaMap{"a": {"S1", "S2", "S3"}, "b": {"S4", "X_not_healthy"}}
	p := Pending{Index: 7, Inputs: files("a", "b"), History: attempts("S1", "S1", "S1", "S3")}

	sel := o.SitesFor(context.Background(), replicas, p)
	if sel.Err != nil {
		t.Fatalf("Unexpected error %v", sel.Err)
	}
	if sel.Tier != TierSomeFiles {
		t.Errorf("Expected tier B, got %s", sel.Tier)
	}
	if !reflect.DeepEqual(sel.Sites, []string{"S2", "S4"}) {
		t.Errorf("Expected [S2 S4], got %v", sel.Sites)
	}
}

func TestSitesFor_FailureExclusionRelaxed(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2"}, nil)
	replicas := domain.ReplicaMap{"a": {"S1"}}
	p := Pending{Index: 1, Inputs: files("a"), History: attempts("S1", "S1", "S1", "S2")}
	sel := o.SitesFor(context.Background(), replicas, p)
	if sel.Tier != TierFailures || !reflect.DeepEqual(sel.Sites, []string{"S1"}) {
		t.Errorf("Expected tier C [S1], got %+v", sel)
	}
}

func TestSitesFor_AnySiteTierWhenNoReplicas(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2"}, nil)
	p := Pending{Index: 1, Inputs: files("missing"), History: attempts("S2")}
	sel := o.SitesFor(context.Background(), domain.ReplicaMap{}, p)
	if sel.Err != nil || sel.Tier != TierAnySite || !reflect.DeepEqual(sel.Sites, []string{"S1"}) {
		t.Errorf("Expected tier D [S1], got %+v", sel)
	}
}

func TestSitesFor_ExhaustedWhenOnlySiteRanLast(t *testing.T) {
	o := NewOptimizer([]string{"S1"}, nil)
	replicas := domain.ReplicaMap{"a": {"S1"}}
	sel := o.SitesFor(context.Background(), replicas, Pending{Index: 3, Inputs: files("a"), History: attempts("S1")})
	if errors.Cause(sel.Err) != ErrNoSites {
		t.Errorf("Expected ErrNoSites, got %v", sel.Err)
	}
	if len(sel.Sites) != 0 {
		t.Errorf("Expected no sites, got %v", sel.Sites)
	}
}

func TestSitesFor_LastSiteIsPerOutput(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2"}, nil)
	replicas := domain.ReplicaMap{"a": {"S1"}, "b": {"S1"}}
	sels := o.SelectSites(context.Background(), replicas, []Pending{
		{Index: 1, Inputs: files("a"), History: attempts("S1")},
		{Index: 2, Inputs: files("b")},
	})
	if len(sels) != 2 {
		t.Fatalf("Expected 2 selections, got %d", len(sels))
	}
	if !reflect.DeepEqual(sels[0].Sites, []string{"S2"}) {
		t.Errorf("Expected output 1 to avoid S1, got %v", sels[0].Sites)
	}
	if sels[1].Tier != TierAllFiles || !reflect.DeepEqual(sels[1].Sites, []string{"S1"}) {
		t.Errorf("Expected output 2 unaffected by output 1's history, got %+v", sels[1])
	}
}

type fakeSiteReader map[string]string

func (f fakeSiteReader) SiteOf(ctx context.Context, sub domain.Submission) (string, error) {
	return f[sub.ID], nil
}

func TestSitesFor_LogFallbackForUnrecordedSites(t *testing.T) {
	o := NewOptimizer([]string{"S1", "S2"}, fakeSiteReader{"old": "S1"})
	replicas := domain.ReplicaMap{"a": {"S1", "S2"}}
	p := Pending{Index: 1, Inputs: files("a"), History: []domain.Submission{{ID: "old"}}}
	sel := o.SitesFor(context.Background(), replicas, p)
	if !reflect.DeepEqual(sel.Sites, []string{"S2"}) {
		t.Errorf("Expected S1 excluded via log fallback, got %v", sel.Sites)
	}
}

func TestLogSiteReader(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "std_logs"), 0755); err != nil {
		t.Fatal(err)
	}
	out, _ := domain.StdLogPaths(dir, "1234")
	header := "--- begin header output ---\nGLIDEIN_CMSSite: T2_US_Nebraska\nhostname: node12\n"
	if err := os.WriteFile(out, []byte(header), 0644); err != nil {
		t.Fatal(err)
	}

	r := &LogSiteReader{LogDir: dir}
	site, err := r.SiteOf(context.Background(), domain.Submission{ID: "1234"})
	if err != nil || site != "T2_US_Nebraska" {
		t.Errorf("Expected T2_US_Nebraska, got %q (%v)", site, err)
	}

	site, err = r.SiteOf(context.Background(), domain.Submission{ID: "9999"})
	if err != nil || site != "" {
		t.Errorf("Expected empty site for missing log, got %q (%v)", site, err)
	}
}
