// Package optimizer picks execution sites for pending outputs. Candidates are relaxed in
// tiers until one is non-empty:
//
//	A: healthy sites holding every input, without repeat-failure sites and the last run site
//	B: healthy sites holding at least one input, same exclusions
//	C: as B, but repeat-failure sites are allowed back
//	D: every healthy site except the last run site
//
// When even tier D is empty the output gets ErrNoSites and must not be submitted.
package optimizer

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/condortask/common/log/tags"
	"github.com/twitter/condortask/domain"
)

const (
	// FailureThreshold is the number of attempts at one site after which the site is
	// excluded for that output.
	FailureThreshold = 3

	// AttemptWarnThreshold is the attempt count past which an output is reported.
	AttemptWarnThreshold = 20
)

// DefaultGoodSites is the allow-list of sites known to be healthy.
var DefaultGoodSites = []string{
	"T2_US_UCSD",
	"T3_US_UCR",
	"T3_US_OSG",
	"T2_US_Florida",
	"T2_US_MIT",
	"T2_US_Nebraska",
	"T2_US_Purdue",
	"T2_US_Vanderbilt",
	"T3_US_Baylor",
	"T3_US_Colorado",
	"T3_US_NotreDame",
	"T3_US_Rice",
	"T3_US_UMiss",
	"T3_US_PuertoRico",
}

var ErrNoSites = errors.New("no sites to submit to")

// Tier names the relaxation level a selection came from.
type Tier string

const (
	TierAllFiles  Tier = "A"
	TierSomeFiles Tier = "B"
	TierFailures  Tier = "C"
	TierAnySite   Tier = "D"
)

// ReplicaSource answers which sites hold each file of a dataset.
// sample.CatalogClient implements it.
type ReplicaSource interface {
	Replicas(ctx context.Context, dataset string) (domain.ReplicaMap, error)
}

// SiteReader recovers the site an earlier attempt ran at when the submission did not
// record one. It is a degraded source; an empty result means unknown.
type SiteReader interface {
	SiteOf(ctx context.Context, sub domain.Submission) (string, error)
}

// Pending is one output about to be submitted.
type Pending struct {
	Index   int
	Output  string
	Inputs  []domain.File
	History []domain.Submission
}

// Selection is the outcome for one Pending output. Err is ErrNoSites when exhausted.
type Selection struct {
	Index int
	Sites []string
	Tier  Tier
	Err   error
}

// Optimizer is stateless between calls.
type Optimizer struct {
	GoodSites []string

	// Logs is consulted only for submissions without a recorded site. May be nil.
	Logs SiteReader
}

func NewOptimizer(goodSites []string, logs SiteReader) *Optimizer {
	if len(goodSites) == 0 {
		goodSites = DefaultGoodSites
	}
	return &Optimizer{GoodSites: append([]string(nil), goodSites...), Logs: logs}
}

// SelectSites computes a selection per pending output, independently of each other.
func (o *Optimizer) SelectSites(ctx context.Context, replicas domain.ReplicaMap, pending []Pending) []Selection {
	out := make([]Selection, 0, len(pending))
	for _, p := range pending {
		out = append(out, o.SitesFor(ctx, replicas, p))
	}
	return out
}

// SitesFor runs the tiers for a single output. Sites in the result are sorted.
func (o *Optimizer) SitesFor(ctx context.Context, replicas domain.ReplicaMap, p Pending) Selection {
	logger := log.WithFields(log.Fields{tags.Index: p.Index, tags.File: p.Output})
	good := toSet(o.GoodSites)

	failures, lastSite := o.history(ctx, p)
	if len(p.History) > AttemptWarnThreshold {
		logger.WithFields(log.Fields{"attempts": len(p.History), "failures": failures}).
			Warnf("Output has failed more than %d times", AttemptWarnThreshold)
	}

	var all, some siteSet
	for i, f := range p.Inputs {
		holders, ok := replicas[f.Name]
		if !ok {
			logger.WithFields(log.Fields{"input": f.Name}).Warn("Input file has no known replica")
		}
		s := toSet(holders)
		if i == 0 {
			all = s
		} else {
			all = all.intersect(s)
		}
		some = some.union(s)
	}

	excluded := siteSet{}
	for site, n := range failures {
		if n >= FailureThreshold {
			excluded[site] = true
		}
	}
	last := siteSet{}
	if lastSite != "" {
		last[lastSite] = true
	}

	tiers := []struct {
		tier  Tier
		sites siteSet
	}{
		{TierAllFiles, good.intersect(all).minus(excluded).minus(last)},
		{TierSomeFiles, good.intersect(some).minus(excluded).minus(last)},
		{TierFailures, good.intersect(some).minus(last)},
		{TierAnySite, good.minus(last)},
	}
	for _, t := range tiers {
		if len(t.sites) > 0 {
			logger.WithFields(log.Fields{"tier": t.tier, tags.Site: t.sites.sorted()}).Debug("Selected sites")
			return Selection{Index: p.Index, Sites: t.sites.sorted(), Tier: t.tier}
		}
	}
	return Selection{
		Index: p.Index,
		Err:   errors.Wrapf(ErrNoSites, "output %d: good sites %v, last run site %q", p.Index, o.GoodSites, lastSite),
	}
}

// history counts attempts per site and finds the site of the most recent attempt with a
// known site.
func (o *Optimizer) history(ctx context.Context, p Pending) (map[string]int, string) {
	counts := map[string]int{}
	last := ""
	for _, sub := range p.History {
		site := sub.Site
		if site == "" && o.Logs != nil {
			s, err := o.Logs.SiteOf(ctx, sub)
			if err != nil {
				log.WithFields(log.Fields{tags.Index: p.Index, tags.JobID: sub.ID, "err": err}).
					Debug("Couldn't read site from job log")
			}
			site = s
		}
		if site == "" {
			continue
		}
		counts[site]++
		last = site
	}
	return counts, last
}

type siteSet map[string]bool

func toSet(sites []string) siteSet {
	s := siteSet{}
	for _, site := range sites {
		s[site] = true
	}
	return s
}

func (s siteSet) intersect(o siteSet) siteSet {
	r := siteSet{}
	for k := range s {
		if o[k] {
			r[k] = true
		}
	}
	return r
}

func (s siteSet) union(o siteSet) siteSet {
	r := siteSet{}
	for k := range s {
		r[k] = true
	}
	for k := range o {
		r[k] = true
	}
	return r
}

func (s siteSet) minus(o siteSet) siteSet {
	r := siteSet{}
	for k := range s {
		if !o[k] {
			r[k] = true
		}
	}
	return r
}

func (s siteSet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
