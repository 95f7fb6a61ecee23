package cli

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	ctErrors "github.com/twitter/condortask/common/errors"
	"github.com/twitter/condortask/domain"
	"github.com/twitter/condortask/optimizer"
	"github.com/twitter/condortask/sample"
)

type sitesCmd struct {
	catalogURL string
	goodSites  []string
}

func (s *sitesCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites DATASET",
		Short: "Print where each file of a dataset is hosted and the sites a fresh job on it would target",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&s.catalogURL, "catalog_url", "", "catalog to query, overriding the config")
	cmd.Flags().StringSliceVar(&s.goodSites, "good_sites", nil, "healthy sites, overriding the config")
	return cmd
}

type fileSites struct {
	File     string         `json:"file"`
	Replicas []string       `json:"replicas"`
	Sites    []string       `json:"sites"`
	Tier     optimizer.Tier `json:"tier"`
}

func (s *sitesCmd) run(c *CLI, cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	catalogCfg := sample.CatalogConfig{URL: s.catalogURL}
	goodSites := s.goodSites
	if s.catalogURL == "" || len(goodSites) == 0 {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		if s.catalogURL == "" {
			catalogCfg = sample.CatalogConfig{
				URL:        cfg.Catalog.URL,
				Timeout:    cfg.Catalog.Timeout,
				MaxRetries: cfg.Catalog.MaxRetries,
			}
		}
		if len(goodSites) == 0 {
			goodSites = cfg.Optimizer.GoodSites
		}
	}
	if catalogCfg.URL == "" {
		return ctErrors.NewError(errors.New("no catalog url"), ctErrors.ConfigErrorExitCode)
	}

	catalog := sample.NewCatalogClient(catalogCfg, c.stat)
	replicas, err := catalog.Replicas(ctx, args[0])
	if err != nil {
		return ctErrors.NewError(err, ctErrors.RuntimeErrorExitCode)
	}
	files, err := sample.NewCatalogSample(args[0], catalog).Files(ctx)
	if err != nil {
		return ctErrors.NewError(err, ctErrors.RuntimeErrorExitCode)
	}

	opt := optimizer.NewOptimizer(goodSites, nil)
	out := make([]fileSites, 0, len(files))
	for i, f := range files {
		sel := opt.SitesFor(ctx, replicas, optimizer.Pending{
			Index:  i + 1,
			Output: f.Name,
			Inputs: []domain.File{f},
		})
		out = append(out, fileSites{File: f.Name, Replicas: replicas[f.Name], Sites: sel.Sites, Tier: sel.Tier})
	}
	return c.printJSON(out)
}
