package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/app"
	"github.com/maltedev/retail-scraper/internal/config"
	"github.com/maltedev/retail-scraper/internal/models"
	"github.com/maltedev/retail-scraper/internal/scraper"
)

type scrapeOptions struct {
	sites      []string
	zipcode    string
	query      string
	maxResults int
	output     string
	sinks      []string
	engine     string
	headful    bool
}

func newScrapeCmd(e *env) *cobra.Command {
	opts := &scrapeOptions{}

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape products for a zipcode and query on one or more sites",
		Example: `  scraper scrape --site walmart --zipcode 94102 --query "gaming laptop" --max-results 5
  scraper scrape --site walmart --site target --zipcode 10001 --query tv --output tv.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, e, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.sites, "site", []string{"walmart"}, "site to scrape (repeatable)")
	f.StringVar(&opts.zipcode, "zipcode", "", "delivery zipcode")
	f.StringVar(&opts.query, "query", "", "search query")
	f.IntVar(&opts.maxResults, "max-results", 10, "maximum products per site")
	f.StringVar(&opts.output, "output", "", "JSON output file (overrides scraper.output_file)")
	f.StringSliceVar(&opts.sinks, "sink", nil, "result sinks (json, sqlite, postgres, redis)")
	f.StringVar(&opts.engine, "engine", "", "browser engine (playwright, chromedp)")
	f.BoolVar(&opts.headful, "headful", false, "show the browser window")
	_ = cmd.MarkFlagRequired("zipcode")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func (o *scrapeOptions) apply(cfg *config.Config) error {
	if o.output != "" {
		cfg.Scraper.OutputFile = o.output
	}
	if len(o.sinks) > 0 {
		cfg.Scraper.Sinks = o.sinks
	}
	if o.engine != "" {
		cfg.Browser.Engine = o.engine
	}
	if o.headful {
		cfg.Browser.Headless = false
	}
	return cfg.Validate()
}

func runScrape(cmd *cobra.Command, e *env, opts *scrapeOptions) error {
	ctx := cmd.Context()
	if err := opts.apply(e.cfg); err != nil {
		return err
	}

	a, err := app.New(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Resolve every site up front so a typo fails before any browser starts.
	for _, site := range opts.sites {
		if _, err := a.Site(site); err != nil {
			return err
		}
	}

	jobs := make([]scraper.Job, 0, len(opts.sites))
	for _, site := range opts.sites {
		jobs = append(jobs, scraper.Job{
			Site: site,
			Request: scraper.Request{
				Zipcode:    opts.zipcode,
				Query:      opts.query,
				MaxResults: opts.maxResults,
			},
		})
	}

	results := scraper.RunAll(ctx, jobs, e.cfg.Scraper.Concurrency, a.NewScraper, e.logger)

	for _, result := range results {
		if err := a.Sink.Write(ctx, result); err != nil {
			e.logger.Error("failed to store result", zap.String("site", result.Site), zap.Error(err))
		}
		printResult(cmd.OutOrStdout(), result)
	}
	return nil
}

func printResult(w io.Writer, r *models.ScrapeResult) {
	duration := 0.0
	if r.DurationSeconds != nil {
		duration = *r.DurationSeconds
	}

	if !r.Success {
		fmt.Fprintf(w, "%s (%s) %q: failed after %.1fs: %s\n", r.Site, r.Zipcode, r.Query, duration, r.Error)
	} else {
		fmt.Fprintf(w, "%s (%s) %q: %d products in %.1fs\n", r.Site, r.Zipcode, r.Query, r.ProductsFound, duration)
	}
	for i, p := range r.Products {
		fmt.Fprintf(w, "  %2d. %s\n", i+1, p)
	}
}
