package main

import (
	"context"

	"github.com/narvanalabs/mydra/internal/report"
)

// ReportCmd implements the 'report' command.
type ReportCmd struct {
	ReportDir string `name:"report-dir" help:"Directory holding build-*.json reports. Defaults to the cache directory."`
	Out       string `short:"o" default:"public" help:"Output directory for the site"`
	LogURL    string `name:"log-url" help:"Base URL archived build logs are served from"`
	Title     string `help:"Index page title"`
}

func (r *ReportCmd) Run(ctx context.Context, g *Globals) error {
	dir := r.ReportDir
	if dir == "" {
		dir = g.Config.CacheDir
	}

	n, err := report.Site(dir, r.Out, report.SiteOptions{LogURL: r.LogURL, Title: r.Title})
	if err != nil {
		return err
	}
	g.Log.Info("site generated", "pages", n, "out", r.Out)
	return nil
}
