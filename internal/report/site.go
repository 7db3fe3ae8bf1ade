package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/narvanalabs/mydra/internal/models"
)

const nixpkgsCommitURL = "https://github.com/NixOS/nixpkgs/commit/"

// SiteOptions configures the generated site.
type SiteOptions struct {
	// LogURL is the base URL archived build logs are served from. Status
	// cells link to LogURL + the unit's file name when set.
	LogURL string
	// Title heads the index page.
	Title string
}

// Site renders every report in reportDir into outDir: one Markdown page and
// one HTML page per report, plus an index. It returns the number of pages.
func Site(reportDir, outDir string, opts SiteOptions) (int, error) {
	reports, err := LoadAll(reportDir)
	if err != nil {
		return 0, err
	}
	if opts.Title == "" {
		opts.Title = "mydra builds"
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("creating site directory: %w", err)
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var index strings.Builder
	fmt.Fprintf(&index, "# %s\n\n", opts.Title)

	for _, r := range reports {
		name := strings.TrimSuffix(r.FileName(), ".json")
		page := Page(r, opts.LogURL)

		if err := os.WriteFile(filepath.Join(outDir, name+".md"), page, 0644); err != nil {
			return 0, fmt.Errorf("writing page: %w", err)
		}
		if err := renderHTML(md, page, r.title(), filepath.Join(outDir, name+".html")); err != nil {
			return 0, err
		}

		failed := len(r.FailedAttributes())
		fmt.Fprintf(&index, "- [%s](%s.html): %d units, %d failed attributes\n",
			r.title(), name, len(r.BuildResults), failed)
	}

	if err := renderHTML(md, []byte(index.String()), opts.Title, filepath.Join(outDir, "index.html")); err != nil {
		return 0, err
	}
	return len(reports), nil
}

// Page returns the Markdown page of one report.
func Page(r *Report, logURL string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", r.title())
	if r.Nixpkgs != nil && r.Nixpkgs.Commit != "" {
		fmt.Fprintf(&b, "nixpkgs: [%s](%s%s); %s  \n",
			shortCommit(r.Nixpkgs.Commit), nixpkgsCommitURL, r.Nixpkgs.Commit,
			r.Nixpkgs.CommittedDate.Format("Jan 2 3:04 PM MST"))
	}
	fmt.Fprintf(&b, "run: %s  \n", r.RunID)

	failed := r.FailedAttributes()
	names := make([]string, len(failed))
	for i, a := range failed {
		names[i] = string(a)
	}
	fmt.Fprintf(&b, "failure(s): %s  \n", strings.Join(names, ", "))
	if r.LogURL != "" {
		fmt.Fprintf(&b, "[build log](%s)  \n", r.LogURL)
	}
	if r.YAMLURL != "" {
		fmt.Fprintf(&b, "[mydra cfg](%s)  \n", r.YAMLURL)
	}

	b.WriteString("\n| attr | name | status |\n|---|---|---|\n")
	for _, row := range r.BuildResults {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", escapeCell(string(row.Attr)), escapeCell(row.DrvPath.Name()), statusLink(row, logURL))
	}
	return []byte(b.String())
}

// statusLink links a status to the unit's archived log. DEP_FAILED units
// have no log of their own worth reading, so they are not linked.
func statusLink(row Row, logURL string) string {
	if logURL == "" || row.Status == models.FailureDepFailed.String() {
		return row.Status
	}
	return fmt.Sprintf("[%s](%s)", row.Status, strings.TrimSuffix(logURL, "/")+"/"+path.Base(string(row.DrvPath)))
}

func renderHTML(md goldmark.Markdown, source []byte, title, dest string) error {
	var body bytes.Buffer
	if err := md.Convert(source, &body); err != nil {
		return fmt.Errorf("rendering %s: %w", filepath.Base(dest), err)
	}

	var doc bytes.Buffer
	fmt.Fprintf(&doc, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n",
		html.EscapeString(title))
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")

	if err := os.WriteFile(dest, doc.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	return nil
}

func (r *Report) title() string {
	if r.Nixpkgs != nil && r.Nixpkgs.Commit != "" {
		return "nixpkgs " + shortCommit(r.Nixpkgs.Commit)
	}
	return "run " + r.RunID
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
