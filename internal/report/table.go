package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gookit/color"

	"github.com/narvanalabs/mydra/internal/models"
)

// Table writes one line per unit of result: a ✓ or ✗ mark, the attribute,
// the status, and the artifact location or the unit.
func Table(w io.Writer, ws models.WorkingSet, result *models.Result, colored bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, row := range Rows(ws, result) {
		mark, where := "✓", string(row.StorePath)
		style := color.Green
		if row.Status != StatusSuccess {
			mark, where = "✗", string(row.DrvPath)
			style = color.Red
			if row.Status == models.FailureCannotBuild.String() {
				style = color.White
			}
		}
		if colored {
			mark = style.Sprint(mark)
		}

		attr := string(row.Attr)
		if attr == "" {
			attr = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, attr, row.Status, where); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Summary writes the outcome counts of result on one line.
func Summary(w io.Writer, result *models.Result) error {
	counts := result.CountByReason()
	_, err := fmt.Fprintf(w, "%d succeeded, %d failed", len(result.Successes), len(result.Failures))
	if err != nil {
		return err
	}
	for _, reason := range models.ValidFailureReasons() {
		if n := counts[reason]; n > 0 {
			if _, err := fmt.Fprintf(w, ", %s %d", reason, n); err != nil {
				return err
			}
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}
