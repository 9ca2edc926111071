package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/client"
	"github.com/sprite-ai/triage/internal/reviewsync"
	"github.com/sprite-ai/triage/internal/trust"
)

var statusCmd = &cobra.Command{
	Use:   "status [base..head]",
	Short: "Print review progress (non-interactive)",
	Long: `Print progress for a comparison: counts by status and per-file
totals. Useful for CI and pre-merge hooks.

With --fail-pending the command fails while any hunk still needs review.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var errPending = errors.New("review incomplete")

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown")
	statusCmd.Flags().Bool("fail-pending", false, "exit non-zero while hunks need review")
}

// statusReport is what every status format renders.
type statusReport struct {
	Comparison string             `json:"comparison"`
	Version    int64              `json:"version"`
	Policy     string             `json:"policy"`
	Progress   trust.Progress     `json:"progress"`
	Groups     int                `json:"identicalGroups"`
	Clusters   int                `json:"symbolClusters"`
	Files      []client.TreeEntry `json:"files"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, args, reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	doc, err := s.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	cl, err := s.client.Clusters(ctx, s.repo, s.comp.Key)
	if err != nil {
		return err
	}
	tree, err := s.client.Tree(ctx, s.repo, s.comp.Key)
	if err != nil {
		return err
	}

	rep := statusReport{
		Comparison: s.comp.Key,
		Version:    doc.Version,
		Policy:     s.coord.Policy().Name(),
		Progress:   cl.Progress,
		Groups:     len(cl.Identical),
		Clusters:   len(cl.Symbols),
	}
	for _, e := range tree {
		if !e.IsDir {
			rep.Files = append(rep.Files, e)
		}
	}

	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		err = statusJSON(out, rep)
	case "markdown":
		err = statusMarkdown(out, rep)
	case "text", "":
		err = statusText(out, rep)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}

	if fail, _ := cmd.Flags().GetBool("fail-pending"); fail && !rep.Progress.Done() && rep.Progress.Total > 0 {
		return fmt.Errorf("%w: %d of %d hunks need review", errPending, rep.Progress.Total-rep.Progress.Reviewed(), rep.Progress.Total)
	}
	return nil
}

func statusText(w io.Writer, r statusReport) error {
	p := r.Progress
	if p.Total == 0 {
		fmt.Fprintf(w, "%s: no changes to review.\n", r.Comparison)
		return nil
	}
	fmt.Fprintf(w, "%s (version %d)\n", r.Comparison, r.Version)
	fmt.Fprintf(w, "%s\n", p)
	fmt.Fprintf(w, "%d identical group(s), %d symbol cluster(s)\n\n", r.Groups, r.Clusters)
	for _, f := range r.Files {
		fmt.Fprintf(w, "  %s %-50s %d/%d\n", fileMark(f), f.Path, f.Counts.Reviewed, f.Counts.Total)
	}
	return nil
}

func statusJSON(w io.Writer, r statusReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func statusMarkdown(w io.Writer, r statusReport) error {
	p := r.Progress
	fmt.Fprintf(w, "## Review status: `%s`\n\n", r.Comparison)
	fmt.Fprintf(w, "**%d/%d** hunks reviewed (%d%%)\n\n", p.Reviewed(), p.Total, p.Percent())
	fmt.Fprintf(w, "| Approved | Rejected | Trusted | Saved | Pending |\n")
	fmt.Fprintf(w, "|---------:|---------:|--------:|------:|--------:|\n")
	fmt.Fprintf(w, "| %d | %d | %d | %d | %d |\n\n", p.Approved, p.Rejected, p.Trusted, p.SavedForLater, p.Pending)

	if len(r.Files) == 0 {
		return nil
	}
	fmt.Fprintln(w, "| File | Reviewed | Rejected |")
	fmt.Fprintln(w, "|------|---------:|---------:|")
	for _, f := range r.Files {
		fmt.Fprintf(w, "| `%s` | %d/%d | %d |\n", strings.ReplaceAll(f.Path, "|", `\|`), f.Counts.Reviewed, f.Counts.Total, f.Counts.Rejected)
	}
	return nil
}

func fileMark(f client.TreeEntry) string {
	switch {
	case f.Counts.Rejected > 0:
		return "✗"
	case f.Counts.Pending == 0:
		return "✓"
	default:
		return "·"
	}
}
