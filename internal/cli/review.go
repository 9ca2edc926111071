package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
	"github.com/sprite-ai/triage/internal/trust"
	"github.com/sprite-ai/triage/internal/tui"
)

var reviewCmd = &cobra.Command{
	Use:   "review [base..head]",
	Short: "Open an interactive review session",
	Long: `Open the terminal reviewer for a comparison. By default, reviews
uncommitted changes against HEAD. Decisions are saved to the companion
server as you make them; changes made elsewhere are picked up live.

The reviewer is the primary author of the document and overwrites the
server copy unless the config sets client.policy.

Examples:
  triage review                     # working tree vs HEAD
  triage review HEAD~1..HEAD        # last commit
  triage review main...HEAD         # branch vs main`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

var exportCmd = &cobra.Command{
	Use:   "export [base..head]",
	Short: "Write the approved hunks as a patch",
	Long: `Build a patch containing only approved and trusted hunks, optionally
with a suggested commit message. The diff is computed locally; decisions
come from the server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	reviewCmd.Flags().Bool("stat", false, "print diff stats and exit (non-interactive)")
	for _, c := range []*cobra.Command{reviewCmd, exportCmd} {
		c.Flags().StringP("output-patch", "o", "", "write approved changes as patch to file")
		c.Flags().Bool("commit-msg", false, "print a suggested commit message")
	}
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	if stat, _ := cmd.Flags().GetBool("stat"); stat {
		repo, err := repoPath(cmd)
		if err != nil {
			return err
		}
		comp, err := comparisonKey(args)
		if err != nil {
			return err
		}
		ds, err := diff.Load(ctx, repo, comp)
		if err != nil {
			return err
		}
		printStat(cmd.OutOrStdout(), ds)
		return nil
	}

	changes := tui.NewChanges()
	s, err := openSession(ctx, cmd, args, reviewsync.OverwritePolicy{}, reviewsync.WithListener(changes.Notify))
	if err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := s.coord.Watch(watchCtx, s.client); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("live updates stopped", "error", err)
		}
	}()

	if err := tui.Run(ctx, s.coord, changes); err != nil {
		return err
	}
	cancelWatch()

	snap := s.coord.Snapshot()
	return writeExport(ctx, cmd, s.repo, s.comp, snap.Doc)
}

func runExport(cmd *cobra.Command, args []string) error {
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
	patchPath, _ := cmd.Flags().GetString("output-patch")
	commitMsg, _ := cmd.Flags().GetBool("commit-msg")
	if patchPath == "" && !commitMsg {
		patchPath = "-"
		cmd.Flags().Set("output-patch", patchPath)
	}
	return writeExport(ctx, cmd, s.repo, s.comp, doc)
}

// writeExport honours --output-patch and --commit-msg. A patch path of "-"
// writes to stdout.
func writeExport(ctx context.Context, cmd *cobra.Command, repo string, comp model.Comparison, doc model.ReviewState) error {
	patchPath, _ := cmd.Flags().GetString("output-patch")
	commitMsg, _ := cmd.Flags().GetBool("commit-msg")
	if patchPath == "" && !commitMsg {
		return nil
	}

	ds, err := diff.Load(ctx, repo, comp)
	if err != nil {
		return err
	}
	report := review.NewReport(ds.Files, trust.NewEvaluator(doc, nil).Status)
	out := cmd.OutOrStdout()

	if patchPath != "" {
		patch := report.ApprovedPatch()
		switch {
		case patch == "":
			fmt.Fprintln(cmd.ErrOrStderr(), "No approved hunks, no patch written.")
		case patchPath == "-":
			fmt.Fprint(out, patch)
		default:
			if err := os.WriteFile(patchPath, []byte(patch), 0o644); err != nil {
				return fmt.Errorf("writing patch: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Patch written to %s (%d hunks)\n", patchPath, len(report.Approved))
		}
	}

	if commitMsg {
		if msg := report.CommitMessage(); msg != "" {
			fmt.Fprintln(out, msg)
		}
	}
	return nil
}

func printStat(w io.Writer, ds *diff.DiffSet) {
	files, added, deleted := ds.Stats()
	fmt.Fprintf(w, "%d file(s) changed, %d hunk(s), %d insertions(+), %d deletions(-)\n\n", files, len(ds.Hunks()), added, deleted)
	for _, f := range ds.Files {
		status := "M"
		switch {
		case f.IsNew:
			status = "A"
		case f.IsDeleted:
			status = "D"
		case f.IsRenamed:
			status = "R"
		}
		fmt.Fprintf(w, "  %s %-50s %3d hunk(s) +%-4d -%d\n", status, f.Name(), len(f.Hunks), f.AddedLines, f.DeletedLines)
	}
}
