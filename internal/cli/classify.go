package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/analysis"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [base..head]",
	Short: "Label hunks with the static classifier",
	Long: `Run the static rules over the diff and record their labels on the
review. Labels drive trust: "triage trust imports:*" then marks every
import-only hunk as reviewed.

Hunks already labeled by an AI classifier are kept unless --force is set.
Explicit approve/reject decisions are never touched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringSlice("skip", nil, "rules to skip")
	classifyCmd.Flags().Bool("dry-run", false, "print labels without saving")
	classifyCmd.Flags().Bool("force", false, "replace labels from other classifiers")
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

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
	skip, _ := cmd.Flags().GetStringSlice("skip")
	results, err := analysis.Classify(ds.Hunks(), skip)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		for _, r := range results {
			fmt.Fprintf(out, "%-50s %v\n", r.HunkID, r.Labels)
		}
		fmt.Fprintln(out, analysis.Summary(results))
		return nil
	}

	s, err := openSession(ctx, cmd, args, reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	doc, err := s.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	if force, _ := cmd.Flags().GetBool("force"); !force {
		results = keepOwnLabels(doc, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "Nothing to classify.")
		return nil
	}

	res, err := s.coord.Apply(ctx, review.SetClassification(results...))
	if err != nil {
		return err
	}
	if res.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", res.State.Version)
	}
	fmt.Fprintf(out, "Classified %d of %d hunk(s): %s\n", len(results), len(ds.Hunks()), analysis.Summary(results))
	return nil
}

// keepOwnLabels drops results for hunks another classifier already labeled.
func keepOwnLabels(doc model.ReviewState, results []review.Classification) []review.Classification {
	var out []review.Classification
	for _, r := range results {
		st, ok := doc.Hunks[r.HunkID]
		if ok && st.ClassifiedVia != "" && st.ClassifiedVia != model.ClassifiedStatic {
			continue
		}
		out = append(out, r)
	}
	return out
}
