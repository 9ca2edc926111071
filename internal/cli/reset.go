package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
)

var resetCmd = &cobra.Command{
	Use:   "reset [hunk-id...]",
	Short: "Clear decisions on hunks",
	Long: `Clear the approve or reject decision on hunks so they show as pending
again. Classification labels and the trust list are kept. Accepts the
same selectors as "approve", or --all for every hunk.`,
	RunE: runReset,
}

func init() {
	addComparisonFlag(resetCmd)
	addSelectorFlags(resetCmd)
	resetCmd.Flags().Bool("all", false, "reset every hunk in the review")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	all, _ := cmd.Flags().GetBool("all")
	s, err := openSession(ctx, cmd, comparisonArgs(cmd), reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	ids, err := decisionTargets(ctx, cmd, s, args)
	if err != nil {
		return err
	}
	switch {
	case all && len(ids) > 0:
		return fmt.Errorf("--all cannot be combined with hunk ids or selectors")
	case !all && len(ids) == 0:
		return fmt.Errorf("no hunks selected: pass hunk ids, a selector or --all")
	}

	if _, err := s.coord.Refresh(ctx); err != nil {
		return err
	}
	out, err := s.coord.Apply(ctx, review.ResetHunks(ids...))
	if err != nil {
		return err
	}
	if out.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", out.State.Version)
	}
	if all {
		fmt.Fprintf(cmd.OutOrStdout(), "Reset all hunks, review at version %d\n", out.State.Version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %d hunk(s), review at version %d\n", len(ids), out.State.Version)
	return nil
}
