package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
	"github.com/sprite-ai/triage/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust [pattern...]",
	Short: "Trust label patterns, or list the taxonomy",
	Long: `Add patterns to the review's trust list. Hunks whose classification
labels match a trusted pattern count as reviewed without a decision.
"*" matches any run of characters, so "imports:*" trusts every import label.

Without arguments, prints the taxonomy and the current trust list.`,
	RunE: runTrust,
}

var untrustCmd = &cobra.Command{
	Use:   "untrust pattern...",
	Short: "Remove patterns from the trust list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUntrust,
}

func init() {
	addComparisonFlag(trustCmd)
	addComparisonFlag(untrustCmd)
}

func runTrust(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, comparisonArgs(cmd), reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	doc, err := s.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	cats, err := s.client.Taxonomy(ctx, s.repo)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		for _, c := range cats {
			fmt.Fprintf(out, "%s\n", c.Name)
			for _, p := range c.Patterns {
				mark := " "
				if trust.AnyMatch([]string{p.ID}, doc.TrustList, nil) {
					mark = "✓"
				}
				fmt.Fprintf(out, "  %s %-32s %s\n", mark, p.ID, p.Description)
			}
		}
		if len(doc.TrustList) > 0 {
			fmt.Fprintf(out, "\nTrusted: %s\n", strings.Join(doc.TrustList, ", "))
		}
		return nil
	}

	ids := trust.PatternIDs(cats)
	for _, p := range args {
		if !trust.AnyMatch(ids, []string{p}, nil) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %q matches no taxonomy pattern\n", p)
		}
	}

	res, err := s.coord.Apply(ctx, review.AddTrust(args...))
	if err != nil {
		return err
	}
	if res.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", res.State.Version)
	}
	fmt.Fprintf(out, "Trusting %s\n", strings.Join(res.State.TrustList, ", "))
	return nil
}

func runUntrust(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, comparisonArgs(cmd), reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	if _, err := s.coord.Refresh(ctx); err != nil {
		return err
	}
	res, err := s.coord.Apply(ctx, review.RemoveTrust(args...))
	if err != nil {
		return err
	}
	if res.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", res.State.Version)
	}
	if len(res.State.TrustList) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Trust list is empty.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trusting %s\n", strings.Join(res.State.TrustList, ", "))
	return nil
}
