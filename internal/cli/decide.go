package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
)

var approveCmd = &cobra.Command{
	Use:   "approve [hunk-id...]",
	Short: "Approve hunks",
	Long: `Approve hunks by id, a whole identical-change group, or a symbol
cluster (the definition plus its pure references).

Writes are versioned: if someone changed the review since it was read,
the edit is dropped and nothing is overwritten. Re-run the command.

Examples:
  triage approve main.go:3f2a9c1e0b7d4a61
  triage approve --like main.go:3f2a9c1e0b7d4a61   # every hunk with the same change
  triage approve --symbol 2 -c main..HEAD
  triage approve --symbol-of util.go:9c04d1e27a3b5f80  # clusters sharing a symbol with this hunk`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args, model.StatusApproved)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [hunk-id...]",
	Short: "Reject hunks",
	Long:  `Reject hunks. Accepts the same selectors as "approve".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd, args, model.StatusRejected)
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		addComparisonFlag(c)
		addSelectorFlags(c)
	}
}

// addSelectorFlags registers the group and cluster selectors read by
// decisionTargets.
func addSelectorFlags(c *cobra.Command) {
	c.Flags().Int("group", 0, "identical-change group number from `triage clusters`")
	c.Flags().String("like", "", "every hunk with the same change as this hunk id")
	c.Flags().Int("symbol", 0, "symbol cluster number from `triage clusters`")
	c.Flags().String("symbol-of", "", "every symbol cluster containing this hunk id")
}

// addComparisonFlag registers -c for commands whose positional arguments
// are not a comparison.
func addComparisonFlag(c *cobra.Command) {
	c.Flags().StringP("comparison", "c", "", "comparison key or git range (default: working tree vs HEAD)")
}

func comparisonArgs(cmd *cobra.Command) []string {
	v, _ := cmd.Flags().GetString("comparison")
	return []string{v}
}

func runDecide(cmd *cobra.Command, args []string, status model.Status) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, cmd, comparisonArgs(cmd), reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	ids, err := decisionTargets(ctx, cmd, s, args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no hunks selected: pass hunk ids, --group, --like, --symbol or --symbol-of")
	}

	if _, err := s.coord.Refresh(ctx); err != nil {
		return err
	}
	out, err := s.coord.Apply(ctx, review.SetStatus(ids, status))
	if err != nil {
		return err
	}
	if out.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", out.State.Version)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d hunk(s), review at version %d\n", verb(status), len(ids), out.State.Version)
	return nil
}

// decisionTargets merges explicit ids with the group and cluster selectors.
func decisionTargets(ctx context.Context, cmd *cobra.Command, s *session, args []string) ([]string, error) {
	group, _ := cmd.Flags().GetInt("group")
	like, _ := cmd.Flags().GetString("like")
	symbol, _ := cmd.Flags().GetInt("symbol")
	symbolOf, _ := cmd.Flags().GetString("symbol-of")

	ids := append([]string(nil), args...)
	if group == 0 && like == "" && symbol == 0 && symbolOf == "" {
		return ids, nil
	}

	cl, err := s.client.Clusters(ctx, s.repo, s.comp.Key)
	if err != nil {
		return nil, err
	}
	if group != 0 {
		if group < 1 || group > len(cl.Identical) {
			return nil, fmt.Errorf("--group %d out of range (1-%d)", group, len(cl.Identical))
		}
		ids = append(ids, cl.Identical[group-1].HunkIDs...)
	}
	if like != "" {
		g, ok := cluster.GroupOf(cl.Identical, like)
		if !ok {
			return nil, fmt.Errorf("%s has no identical changes", like)
		}
		ids = append(ids, g.HunkIDs...)
	}
	if symbol != 0 {
		if symbol < 1 || symbol > len(cl.Symbols) {
			return nil, fmt.Errorf("--symbol %d out of range (1-%d)", symbol, len(cl.Symbols))
		}
		ids = append(ids, cl.Symbols[symbol-1].BatchHunkIDs()...)
	}
	if symbolOf != "" {
		found := cluster.ClusterOf(cl.Symbols, symbolOf)
		if len(found) == 0 {
			return nil, fmt.Errorf("%s is in no symbol cluster", symbolOf)
		}
		for _, c := range found {
			ids = append(ids, c.BatchHunkIDs()...)
		}
	}
	return dedupe(ids), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func verb(s model.Status) string {
	switch s {
	case model.StatusApproved:
		return "Approved"
	case model.StatusRejected:
		return "Rejected"
	default:
		return strings.ReplaceAll(string(s), "_", " ")
	}
}
