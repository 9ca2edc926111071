package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/model"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved reviews",
	Long: `List the reviews saved for this repository, or with --all for every
repository the server knows about.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [base..head]",
	Short: "Delete the saved review for a comparison",
	Long: `Delete the review document for a comparison. Decisions, trust list,
notes and annotations are removed; the diff itself is untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDelete,
}

func init() {
	listCmd.Flags().Bool("all", false, "list reviews of every registered repository")
	listCmd.Flags().Bool("json", false, "print JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	var repo string
	if all, _ := cmd.Flags().GetBool("all"); !all {
		var err error
		if repo, err = repoPath(cmd); err != nil {
			return err
		}
	}
	reviews, err := newClient().Reviews(ctx, repo)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reviews)
	}
	printReviews(cmd.OutOrStdout(), reviews, repo == "")
	return nil
}

func printReviews(w io.Writer, reviews []model.ReviewSummary, withRepo bool) {
	if len(reviews) == 0 {
		fmt.Fprintln(w, "No saved reviews.")
		return
	}
	for _, r := range reviews {
		updated := "never"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%-32s %4d/%-4d v%-4d %s", r.Comparison.Key, r.ReviewedHunks, r.TotalHunks, r.Version, updated)
		if withRepo && r.RepoName != "" {
			fmt.Fprintf(w, "  %s", r.RepoName)
		}
		fmt.Fprintln(w)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
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
	if err := newClient().Delete(ctx, repo, comp.Key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted review for %s\n", comp.Key)
	return nil
}
