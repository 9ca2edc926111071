package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/client"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters [base..head]",
	Short: "List identical-change groups and symbol clusters",
	Long: `List the hunks that can be decided together. Group and cluster
numbers printed here are accepted by "approve --group" and
"approve --symbol".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClusters,
}

func init() {
	clustersCmd.Flags().Bool("json", false, "print JSON")
}

func runClusters(cmd *cobra.Command, args []string) error {
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
	cl, err := newClient().Clusters(ctx, repo, comp.Key)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cl)
	}
	printClusters(cmd.OutOrStdout(), cl)
	return nil
}

func printClusters(w io.Writer, cl client.Clusters) {
	if len(cl.Identical) == 0 && len(cl.Symbols) == 0 {
		fmt.Fprintln(w, "No groups or clusters.")
		return
	}
	if len(cl.Identical) > 0 {
		fmt.Fprintln(w, "Identical changes:")
		for i, g := range cl.Identical {
			fmt.Fprintf(w, "  %d. %d hunks in %s\n", i+1, g.Size(), strings.Join(g.Files, ", "))
			for _, id := range g.HunkIDs {
				fmt.Fprintf(w, "       %s\n", id)
			}
		}
	}
	if len(cl.Symbols) > 0 {
		if len(cl.Identical) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Symbol clusters:")
		for i, c := range cl.Symbols {
			fmt.Fprintf(w, "  %d. %s (defined in %s, %d reference(s), %d unreviewed)\n",
				i+1, c.Symbol, c.DefinitionFile, len(c.References), c.Unreviewed)
			for _, id := range c.DefinitionHunks {
				fmt.Fprintf(w, "       def %s\n", id)
			}
			for _, r := range c.References {
				kind := "ref"
				if !r.Pure {
					kind = "ref*"
				}
				fmt.Fprintf(w, "       %-4s %s\n", kind, r.HunkID)
			}
		}
		fmt.Fprintln(w, "\n  ref* references change more than the symbol and are left out of batch actions.")
	}
}
