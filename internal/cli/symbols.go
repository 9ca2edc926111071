package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/model"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Show or import symbol links",
	Long: `Symbol links tie a hunk that changes a symbol's definition to the
hunks that reference it. They are produced by an external indexer and
drive the symbol clusters shown by "triage clusters".

Without a subcommand, print the links stored for the comparison.`,
	Args: cobra.NoArgs,
	RunE: runSymbols,
}

var symbolsImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the comparison's symbol links with a JSON file",
	Long: `Replace the stored symbol links with the JSON array in the file
("-" reads standard input). Each entry names hunkId, symbolName,
relationship ("defines" or "references"), linkedHunkId and optionally
referenceLineNumbers.`,
	Args: cobra.ExactArgs(1),
	RunE: runSymbolsImport,
}

func init() {
	addComparisonFlag(symbolsCmd)
	addComparisonFlag(symbolsImportCmd)
	symbolsCmd.AddCommand(symbolsImportCmd)
}

func runSymbols(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	repo, err := repoPath(cmd)
	if err != nil {
		return err
	}
	comp, err := comparisonKey(comparisonArgs(cmd))
	if err != nil {
		return err
	}
	links, err := newClient().Symbols(ctx, repo, comp.Key)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(links) == 0 {
		fmt.Fprintln(out, "No symbol links.")
		return nil
	}
	for _, l := range links {
		fmt.Fprintf(out, "%-20s %s %s %s\n", l.SymbolName, l.HunkID, l.Relationship, l.LinkedHunkID)
	}
	return nil
}

func runSymbolsImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	repo, err := repoPath(cmd)
	if err != nil {
		return err
	}
	comp, err := comparisonKey(comparisonArgs(cmd))
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var links []model.SymbolLinkedHunk
	if err := json.NewDecoder(r).Decode(&links); err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	if err := newClient().PutSymbols(ctx, repo, comp.Key, links); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d symbol link(s) for %s\n", len(links), comp.Key)
	return nil
}
