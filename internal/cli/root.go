// Package cli wires the triage commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/config"
	"github.com/sprite-ai/triage/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Review a diff hunk by hunk",
	Long: `triage keeps one review document per repository and comparison on a
local companion server. Hunks with identical changes and hunks tied to one
changed symbol are grouped so they can be decided together.

Start the server with "triage serve", then review from any checkout.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Effective settings, populated before any command runs.
var (
	cfg    config.Config
	logger = logging.Discard()
)

// flagOverrides maps persistent flags to config keys.
var flagOverrides = map[string]string{
	"home":      "home",
	"log-level": "log.level",
	"url":       "client.url",
	"token":     "token",
	"policy":    "client.policy",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default $TRIAGE_HOME/config.yaml)")
	pf.String("home", "", "data directory (default ~/.triage)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("url", "", "companion server URL")
	pf.String("token", "", "bearer token for the companion server")
	pf.String("policy", "", "write policy: overwrite or versioned")
	pf.String("repo", "", "repository path (default: the enclosing git repository)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clustersCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(untrustCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd {
		return nil
	}
	configPath, _ := cmd.Flags().GetString("config")
	overrides := map[string]string{}
	for flag, key := range flagOverrides {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			overrides[key] = v
		}
	}

	c, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}
	cfg = c
	logger = logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format, Output: cmd.ErrOrStderr()})
	logger.Debug("config loaded", "home", c.Home, "url", c.Client.URL, "storage", c.Storage.Backend)
	return nil
}
