package cli

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/client"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/reviewsync"
)

// defaultComparison reviews the working tree against HEAD.
var defaultComparison = model.NewComparison("HEAD", "HEAD", true)

func newClient() *client.Client {
	return client.New(cfg.Client.URL,
		client.WithToken(cfg.Client.Token),
		client.WithTimeout(cfg.Client.Timeout),
		client.WithLogger(logger),
	)
}

// repoPath returns the absolute repository path from --repo or the
// enclosing git checkout.
func repoPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("repo"); p != "" {
		return filepath.Abs(p)
	}
	root, err := gitRepoRoot()
	if err != nil {
		return "", fmt.Errorf("not in a git repository (or git not installed): %w", err)
	}
	return root, nil
}

// comparisonKey parses args[0] as a comparison key or git range. "a..b"
// and "a...b" are both accepted; no argument means the working tree.
func comparisonKey(args []string) (model.Comparison, error) {
	if len(args) == 0 || args[0] == "" {
		return defaultComparison, nil
	}
	key := strings.Replace(args[0], "...", "..", 1)
	c, err := model.ParseComparison(key)
	if err != nil {
		return model.Comparison{}, err
	}
	return c, nil
}

// session is a connected coordinator with the target comparison open.
type session struct {
	client *client.Client
	coord  *reviewsync.Coordinator
	repo   string
	comp   model.Comparison
}

// openSession connects to the server and opens the comparison. fallback is
// the policy used unless the config forces one.
func openSession(ctx context.Context, cmd *cobra.Command, args []string, fallback reviewsync.Policy, opts ...reviewsync.Option) (*session, error) {
	repo, err := repoPath(cmd)
	if err != nil {
		return nil, err
	}
	comp, err := comparisonKey(args)
	if err != nil {
		return nil, err
	}

	c := newClient()
	policy := reviewsync.PolicyFor(cfg.Client.Policy, fallback)
	coord := reviewsync.New(c, policy, append([]reviewsync.Option{reviewsync.WithLogger(logger)}, opts...)...)
	if err := coord.Connect(ctx); err != nil {
		return nil, fmt.Errorf("cannot reach triage server at %s (is `triage serve` running?): %w", cfg.Client.URL, err)
	}
	if err := coord.Open(repo, comp.Key); err != nil {
		return nil, err
	}
	logger.Debug("session open", "repo", repo, "comparison", comp.Key, "policy", policy.Name())
	return &session{client: c, coord: coord, repo: repo, comp: comp}, nil
}

func gitRepoRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
