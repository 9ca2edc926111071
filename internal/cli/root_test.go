package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sprite-ai/triage/internal/api"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/logging"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/store"
)

const testDiff = `diff --git a/main.go b/main.go
index abc1234..def5678 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"
 func main() {
 }
diff --git a/util.go b/util.go
index abc1234..def5678 100644
--- a/util.go
+++ b/util.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"
 func add(a, b int) int {
 }
diff --git a/hello.go b/hello.go
new file mode 100644
--- /dev/null
+++ b/hello.go
@@ -0,0 +1,3 @@
+package main
+
+func hello() string { return "hello" }
`

// env is a running companion server and the flags that point commands at it.
type env struct {
	hunks []model.Hunk
	flags []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	loader := func(ctx context.Context, repoPath string, c model.Comparison) (*diff.DiffSet, error) {
		return diff.Parse(testDiff)
	}
	srv := api.New(":0", fs, api.WithLogger(logging.Discard()), api.WithDiffLoader(loader), api.WithVersion("test"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ds, err := diff.Parse(testDiff)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return &env{
		hunks: ds.Hunks(),
		flags: []string{"--url", ts.URL, "--repo", t.TempDir(), "--home", t.TempDir(), "--log-level", "error"},
	}
}

// run executes the root command with args and returns its output.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, e.flags...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores flag defaults left over from earlier runs.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "review", "status", "clusters", "classify", "approve", "reject", "reset", "trust", "untrust", "notes", "list", "delete", "symbols", "export", "version"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	// version vars are set via ldflags; in tests they have their defaults
	if version != "dev" {
		t.Errorf("expected default version %q, got %q", "dev", version)
	}
	e := &env{}
	out, err := e.run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "triage dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestComparisonKey(t *testing.T) {
	c, err := comparisonKey(nil)
	if err != nil || c != defaultComparison {
		t.Errorf("expected default comparison, got %+v (%v)", c, err)
	}
	c, err = comparisonKey([]string{"main...feature"})
	if err != nil {
		t.Fatalf("comparisonKey failed: %v", err)
	}
	if c.Base != "main" || c.Head != "feature" {
		t.Errorf("unexpected comparison %+v", c)
	}
}

func TestApproveLikeAndStatus(t *testing.T) {
	e := newEnv(t)
	mainID := e.hunks[0].ID

	out, err := e.run(t, "approve", "--like", mainID)
	if err != nil {
		t.Fatalf("approve failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Approved 2 hunk(s)") {
		t.Errorf("unexpected approve output %q", out)
	}

	out, err = e.run(t, "status", "--format", "json")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	var rep statusReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, out)
	}
	if rep.Progress.Total != 3 || rep.Progress.Approved != 2 {
		t.Errorf("unexpected progress %+v", rep.Progress)
	}
	if rep.Version != 1 {
		t.Errorf("expected version 1, got %d", rep.Version)
	}
	if rep.Policy != "versioned" {
		t.Errorf("expected versioned policy, got %q", rep.Policy)
	}
	if len(rep.Files) != 3 {
		t.Errorf("expected 3 files, got %d", len(rep.Files))
	}

	_, err = e.run(t, "status", "--fail-pending")
	if !errors.Is(err, errPending) {
		t.Errorf("expected pending error, got %v", err)
	}
}

func TestRejectByID(t *testing.T) {
	e := newEnv(t)
	id := e.hunks[2].ID

	if out, err := e.run(t, "reject", id); err != nil {
		t.Fatalf("reject failed: %v\n%s", err, out)
	}
	out, err := e.run(t, "status", "--format", "markdown")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "| 0 | 1 | 0 | 0 | 2 |") {
		t.Errorf("expected one rejection in markdown table, got:\n%s", out)
	}
}

func TestApproveNeedsSelection(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "approve"); err == nil {
		t.Error("expected error without hunk ids")
	}
	if _, err := e.run(t, "approve", "--group", "5"); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("expected out of range error, got %v", err)
	}
}

func TestTrustAndUntrust(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "trust", "imports:*", "made-up")
	if err != nil {
		t.Fatalf("trust failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"made-up" matches no taxonomy pattern`) {
		t.Errorf("expected warning for unknown pattern, got %q", out)
	}
	if !strings.Contains(out, "Trusting imports:*, made-up") {
		t.Errorf("unexpected trust output %q", out)
	}

	out, err = e.run(t, "untrust", "made-up", "imports:*")
	if err != nil {
		t.Fatalf("untrust failed: %v", err)
	}
	if !strings.Contains(out, "Trust list is empty") {
		t.Errorf("unexpected untrust output %q", out)
	}
}

func TestClustersOutput(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "clusters")
	if err != nil {
		t.Fatalf("clusters failed: %v", err)
	}
	if !strings.Contains(out, "1. 2 hunks in main.go, util.go") {
		t.Errorf("unexpected clusters output:\n%s", out)
	}
}

func TestStatusUnknownFormat(t *testing.T) {
	e := newEnv(t)
	if _, err := e.run(t, "status", "--format", "html"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestServerUnreachable(t *testing.T) {
	e := &env{flags: []string{"--url", "http://127.0.0.1:1", "--repo", t.TempDir(), "--home", t.TempDir(), "--log-level", "error"}}
	_, err := e.run(t, "status")
	if err == nil || !strings.Contains(err.Error(), "cannot reach triage server") {
		t.Errorf("expected connection error, got %v", err)
	}
}

// symbolLinks writes links making hello.go define a symbol referenced by
// the one-line changes in main.go and util.go.
func (e *env) symbolLinks(t *testing.T) string {
	t.Helper()
	links := []model.SymbolLinkedHunk{
		{HunkID: e.hunks[2].ID, SymbolName: "fmt", Relationship: model.RelDefines, LinkedHunkID: e.hunks[0].ID, ReferenceLineNumbers: []int{2}},
		{HunkID: e.hunks[1].ID, SymbolName: "fmt", Relationship: model.RelReferences, LinkedHunkID: e.hunks[2].ID, ReferenceLineNumbers: []int{2}},
	}
	data, err := json.Marshal(links)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "links.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func progressOf(t *testing.T, e *env) statusReport {
	t.Helper()
	out, err := e.run(t, "status", "--format", "json")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	var rep statusReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, out)
	}
	return rep
}

func TestSymbolsImportAndSymbolOf(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "symbols")
	if err != nil {
		t.Fatalf("symbols failed: %v", err)
	}
	if !strings.Contains(out, "No symbol links.") {
		t.Errorf("unexpected symbols output %q", out)
	}

	out, err = e.run(t, "symbols", "import", e.symbolLinks(t))
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 2 symbol link(s)") {
		t.Errorf("unexpected import output %q", out)
	}

	out, err = e.run(t, "symbols")
	if err != nil {
		t.Fatalf("symbols failed: %v", err)
	}
	if !strings.Contains(out, e.hunks[2].ID+" defines "+e.hunks[0].ID) {
		t.Errorf("expected stored links, got:\n%s", out)
	}

	out, err = e.run(t, "clusters")
	if err != nil {
		t.Fatalf("clusters failed: %v", err)
	}
	if !strings.Contains(out, "fmt (defined in hello.go, 2 reference(s), 3 unreviewed)") {
		t.Errorf("expected symbol cluster, got:\n%s", out)
	}

	out, err = e.run(t, "approve", "--symbol-of", e.hunks[1].ID)
	if err != nil {
		t.Fatalf("approve failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Approved 3 hunk(s)") {
		t.Errorf("unexpected approve output %q", out)
	}

	out, err = e.run(t, "reset", "--symbol-of", e.hunks[0].ID)
	if err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Reset 3 hunk(s), review at version 2") {
		t.Errorf("unexpected reset output %q", out)
	}
	if rep := progressOf(t, e); rep.Progress.Approved != 0 || rep.Progress.Pending != 3 {
		t.Errorf("expected everything pending after reset, got %+v", rep.Progress)
	}
}

func TestSymbolsImportRejectsBadFile(t *testing.T) {
	e := newEnv(t)
	path := filepath.Join(t.TempDir(), "links.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.run(t, "symbols", "import", path); err == nil || !strings.Contains(err.Error(), "decoding") {
		t.Errorf("expected decode error, got %v", err)
	}
	if _, err := e.run(t, "symbols", "import", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResetAll(t *testing.T) {
	e := newEnv(t)
	if out, err := e.run(t, "approve", "--like", e.hunks[0].ID); err != nil {
		t.Fatalf("approve failed: %v\n%s", err, out)
	}
	if out, err := e.run(t, "reject", e.hunks[2].ID); err != nil {
		t.Fatalf("reject failed: %v\n%s", err, out)
	}

	if _, err := e.run(t, "reset"); err == nil {
		t.Error("expected error without a selection")
	}
	if _, err := e.run(t, "reset", "--all", e.hunks[0].ID); err == nil {
		t.Error("expected error combining --all with ids")
	}

	out, err := e.run(t, "reset", "--all")
	if err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Reset all hunks, review at version 3") {
		t.Errorf("unexpected reset output %q", out)
	}
	rep := progressOf(t, e)
	if rep.Progress.Approved != 0 || rep.Progress.Rejected != 0 || rep.Progress.Pending != 3 {
		t.Errorf("expected everything pending, got %+v", rep.Progress)
	}
}

func TestNotesAndAnnotations(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "notes")
	if err != nil {
		t.Fatalf("notes failed: %v", err)
	}
	if !strings.Contains(out, "No notes or annotations.") {
		t.Errorf("unexpected empty notes output %q", out)
	}

	out, err = e.run(t, "notes", "ship", "it")
	if err != nil {
		t.Fatalf("notes failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Notes saved, review at version 1") {
		t.Errorf("unexpected notes output %q", out)
	}

	out, err = e.run(t, "notes", "--annotate", "main.go:2", "use", "log")
	if err != nil {
		t.Fatalf("annotate failed: %v\n%s", err, out)
	}
	fields := strings.Fields(out)
	if len(fields) < 5 || fields[0] != "Added" || fields[4] != "main.go:2" {
		t.Fatalf("unexpected annotate output %q", out)
	}
	id := fields[2]

	out, err = e.run(t, "notes")
	if err != nil {
		t.Fatalf("notes failed: %v", err)
	}
	for _, want := range []string{"ship it", "main.go:2 (new)  " + id, "use log"} {
		if !strings.Contains(out, want) {
			t.Errorf("notes output missing %q:\n%s", want, out)
		}
	}

	out, err = e.run(t, "notes", "--remove", id)
	if err != nil {
		t.Fatalf("remove failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Removed 1 annotation(s), 0 remain") {
		t.Errorf("unexpected remove output %q", out)
	}

	for _, args := range [][]string{
		{"notes", "--annotate", "main.go:2"},
		{"notes", "--annotate", "main.go", "text"},
		{"notes", "--annotate", "main.go:0", "text"},
		{"notes", "--annotate", "main.go:2", "--side", "left", "text"},
	} {
		if _, err := e.run(t, args...); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestListAndDelete(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "No saved reviews.") {
		t.Errorf("unexpected list output %q", out)
	}

	if out, err := e.run(t, "approve", e.hunks[0].ID); err != nil {
		t.Fatalf("approve failed: %v\n%s", err, out)
	}
	out, err = e.run(t, "list", "--json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var reviews []model.ReviewSummary
	if err := json.Unmarshal([]byte(out), &reviews); err != nil {
		t.Fatalf("decoding list: %v\n%s", err, out)
	}
	if len(reviews) != 1 || reviews[0].Comparison.Key != defaultComparison.Key || reviews[0].Version != 1 {
		t.Fatalf("unexpected reviews %+v", reviews)
	}

	out, err = e.run(t, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, defaultComparison.Key) {
		t.Errorf("expected %s in list output:\n%s", defaultComparison.Key, out)
	}

	out, err = e.run(t, "delete")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !strings.Contains(out, "Deleted review for "+defaultComparison.Key) {
		t.Errorf("unexpected delete output %q", out)
	}
	if out, _ := e.run(t, "list"); !strings.Contains(out, "No saved reviews.") {
		t.Errorf("expected empty list after delete, got %q", out)
	}
	if _, err := e.run(t, "delete"); !errs.Is(err, errs.NotFound) {
		t.Errorf("expected not found deleting twice, got %v", err)
	}
}
