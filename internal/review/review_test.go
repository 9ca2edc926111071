package review

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/trust"
)

func newDoc() model.ReviewState {
	return model.NewReviewState(model.NewComparison("main", "HEAD", false), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestApplyStatusPreservesClassification(t *testing.T) {
	doc := newDoc()
	doc.Hunks["a"] = model.HunkState{Label: []string{"imports:added"}, Reasoning: "import only", ClassifiedVia: model.ClassifiedStatic}
	doc.Version = 7

	out, err := ApplyStatus(doc, []string{"a", "b"}, model.StatusApproved)
	require.NoError(t, err)

	a := out.Hunks["a"]
	assert.Equal(t, model.StatusApproved, a.Status)
	assert.Equal(t, []string{"imports:added"}, a.Label)
	assert.Equal(t, "import only", a.Reasoning)
	assert.Equal(t, model.ClassifiedStatic, a.ClassifiedVia)

	b := out.Hunks["b"]
	assert.Equal(t, model.StatusApproved, b.Status)
	assert.NotNil(t, b.Label)
	assert.Empty(t, b.Label)

	assert.Equal(t, int64(7), out.Version)
	assert.Equal(t, doc.UpdatedAt, out.UpdatedAt)
	assert.Equal(t, model.StatusNone, doc.Hunks["a"].Status, "input document must not change")
	_, created := doc.Hunks["b"]
	assert.False(t, created)
}

func TestApplyStatusIdempotent(t *testing.T) {
	doc := newDoc()
	doc.Hunks["a"] = model.HunkState{Label: []string{"x"}}

	once, err := ApplyStatus(doc, []string{"a", "b"}, model.StatusRejected)
	require.NoError(t, err)
	twice, err := ApplyStatus(once, []string{"a", "b"}, model.StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestApplyStatusAllOrNothing(t *testing.T) {
	doc := newDoc()

	out, err := ApplyStatus(doc, []string{"a", "", "c"}, model.StatusApproved)
	require.ErrorIs(t, err, ErrEmptyHunkID)
	assert.Empty(t, out.Hunks)

	_, err = ApplyStatus(doc, []string{"a"}, model.Status("maybe"))
	require.Error(t, err)
	assert.Empty(t, doc.Hunks)
}

func TestToggle(t *testing.T) {
	doc := newDoc()
	on, err := Toggle(doc, "a", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, on.Hunks["a"].Status)

	off, err := Toggle(on, "a", model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNone, off.Hunks["a"].Status)

	switched, err := ToggleStatus("a", model.StatusRejected)(on)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, switched.Hunks["a"].Status)
}

func TestSymbolBatchLeavesImpureReference(t *testing.T) {
	line := func(n int) *int { return &n }
	hunks := []model.Hunk{
		{ID: "def.ts:1", FilePath: "def.ts", Lines: []model.Line{
			{Type: model.LineAdded, Content: "export function foo(a) {}", NewLineNumber: line(1)},
		}},
		{ID: "ref1.ts:1", FilePath: "ref1.ts", Lines: []model.Line{
			{Type: model.LineAdded, Content: "foo(1)", NewLineNumber: line(10)},
		}},
		{ID: "ref2.ts:1", FilePath: "ref2.ts", Lines: []model.Line{
			{Type: model.LineAdded, Content: "foo(2)", NewLineNumber: line(5)},
			{Type: model.LineAdded, Content: "const other = 1", NewLineNumber: line(6)},
		}},
	}
	links := []model.SymbolLinkedHunk{
		{HunkID: "ref1.ts:1", SymbolName: "foo", Relationship: model.RelReferences, LinkedHunkID: "def.ts:1", ReferenceLineNumbers: []int{10}},
		{HunkID: "ref2.ts:1", SymbolName: "foo", Relationship: model.RelReferences, LinkedHunkID: "def.ts:1", ReferenceLineNumbers: []int{5}},
	}

	clusters := cluster.ClusterSymbols(links, model.IndexHunks(hunks), nil)
	require.Len(t, clusters, 1)

	doc, err := ApplyStatus(newDoc(), clusters[0].BatchHunkIDs(), model.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, doc.Hunks["def.ts:1"].Status)
	assert.Equal(t, model.StatusApproved, doc.Hunks["ref1.ts:1"].Status)
	_, touched := doc.Hunks["ref2.ts:1"]
	assert.False(t, touched)
}

func TestIdenticalGroupBatch(t *testing.T) {
	line := 1
	mk := func(id, file string) model.Hunk {
		return model.Hunk{ID: id, FilePath: file, Lines: []model.Line{
			{Type: model.LineAdded, Content: `import { x } from "y"`, NewLineNumber: &line},
		}}
	}
	groups := cluster.GroupIdentical([]model.Hunk{mk("a.ts:1", "a.ts"), mk("b.ts:1", "b.ts")})
	require.Len(t, groups, 1)

	doc, err := SetStatus(groups[0].HunkIDs, model.StatusApproved)(newDoc())
	require.NoError(t, err)
	p := trust.Tally(doc, nil)
	assert.Equal(t, 2, p.Approved)
}

func TestDocumentMutators(t *testing.T) {
	doc := newDoc()
	doc.Hunks["a"] = model.HunkState{Status: model.StatusApproved}

	out, err := Chain(
		SetClassification(Classification{HunkID: "a", Labels: []string{"imports:added"}, Reasoning: "r", Via: model.ClassifiedAI}),
		AddTrust("imports:*", "imports:*", "comments:*"),
		RemoveTrust("comments:*"),
		SetNotes("looks fine"),
		AddAnnotation(model.Annotation{FilePath: "a.go", LineNumber: 3, Content: "why?"}),
	)(doc)
	require.NoError(t, err)

	assert.Equal(t, model.StatusApproved, out.Hunks["a"].Status, "reclassification keeps status")
	assert.Equal(t, []string{"imports:added"}, out.Hunks["a"].Label)
	assert.Equal(t, model.ClassifiedAI, out.Hunks["a"].ClassifiedVia)
	assert.Equal(t, []string{"imports:*"}, out.TrustList)
	assert.Equal(t, "looks fine", out.Notes)
	require.Len(t, out.Annotations, 1)
	assert.NotEmpty(t, out.Annotations[0].ID)
	assert.False(t, out.Annotations[0].CreatedAt.IsZero())

	out, err = RemoveAnnotation(out.Annotations[0].ID)(out)
	require.NoError(t, err)
	assert.Empty(t, out.Annotations)

	out, err = ResetHunks()(out)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNone, out.Hunks["a"].Status)
	assert.Equal(t, []string{"imports:added"}, out.Hunks["a"].Label)

	assert.Empty(t, doc.TrustList)
	assert.Empty(t, doc.Notes)
}

func TestChainAbortsOnError(t *testing.T) {
	doc := newDoc()
	out, err := Chain(SetNotes("changed"), AddTrust(" "))(doc)
	require.Error(t, err)
	assert.Equal(t, "", out.Notes)

	_, err = AddAnnotation(model.Annotation{Content: "no file"})(doc)
	assert.Error(t, err)
}

func TestBuildTree(t *testing.T) {
	hunks := []model.Hunk{
		{ID: "h1", FilePath: "src/b.go"},
		{ID: "h2", FilePath: "src/b.go"},
		{ID: "h3", FilePath: "src/api/a.go"},
		{ID: "h4", FilePath: "README.md"},
	}
	statuses := map[string]model.EffectiveStatus{
		"h1": model.EffectiveApproved,
		"h2": model.EffectiveRejected,
		"h3": model.EffectiveTrusted,
	}
	root := BuildTree(hunks, func(id string) model.EffectiveStatus { return statuses[id] })

	assert.Equal(t, Counts{Total: 4, Reviewed: 3, Rejected: 1, Pending: 1}, root.Counts)
	require.Len(t, root.Children, 2)
	src := root.Children[0]
	assert.Equal(t, "src", src.Name)
	assert.True(t, src.IsDir)
	assert.Equal(t, Counts{Total: 3, Reviewed: 3, Rejected: 1}, src.Counts)

	var paths []string
	for _, f := range Files(root) {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"src/api/a.go", "src/b.go", "README.md"}, paths)
	assert.Equal(t, []string{"h1", "h2"}, Files(root)[1].HunkIDs)
}

func TestCollectDeepTree(t *testing.T) {
	path := strings.Repeat("d/", 5000) + "f.go"
	root := BuildTree([]model.Hunk{{ID: "x", FilePath: path}}, func(string) model.EffectiveStatus {
		return model.EffectivePending
	})
	files := Files(root)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)
	assert.Equal(t, 1, root.Counts.Pending)
}

const exportDiff = `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,2 +1,3 @@
 package a
+import "fmt"
 var x = 1
@@ -10,2 +11,2 @@
 func f() {
-	old()
+	new()
diff --git a/b.go b/b.go
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/b.go
@@ -0,0 +1,1 @@
+package b
`

func TestReportApprovedPatch(t *testing.T) {
	ds, err := diff.Parse(exportDiff)
	require.NoError(t, err)
	hunks := ds.Hunks()
	require.Len(t, hunks, 3)

	doc := newDoc()
	doc.TrustList = []string{"imports:*"}
	doc.Hunks[hunks[0].ID] = model.HunkState{Label: []string{"imports:added"}}
	doc.Hunks[hunks[1].ID] = model.HunkState{Status: model.StatusRejected}
	ev := trust.NewEvaluator(doc, nil)

	r := NewReport(ds.Files, ev.Status)
	assert.Len(t, r.Approved, 1)
	assert.Len(t, r.Rejected, 1)
	assert.Len(t, r.Pending, 1)

	patch := r.ApprovedPatch()
	assert.Contains(t, patch, "+import \"fmt\"")
	assert.NotContains(t, patch, "new()")
	assert.NotContains(t, patch, "b.go")

	reparsed, err := diff.Parse(patch)
	require.NoError(t, err)
	require.Len(t, reparsed.Hunks(), 1)
	assert.Equal(t, hunks[0].ContentHash, reparsed.Hunks()[0].ContentHash)

	msg := r.CommitMessage()
	assert.True(t, strings.HasPrefix(msg, "Update a.go"), msg)
	assert.Contains(t, msg, "Rejected:")
}
