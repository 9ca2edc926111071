package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/triage/internal/api"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/logging"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/store"
)

const repo = "0123456789abcdef"

const sampleDiff = `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,2 +1,3 @@
 package a
+import "fmt"
 func A() {}
`

func newServer(t *testing.T, opts ...api.Option) *httptest.Server {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	loader := func(ctx context.Context, repoPath string, c model.Comparison) (*diff.DiffSet, error) {
		return diff.Parse(sampleDiff)
	}
	base := []api.Option{api.WithLogger(logging.Discard()), api.WithDiffLoader(loader)}
	srv := api.New(":0", fs, append(base, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newDoc(t *testing.T, key string) model.ReviewState {
	t.Helper()
	c, err := model.ParseComparison(key)
	require.NoError(t, err)
	return model.NewReviewState(c, time.Time{})
}

func ptr(v int64) *int64 { return &v }

func TestClientSaveLoad(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL, WithLogger(logging.Discard()))
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	_, err := c.Load(ctx, repo, "origin/main..HEAD")
	assert.True(t, errs.Is(err, errs.NotFound), "got %v", err)

	doc := newDoc(t, "origin/main..HEAD")
	doc.Hunks["a.go:1"] = model.HunkState{Label: []string{}, Status: model.StatusSavedForLater}
	saved, err := c.Save(ctx, repo, doc, ptr(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	loaded, err := c.Load(ctx, repo, "origin/main..HEAD")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSavedForLater, loaded.HunkState("a.go:1").Status)

	_, err = c.Save(ctx, repo, doc, ptr(0))
	conflict, ok := errs.AsConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	assert.Equal(t, int64(0), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Found)

	list, err := c.Reviews(ctx, repo)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "origin/main..HEAD", list[0].Comparison.Key)

	require.NoError(t, c.Delete(ctx, repo, "origin/main..HEAD"))
	assert.True(t, errs.Is(c.Delete(ctx, repo, "origin/main..HEAD"), errs.NotFound))
}

func TestClientHunksAndClusters(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL)
	ctx := context.Background()
	repoPath := t.TempDir()

	hunks, err := c.Hunks(ctx, repoPath, "main..HEAD", nil)
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, "a.go", hunks[0].FilePath)

	cl, err := c.Clusters(ctx, repoPath, "main..HEAD")
	require.NoError(t, err)
	assert.Empty(t, cl.Identical)
	assert.Equal(t, 1, cl.Progress.Pending)

	tree, err := c.Tree(ctx, repoPath, "main..HEAD")
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "a.go", tree[0].Path)

	links := []model.SymbolLinkedHunk{{HunkID: hunks[0].ID, SymbolName: "A", Relationship: model.RelDefines, LinkedHunkID: "b.go:x"}}
	require.NoError(t, c.PutSymbols(ctx, repoPath, "main..HEAD", links))
	got, err := c.Symbols(ctx, repoPath, "main..HEAD")
	require.NoError(t, err)
	assert.Equal(t, links[0].SymbolName, got[0].SymbolName)

	cats, err := c.Taxonomy(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, cats)
}

func TestClientErrorKinds(t *testing.T) {
	ts := newServer(t, api.WithToken("secret"))
	ctx := context.Background()

	err := New(ts.URL).Health(ctx)
	assert.NoError(t, err, "health is open")

	_, err = New(ts.URL).Info(ctx)
	assert.True(t, errs.Is(err, errs.Auth), "got %v", err)

	info, err := New(ts.URL, WithToken("secret")).Info(ctx)
	require.NoError(t, err)
	assert.NotNil(t, info.Repos)

	_, err = New(ts.URL, WithToken("secret")).Load(ctx, repo, "not-a-key")
	assert.True(t, errs.Is(err, errs.Validation), "got %v", err)

	closed := httptest.NewServer(nil)
	closed.Close()
	err = New(closed.URL, WithTimeout(time.Second)).Health(ctx)
	assert.True(t, errs.Is(err, errs.Transport), "got %v", err)
	assert.True(t, errs.Retryable(err))
}

func TestSubscribe(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx, repo)
	require.NoError(t, err)

	// The subscription is registered once the server has greeted us, which
	// can race with the first save; retry until an event arrives.
	deadline := time.After(5 * time.Second)
	doc := newDoc(t, "main..HEAD")
	for {
		saved, err := c.Save(ctx, repo, doc, nil)
		require.NoError(t, err)
		select {
		case ev := <-events:
			assert.Equal(t, repo, ev.Repo)
			assert.Equal(t, "main..HEAD", ev.Comparison)
			assert.LessOrEqual(t, ev.Version, saved.Version)
			cancel()
			for range events {
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for state change")
		}
	}
}
