package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/logging"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/store"
	"github.com/sprite-ai/triage/internal/trust"
)

const testDiff = `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,3 +1,4 @@
 package a
 // a
+import "fmt"
 func A() {}
diff --git a/pkg/b.go b/pkg/b.go
index 3333333..4444444 100644
--- a/pkg/b.go
+++ b/pkg/b.go
@@ -1,3 +1,4 @@
 package b
 // b
+import "fmt"
 func B() {}
`

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	loader := func(ctx context.Context, repoPath string, c model.Comparison) (*diff.DiffSet, error) {
		return diff.Parse(testDiff)
	}
	base := []Option{WithLogger(logging.Discard()), WithDiffLoader(loader), WithVersion("test")}
	return New(":0", fs, append(base, opts...)...)
}

// repoQuery returns a ?repo= value naming an absolute repository path.
func repoQuery(t *testing.T) string {
	t.Helper()
	return "?repo=" + url.QueryEscape(t.TempDir())
}

func do(t *testing.T, srv *Server, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	return v
}

func newDoc(key string) model.ReviewState {
	c, _ := model.ParseComparison(key)
	return model.NewReviewState(c, time.Time{})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	resp := decode[map[string]string](t, w)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestInfo(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[model.ServerInfo](t, w)
	if resp.Version != "test" {
		t.Errorf("expected version test, got %q", resp.Version)
	}
	if resp.Repos == nil {
		t.Error("expected empty repo list, got null")
	}
}

func TestReviewLifecycle(t *testing.T) {
	srv := newTestServer(t)
	path := "/comparisons/main..HEAD/review?repo=0123456789abcdef"

	if w := do(t, srv, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first save, got %d", w.Code)
	}

	doc := newDoc("main..HEAD")
	doc.Hunks["a.go:1"] = model.HunkState{Label: []string{"imports:added"}, Status: model.StatusApproved}
	w := do(t, srv, http.MethodPut, path, doc)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	saved := decode[model.ReviewState](t, w)
	if saved.Version != 1 {
		t.Errorf("expected version 1, got %d", saved.Version)
	}
	if w.Header().Get("ETag") != "1" {
		t.Errorf("expected ETag 1, got %q", w.Header().Get("ETag"))
	}

	w = do(t, srv, http.MethodGet, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	loaded := decode[model.ReviewState](t, w)
	if loaded.HunkState("a.go:1").Status != model.StatusApproved {
		t.Errorf("expected approved hunk, got %+v", loaded.Hunks)
	}

	loaded.Notes = "versioned"
	w = do(t, srv, http.MethodPut, path, loaded, "If-Match", "1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for current version, got %d: %s", w.Code, w.Body.String())
	}
	if v := decode[model.ReviewState](t, w).Version; v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}

	loaded.Notes = "stale"
	w = do(t, srv, http.MethodPut, path, loaded, "If-Match", "1")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", w.Code)
	}
	conflict := decode[conflictResponse](t, w)
	if conflict.Expected != 1 || conflict.Found != 2 {
		t.Errorf("expected conflict 1/2, got %d/%d", conflict.Expected, conflict.Found)
	}

	w = do(t, srv, http.MethodGet, path, nil)
	if notes := decode[model.ReviewState](t, w).Notes; notes != "versioned" {
		t.Errorf("stale write changed the document: notes = %q", notes)
	}

	w = do(t, srv, http.MethodDelete, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", w.Code)
	}
	if ok := decode[map[string]bool](t, w)["success"]; !ok {
		t.Error("expected success: true")
	}
	if w := do(t, srv, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", w.Code)
	}
}

func TestPutReviewRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	path := "/comparisons/main..HEAD/review?repo=0123456789abcdef"

	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader("{bad json"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", w.Code)
	}

	doc := newDoc("main..HEAD")
	doc.Hunks["a.go:1"] = model.HunkState{Status: "maybe"}
	if w := do(t, srv, http.MethodPut, path, doc); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown status, got %d", w.Code)
	}

	if w := do(t, srv, http.MethodPut, path, newDoc("main..other")); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for mismatched comparison, got %d", w.Code)
	}

	if w := do(t, srv, http.MethodPut, path, newDoc("main..HEAD"), "If-Match", "soon"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad If-Match, got %d", w.Code)
	}

	if w := do(t, srv, http.MethodGet, "/comparisons/main..HEAD/review", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 without repo, got %d", w.Code)
	}

	if w := do(t, srv, http.MethodGet, "/comparisons/nodots/review?repo=x", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad comparison key, got %d", w.Code)
	}
}

func TestComparisonKeyWithSlash(t *testing.T) {
	srv := newTestServer(t)
	key := "origin/main..HEAD+working-tree"
	path := "/comparisons/" + url.PathEscape(key) + "/review?repo=0123456789abcdef"

	w := do(t, srv, http.MethodPut, path, newDoc(key))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	saved := decode[model.ReviewState](t, w)
	if saved.Comparison.Key != key || !saved.Comparison.WorkingTree {
		t.Errorf("unexpected comparison %+v", saved.Comparison)
	}
}

func TestListReviews(t *testing.T) {
	srv := newTestServer(t)
	repo := "?repo=0123456789abcdef"
	do(t, srv, http.MethodPut, "/comparisons/main..a/review"+repo, newDoc("main..a"))

	doc := newDoc("main..b")
	doc.Hunks["x:1"] = model.HunkState{Status: model.StatusRejected}
	doc.Hunks["x:2"] = model.HunkState{}
	do(t, srv, http.MethodPut, "/comparisons/main..b/review"+repo, doc)

	w := do(t, srv, http.MethodGet, "/reviews"+repo, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decode[[]model.ReviewSummary](t, w)
	if len(list) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(list))
	}
	if list[0].Comparison.Key != "main..b" {
		t.Errorf("expected newest first, got %q", list[0].Comparison.Key)
	}
	if list[0].TotalHunks != 2 || list[0].ReviewedHunks != 1 {
		t.Errorf("expected 1 of 2 reviewed, got %d of %d", list[0].ReviewedHunks, list[0].TotalHunks)
	}
}

func TestHunksAndClusters(t *testing.T) {
	srv := newTestServer(t)
	repo := repoQuery(t)

	w := do(t, srv, http.MethodPost, "/comparisons/main..HEAD/hunks"+repo, hunksRequest{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	hunks := decode[[]model.Hunk](t, w)
	if len(hunks) != 2 {
		t.Fatalf("expected 2 hunks, got %d", len(hunks))
	}

	w = do(t, srv, http.MethodPost, "/comparisons/main..HEAD/hunks"+repo, hunksRequest{FilePaths: []string{"pkg/b.go"}})
	filtered := decode[[]model.Hunk](t, w)
	if len(filtered) != 1 || filtered[0].FilePath != "pkg/b.go" {
		t.Errorf("expected only pkg/b.go, got %+v", filtered)
	}

	w = do(t, srv, http.MethodGet, "/comparisons/main..HEAD/clusters"+repo, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[clustersResponse](t, w)
	if len(resp.Identical) != 1 || resp.Identical[0].Size() != 2 {
		t.Fatalf("expected one identical group of 2, got %+v", resp.Identical)
	}
	if resp.Progress.Pending != 2 {
		t.Errorf("expected 2 pending, got %+v", resp.Progress)
	}

	doc := newDoc("main..HEAD")
	doc.Hunks[hunks[0].ID] = model.HunkState{Status: model.StatusApproved}
	doc.Hunks[hunks[1].ID] = model.HunkState{Label: []string{"imports:added"}}
	doc.TrustList = []string{"imports:*"}
	if w := do(t, srv, http.MethodPut, "/comparisons/main..HEAD/review"+repo, doc); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/comparisons/main..HEAD/clusters"+repo, nil)
	resp = decode[clustersResponse](t, w)
	if resp.Progress.Approved != 1 || resp.Progress.Trusted != 1 || !resp.Progress.Done() {
		t.Errorf("expected approved + trusted, got %+v", resp.Progress)
	}
}

func TestHunksNeedRepoPath(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodPost, "/comparisons/main..HEAD/hunks?repo=0123456789abcdef", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}

func TestHunksUnknownRevision(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad ref", fmt.Errorf("git diff: %w: fatal: bad revision 'nope..HEAD'", diff.ErrUnknownRevision), http.StatusNotFound},
		{"missing checkout", fmt.Errorf("git diff: %w", &os.PathError{Op: "chdir", Path: "/gone", Err: os.ErrNotExist}), http.StatusNotFound},
		{"git failure", errors.New("git diff: signal: killed"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := func(ctx context.Context, repoPath string, c model.Comparison) (*diff.DiffSet, error) {
				return nil, tt.err
			}
			srv := newTestServer(t, WithDiffLoader(loader))
			w := do(t, srv, http.MethodPost, "/comparisons/nope..HEAD/hunks"+repoQuery(t), nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSymbolClusters(t *testing.T) {
	srv := newTestServer(t)
	repo := repoQuery(t)

	w := do(t, srv, http.MethodPost, "/comparisons/main..HEAD/hunks"+repo, nil)
	hunks := decode[[]model.Hunk](t, w)
	if len(hunks) != 2 {
		t.Fatalf("expected 2 hunks, got %d", len(hunks))
	}

	links := []model.SymbolLinkedHunk{
		{HunkID: hunks[0].ID, SymbolName: "fmt", Relationship: model.RelDefines, LinkedHunkID: hunks[1].ID, ReferenceLineNumbers: []int{3}},
	}
	w = do(t, srv, http.MethodPut, "/comparisons/main..HEAD/symbols"+repo, links)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/comparisons/main..HEAD/symbols"+repo, nil)
	got := decode[[]model.SymbolLinkedHunk](t, w)
	if len(got) != 1 || got[0].SymbolName != "fmt" {
		t.Errorf("unexpected links %+v", got)
	}

	// A single reference is below the cluster threshold.
	w = do(t, srv, http.MethodGet, "/comparisons/main..HEAD/clusters"+repo, nil)
	if resp := decode[clustersResponse](t, w); len(resp.Symbols) != 0 {
		t.Errorf("expected no symbol clusters, got %+v", resp.Symbols)
	}

	bad := []model.SymbolLinkedHunk{{HunkID: "a", Relationship: "uses"}}
	if w := do(t, srv, http.MethodPut, "/comparisons/main..HEAD/symbols"+repo, bad); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid link, got %d", w.Code)
	}
}

func TestTree(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/comparisons/main..HEAD/tree"+repoQuery(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	entries := decode[[]treeEntry](t, w)
	if len(entries) != 3 {
		t.Fatalf("expected pkg/, pkg/b.go and a.go, got %+v", entries)
	}
	if !entries[0].IsDir || entries[0].Path != "pkg" {
		t.Errorf("expected directory first, got %+v", entries[0])
	}
	if entries[1].Path != "pkg/b.go" || entries[1].Depth != 1 {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if entries[0].Counts.Pending != 1 {
		t.Errorf("expected 1 pending under pkg, got %+v", entries[0].Counts)
	}
}

func TestTaxonomy(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/taxonomy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cats := decode[[]trust.Category](t, w)
	if len(cats) == 0 {
		t.Error("expected bundled categories")
	}
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t, WithToken("secret"))

	if w := do(t, srv, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("expected health to skip auth, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/info", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/info", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/info", nil, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodPut, "/comparisons/main..HEAD/review?repo=0123456789abcdef", newDoc("main..HEAD"))

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "triage_state_writes_total") {
		t.Error("expected state write counter in metrics output")
	}
}

func TestWebSocketStateChanged(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("ws read connected: %v", err)
	}
	if hello.Type != wsMsgConnected {
		t.Errorf("expected 'connected' message, got %q", hello.Type)
	}

	do(t, srv, http.MethodPut, "/comparisons/main..HEAD/review?repo=0123456789abcdef", newDoc("main..HEAD"))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read state_changed: %v", err)
	}
	if msg.Type != wsMsgStateChanged {
		t.Fatalf("expected 'state_changed' message, got %q", msg.Type)
	}
	var ev model.StateChange
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("unmarshal state_changed: %v", err)
	}
	if ev.Repo != "0123456789abcdef" || ev.Comparison != "main..HEAD" || ev.Version != 1 {
		t.Errorf("unexpected event %+v", ev)
	}

	// A repeat of an already announced version is dropped.
	srv.hub.broadcast(model.StateChange{Repo: ev.Repo, Comparison: ev.Comparison, Version: 1})
	if err := conn.WriteJSON(wsMessage{Type: wsMsgPing}); err != nil {
		t.Fatalf("ws write ping: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read pong: %v", err)
	}
	if msg.Type != wsMsgPong {
		t.Errorf("expected 'pong' after duplicate was dropped, got %q", msg.Type)
	}
}

func TestHubFiltersByRepo(t *testing.T) {
	h := newHub(logging.Discard())
	c := &wsClient{repo: "one", send: make(chan wsMessage, 4)}
	h.add(c)
	defer h.remove(c)

	h.broadcast(model.StateChange{Repo: "two", Comparison: "main..HEAD", Version: 1})
	h.broadcast(model.StateChange{Repo: "one", Comparison: "main..HEAD", Version: 1})
	h.broadcast(model.StateChange{Repo: "one", Comparison: "main..HEAD", Deleted: true})
	h.broadcast(model.StateChange{Repo: "one", Comparison: "main..HEAD", Version: 1})

	if len(c.send) != 3 {
		t.Errorf("expected 3 queued messages, got %d", len(c.send))
	}
}
