package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/trust"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Info ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := model.ServerInfo{Version: s.version, Hostname: host, Repos: []model.RepoEntry{}}
	if s.registry != nil {
		repos, err := s.registry.List(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		resp.Repos = repos
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Reviews ---

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	var repos []model.RepoEntry
	if r.URL.Query().Get("repo") != "" {
		repo, err := s.resolveRepo(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		repos = append(repos, repo)
	} else if s.registry != nil {
		var err error
		if repos, err = s.registry.List(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
	}

	summaries := []model.ReviewSummary{}
	for _, repo := range repos {
		docs, err := s.store.List(r.Context(), repo.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		for _, doc := range docs {
			sum := doc.Summary(trust.Tally(doc, trust.MatchPattern).Reviewed())
			sum.RepoPath = repo.Path
			sum.RepoName = repo.Name
			summaries = append(summaries, sum)
		}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, summaries)
}

// --- Review document ---

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	doc, err := s.store.Load(r.Context(), repo.ID, c.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", strconv.FormatInt(doc.Version, 10))
	writeJSON(w, http.StatusOK, doc)
}

// handlePutReview stores a whole document. With If-Match the write is
// accepted only if the stored version equals the header value; without it
// the document overwrites whatever is stored.
func (s *Server) handlePutReview(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}

	var expected *int64
	mode := "overwrite"
	if h := r.Header.Get("If-Match"); h != "" {
		v, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(h, "W/"), `"`), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid If-Match header: "+h)
			return
		}
		expected = &v
		mode = "versioned"
	}

	var doc model.ReviewState
	if err := readJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if doc.Comparison.Key == "" {
		doc.Comparison = c
	}
	if doc.Comparison.Key != c.Key {
		writeError(w, http.StatusUnprocessableEntity, "document comparison "+doc.Comparison.Key+" does not match "+c.Key)
		return
	}
	if err := s.validate.Struct(doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid document: "+err.Error())
		return
	}
	if doc.Hunks == nil {
		doc.Hunks = map[string]model.HunkState{}
	}

	saved, err := s.store.Save(r.Context(), repo.ID, doc, expected)
	switch {
	case err == nil:
		stateWritesTotal.WithLabelValues(mode, "ok").Inc()
	case errs.Is(err, errs.Conflict):
		stateWritesTotal.WithLabelValues(mode, "conflict").Inc()
	default:
		stateWritesTotal.WithLabelValues(mode, "error").Inc()
	}
	if err != nil {
		s.logger.Debug("review write rejected", "repo", repo.ID, "comparison", c.Key, "mode", mode, "error", err)
		writeErr(w, err)
		return
	}

	s.hub.broadcast(model.StateChange{Repo: repo.ID, Comparison: c.Key, Version: saved.Version})
	w.Header().Set("ETag", strconv.FormatInt(saved.Version, 10))
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), repo.ID, c.Key); err != nil {
		writeErr(w, err)
		return
	}
	s.hub.broadcast(model.StateChange{Repo: repo.ID, Comparison: c.Key, Deleted: true})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Hunks ---

type hunksRequest struct {
	FilePaths []string `json:"filePaths"`
}

func (s *Server) handleHunks(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	var req hunksRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	hunks, err := s.hunks(r.Context(), repo, c)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(req.FilePaths) > 0 {
		hunks = diff.Filter(hunks, req.FilePaths)
	}
	if hunks == nil {
		hunks = []model.Hunk{}
	}
	writeJSON(w, http.StatusOK, hunks)
}

// hunks loads the diff for the comparison. The repository must be known
// by path.
func (s *Server) hunks(ctx context.Context, repo model.RepoEntry, c model.Comparison) ([]model.Hunk, error) {
	if repo.Path == "" {
		return nil, errs.Validationf("api.hunks", "repository %s has no known path", repo.ID)
	}
	ds, err := s.loadDiff(ctx, repo.Path, c)
	switch {
	case errors.Is(err, diff.ErrUnknownRevision), errors.Is(err, os.ErrNotExist):
		return nil, errs.Wrap(errs.NotFound, "api.hunks", err)
	case err != nil:
		return nil, errs.Wrap(errs.Transport, "api.hunks", err)
	}
	return ds.Hunks(), nil
}

// --- Symbols ---

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	links, err := s.store.LoadLinks(r.Context(), repo.ID, c.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if links == nil {
		links = []model.SymbolLinkedHunk{}
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) handlePutSymbols(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	var links []model.SymbolLinkedHunk
	if err := readJSON(r, &links); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	for _, l := range links {
		if err := s.validate.Struct(l); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid symbol link: "+err.Error())
			return
		}
	}
	if err := s.store.SaveLinks(r.Context(), repo.ID, c.Key, links); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(links)})
}

// --- Clusters ---

type clustersResponse struct {
	Identical []cluster.IdenticalGroup `json:"identical"`
	Symbols   []cluster.SymbolCluster  `json:"symbols"`
	Progress  trust.Progress           `json:"progress"`
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	hunks, eval, links, err := s.reviewInputs(r.Context(), repo, c)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := clustersResponse{
		Identical: cluster.GroupIdentical(hunks),
		Symbols:   cluster.ClusterSymbols(links, model.IndexHunks(hunks), eval.Reviewed),
		Progress:  eval.HunkProgress(hunks),
	}
	if resp.Identical == nil {
		resp.Identical = []cluster.IdenticalGroup{}
	}
	if resp.Symbols == nil {
		resp.Symbols = []cluster.SymbolCluster{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// reviewInputs gathers what clustering and status resolution need. A
// comparison without a saved document resolves every hunk as pending.
func (s *Server) reviewInputs(ctx context.Context, repo model.RepoEntry, c model.Comparison) ([]model.Hunk, *trust.Evaluator, []model.SymbolLinkedHunk, error) {
	hunks, err := s.hunks(ctx, repo, c)
	if err != nil {
		return nil, nil, nil, err
	}
	doc, err := s.store.Load(ctx, repo.ID, c.Key)
	if errs.Is(err, errs.NotFound) {
		doc, err = model.NewReviewState(c, time.Time{}), nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	links, err := s.store.LoadLinks(ctx, repo.ID, c.Key)
	if err != nil {
		return nil, nil, nil, err
	}
	return hunks, trust.NewEvaluator(doc, trust.MatchPattern), links, nil
}

// --- Tree ---

type treeEntry struct {
	Path    string        `json:"path"`
	Name    string        `json:"name"`
	IsDir   bool          `json:"isDir"`
	Depth   int           `json:"depth"`
	HunkIDs []string      `json:"hunkIds,omitempty"`
	Counts  review.Counts `json:"counts"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	repo, c, ok := s.target(w, r)
	if !ok {
		return
	}
	hunks, eval, _, err := s.reviewInputs(r.Context(), repo, c)
	if err != nil {
		writeErr(w, err)
		return
	}
	root := review.BuildTree(hunks, eval.Status)
	nodes := review.Collect(root, func(n *review.Node) bool { return n != root })

	entries := make([]treeEntry, 0, len(nodes))
	for _, n := range nodes {
		entries = append(entries, treeEntry{
			Path:    n.Path,
			Name:    n.Name,
			IsDir:   n.IsDir,
			Depth:   strings.Count(n.Path, "/"),
			HunkIDs: n.HunkIDs,
			Counts:  n.Counts,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Taxonomy ---

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	var customPath string
	if r.URL.Query().Get("repo") != "" {
		repo, err := s.resolveRepo(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		if repo.Path != "" {
			customPath = filepath.Join(repo.Path, ".triage", trust.CustomPatternsFile)
		}
	}
	cats, err := trust.Load(customPath)
	if err != nil && cats == nil {
		writeErr(w, err)
		return
	}
	if err != nil {
		s.logger.Warn("ignoring custom trust patterns", "path", customPath, "error", err)
	}
	writeJSON(w, http.StatusOK, cats)
}

// target resolves the repository and comparison of a comparison route,
// writing the error response itself when either is invalid.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (model.RepoEntry, model.Comparison, bool) {
	c, err := comparison(r)
	if err != nil {
		writeErr(w, err)
		return model.RepoEntry{}, model.Comparison{}, false
	}
	repo, err := s.resolveRepo(r)
	if err != nil {
		writeErr(w, err)
		return model.RepoEntry{}, model.Comparison{}, false
	}
	return repo, c, true
}
