// Package client talks to a triage companion server over HTTP and
// websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/trust"
)

// Client is an HTTP client for the companion server. Repository arguments
// are a registered repository id or an absolute repository path.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clusters is the server's clustering view of a comparison.
type Clusters struct {
	Identical []cluster.IdenticalGroup `json:"identical"`
	Symbols   []cluster.SymbolCluster  `json:"symbols"`
	Progress  trust.Progress           `json:"progress"`
}

// TreeEntry is one row of the changed-file tree.
type TreeEntry struct {
	Path    string        `json:"path"`
	Name    string        `json:"name"`
	IsDir   bool          `json:"isDir"`
	Depth   int           `json:"depth"`
	HunkIDs []string      `json:"hunkIds,omitempty"`
	Counts  review.Counts `json:"counts"`
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Info returns server metadata.
func (c *Client) Info(ctx context.Context) (model.ServerInfo, error) {
	var info model.ServerInfo
	err := c.do(ctx, http.MethodGet, "/info", nil, nil, &info)
	return info, err
}

// Reviews lists saved reviews, for one repository or, with an empty repo,
// for every registered repository.
func (c *Client) Reviews(ctx context.Context, repo string) ([]model.ReviewSummary, error) {
	q := url.Values{}
	if repo != "" {
		q.Set("repo", repo)
	}
	var out []model.ReviewSummary
	err := c.do(ctx, http.MethodGet, "/reviews?"+q.Encode(), nil, nil, &out)
	return out, err
}

// Load fetches the review document for a comparison.
func (c *Client) Load(ctx context.Context, repo, key string) (model.ReviewState, error) {
	var doc model.ReviewState
	err := c.do(ctx, http.MethodGet, comparisonPath(repo, key, "review"), nil, nil, &doc)
	if err != nil {
		return model.ReviewState{}, err
	}
	if doc.Hunks == nil {
		doc.Hunks = map[string]model.HunkState{}
	}
	return doc, nil
}

// Save writes the whole document. A non-nil expected makes the write
// conditional on the server still holding that version.
func (c *Client) Save(ctx context.Context, repo string, doc model.ReviewState, expected *int64) (model.ReviewState, error) {
	header := http.Header{}
	if expected != nil {
		header.Set("If-Match", strconv.FormatInt(*expected, 10))
	}
	var saved model.ReviewState
	err := c.do(ctx, http.MethodPut, comparisonPath(repo, doc.Comparison.Key, "review"), header, doc, &saved)
	return saved, err
}

// Delete removes the review document for a comparison.
func (c *Client) Delete(ctx context.Context, repo, key string) error {
	return c.do(ctx, http.MethodDelete, comparisonPath(repo, key, "review"), nil, nil, nil)
}

// Hunks returns the comparison's hunks, optionally limited to filePaths.
func (c *Client) Hunks(ctx context.Context, repo, key string, filePaths []string) ([]model.Hunk, error) {
	body := map[string][]string{"filePaths": filePaths}
	var out []model.Hunk
	err := c.do(ctx, http.MethodPost, comparisonPath(repo, key, "hunks"), nil, body, &out)
	return out, err
}

// Symbols returns the symbol links stored for a comparison.
func (c *Client) Symbols(ctx context.Context, repo, key string) ([]model.SymbolLinkedHunk, error) {
	var out []model.SymbolLinkedHunk
	err := c.do(ctx, http.MethodGet, comparisonPath(repo, key, "symbols"), nil, nil, &out)
	return out, err
}

// PutSymbols replaces the symbol links of a comparison.
func (c *Client) PutSymbols(ctx context.Context, repo, key string, links []model.SymbolLinkedHunk) error {
	return c.do(ctx, http.MethodPut, comparisonPath(repo, key, "symbols"), nil, links, nil)
}

// Clusters returns identical-change groups, symbol clusters and progress.
func (c *Client) Clusters(ctx context.Context, repo, key string) (Clusters, error) {
	var out Clusters
	err := c.do(ctx, http.MethodGet, comparisonPath(repo, key, "clusters"), nil, nil, &out)
	return out, err
}

// Tree returns the changed-file tree with status counts.
func (c *Client) Tree(ctx context.Context, repo, key string) ([]TreeEntry, error) {
	var out []TreeEntry
	err := c.do(ctx, http.MethodGet, comparisonPath(repo, key, "tree"), nil, nil, &out)
	return out, err
}

// Taxonomy returns the trust taxonomy, including the repository's custom
// patterns when repo is set.
func (c *Client) Taxonomy(ctx context.Context, repo string) ([]trust.Category, error) {
	q := url.Values{}
	if repo != "" {
		q.Set("repo", repo)
	}
	var out []trust.Category
	err := c.do(ctx, http.MethodGet, "/taxonomy?"+q.Encode(), nil, nil, &out)
	return out, err
}

func comparisonPath(repo, key, resource string) string {
	return "/comparisons/" + url.PathEscape(key) + "/" + resource + "?repo=" + url.QueryEscape(repo)
}

type errorBody struct {
	Error    string `json:"error"`
	Expected int64  `json:"expected"`
	Found    int64  `json:"found"`
}

// do sends a JSON request and decodes a JSON response into out. Failures
// are *errs.Error values: network problems and timeouts are Transport,
// status codes map through errs.FromStatus.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	op := "client." + method + " " + strings.SplitN(path, "?", 2)[0]

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errs.Wrap(errs.Validation, op, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.Wrap(errs.Validation, op, fmt.Errorf("create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transport, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Transport, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		kind := errs.FromStatus(resp.StatusCode)
		c.logger.Debug("request failed", "op", op, "status", resp.StatusCode, "error", eb.Error)
		if kind == errs.Conflict {
			return errs.ConflictError(op, eb.Expected, eb.Found)
		}
		msg := eb.Error
		if msg == "" {
			msg = fmt.Sprintf("server returned %d", resp.StatusCode)
		}
		return errs.E(kind, op, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.Validation, op, fmt.Errorf("parse response: %w", err))
	}
	return nil
}
