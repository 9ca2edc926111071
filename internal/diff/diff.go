// Package diff turns git diffs into review hunks.
package diff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/sprite-ai/triage/internal/model"
)

// File is a single file in a diff with its hunks.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	Hunks        []model.Hunk
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s → %s", f.OldName, f.NewName)
	}
	return f.Path()
}

// Path returns the path hunks are keyed by: the new name unless the file was deleted.
func (f *File) Path() string {
	if f.IsDeleted || f.NewName == "" {
		return f.OldName
	}
	return f.NewName
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
	Raw   string
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Hunks returns every hunk in file order.
func (ds *DiffSet) Hunks() []model.Hunk {
	var out []model.Hunk
	for _, f := range ds.Files {
		out = append(out, f.Hunks...)
	}
	return out
}

// Parse reads a unified diff string and returns a DiffSet. Move pairs are
// detected across the whole set.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}

		for _, frag := range f.TextFragments {
			h := buildHunk(df.Path(), frag)
			a, d := h.Stats()
			df.AddedLines += a
			df.DeletedLines += d
			df.Hunks = append(df.Hunks, h)
		}

		ds.Files = append(ds.Files, df)
	}

	DetectMovePairs(ds.Files)
	return ds, nil
}

func buildHunk(filePath string, frag *gitdiff.TextFragment) model.Hunk {
	h := model.Hunk{
		FilePath: filePath,
		OldStart: int(frag.OldPosition),
		OldCount: int(frag.OldLines),
		NewStart: int(frag.NewPosition),
		NewCount: int(frag.NewLines),
	}

	var content strings.Builder
	oldLine, newLine := h.OldStart, h.NewStart
	for _, l := range frag.Lines {
		text := strings.TrimSuffix(l.Line, "\n")
		line := model.Line{Content: text}
		switch l.Op {
		case gitdiff.OpAdd:
			line.Type = model.LineAdded
			line.NewLineNumber = intPtr(newLine)
			newLine++
		case gitdiff.OpDelete:
			line.Type = model.LineRemoved
			line.OldLineNumber = intPtr(oldLine)
			oldLine++
		default:
			line.Type = model.LineContext
			line.OldLineNumber = intPtr(oldLine)
			line.NewLineNumber = intPtr(newLine)
			oldLine++
			newLine++
		}
		content.WriteString(text)
		content.WriteByte('\n')
		h.Lines = append(h.Lines, line)
	}

	h.Content = content.String()
	h.ContentHash = shortHash(h.Content)
	h.ID = filePath + ":" + h.ContentHash
	return h
}

func intPtr(n int) *int { return &n }

// shortHash is the hex form of the first 8 bytes of a sha256 digest.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// MovePair links a deletion-only hunk to an addition-only hunk in another
// file with the same changed content.
type MovePair struct {
	SourceHunkID string `json:"sourceHunkId"`
	DestHunkID   string `json:"destHunkId"`
	SourceFile   string `json:"sourceFilePath"`
	DestFile     string `json:"destFilePath"`
}

// DetectMovePairs finds moved blocks and sets MovePairID on both sides.
func DetectMovePairs(files []*File) []MovePair {
	type ref struct{ file, hunk int }
	deletions := map[string][]ref{}
	additions := map[string][]ref{}
	var hashes []string

	for fi, f := range files {
		for hi, h := range f.Hunks {
			added, removed := h.Stats()
			key := changedHash(h)
			switch {
			case removed > 0 && added == 0:
				if _, seen := deletions[key]; !seen {
					hashes = append(hashes, key)
				}
				deletions[key] = append(deletions[key], ref{fi, hi})
			case added > 0 && removed == 0:
				additions[key] = append(additions[key], ref{fi, hi})
			}
		}
	}

	var pairs []MovePair
	for _, key := range hashes {
		for _, del := range deletions[key] {
			for _, add := range additions[key] {
				src := &files[del.file].Hunks[del.hunk]
				dst := &files[add.file].Hunks[add.hunk]
				if src.FilePath == dst.FilePath {
					continue
				}
				src.MovePairID = dst.ID
				dst.MovePairID = src.ID
				pairs = append(pairs, MovePair{
					SourceHunkID: src.ID,
					DestHunkID:   dst.ID,
					SourceFile:   src.FilePath,
					DestFile:     dst.FilePath,
				})
			}
		}
	}
	return pairs
}

func changedHash(h model.Hunk) string {
	var parts []string
	for _, l := range h.Lines {
		if l.IsChange() {
			parts = append(parts, l.Content)
		}
	}
	return shortHash(strings.Join(parts, "\n"))
}

// Filter keeps only hunks whose file path is in paths. An empty paths list
// keeps everything.
func Filter(hunks []model.Hunk, paths []string) []model.Hunk {
	if len(paths) == 0 {
		return hunks
	}
	var out []model.Hunk
	for _, h := range hunks {
		if slices.Contains(paths, h.FilePath) {
			out = append(out, h)
		}
	}
	return out
}

// GitDiff runs `git diff` with the given arguments and returns the raw output.
func GitDiff(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmdArgs := append([]string{"diff", "--no-color", "--no-ext-diff"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = repoDir

	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", gitError(string(ee.Stderr))
		}
		return "", fmt.Errorf("git diff: %w", err)
	}

	return string(out), nil
}

// ErrUnknownRevision is wrapped by GitDiff when git cannot resolve a ref or
// the directory is not a repository.
var ErrUnknownRevision = errors.New("unknown revision")

var unresolvedMarkers = []string{
	"unknown revision",
	"bad revision",
	"ambiguous argument",
	"not a git repository",
	"Not a valid object name",
}

func gitError(stderr string) error {
	msg := strings.TrimSpace(stderr)
	for _, m := range unresolvedMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("git diff: %w: %s", ErrUnknownRevision, msg)
		}
	}
	return fmt.Errorf("git diff: %s", msg)
}

// GitDiffComparison returns the diff for a comparison. Working-tree
// comparisons diff the base ref against the checkout.
func GitDiffComparison(ctx context.Context, repoDir string, c model.Comparison, contextLines int) (string, error) {
	args := []string{fmt.Sprintf("-U%d", contextLines), c.Range()}
	return GitDiff(ctx, repoDir, args...)
}

// Load runs git for the comparison and parses the result.
func Load(ctx context.Context, repoDir string, c model.Comparison) (*DiffSet, error) {
	raw, err := GitDiffComparison(ctx, repoDir, c, 3)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
