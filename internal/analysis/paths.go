package analysis

import (
	"path"

	"github.com/sprite-ai/triage/internal/model"
)

// Package manager lockfiles, keyed by base name.
var lockfiles = map[string]bool{
	"package-lock.json":  true,
	"yarn.lock":          true,
	"pnpm-lock.yaml":     true,
	"bun.lock":           true,
	"bun.lockb":          true,
	"Cargo.lock":         true,
	"Gemfile.lock":       true,
	"poetry.lock":        true,
	"Pipfile.lock":       true,
	"pdm.lock":           true,
	"uv.lock":            true,
	"composer.lock":      true,
	"go.sum":             true,
	"go.mod":             true,
	"flake.lock":         true,
	"mix.lock":           true,
	"packages.lock.json": true,
	"paket.lock":         true,
}

// MoveRule labels hunks that are one side of a move pair.
func MoveRule(h model.Hunk) ([]string, string, bool) {
	if h.MovePairID == "" {
		return nil, "", false
	}
	return []string{"move:code"}, "Hunk is part of a move pair (identical content moved between files)", true
}

// LockfileRule labels every hunk of a lockfile.
func LockfileRule(h model.Hunk) ([]string, string, bool) {
	if !lockfiles[path.Base(h.FilePath)] {
		return nil, "", false
	}
	return []string{"generated:lockfile"}, "File is a package manager lockfile", true
}
