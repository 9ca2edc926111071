package model

import (
	"fmt"
	"strings"
)

const workingTreeSuffix = "+working-tree"

// Comparison identifies the two refs being reviewed.
type Comparison struct {
	Base        string `json:"base" validate:"required"`
	Head        string `json:"head" validate:"required"`
	WorkingTree bool   `json:"workingTree"`
	Key         string `json:"key" validate:"required"`
}

// NewComparison builds a comparison and its key.
func NewComparison(base, head string, workingTree bool) Comparison {
	key := base + ".." + head
	if workingTree {
		key += workingTreeSuffix
	}
	return Comparison{Base: base, Head: head, WorkingTree: workingTree, Key: key}
}

// ParseComparison parses a key of the form "base..head" with an optional
// "+working-tree" suffix.
func ParseComparison(key string) (Comparison, error) {
	wt := strings.HasSuffix(key, workingTreeSuffix)
	rest := strings.TrimSuffix(key, workingTreeSuffix)

	base, head, ok := strings.Cut(rest, "..")
	if !ok || base == "" || head == "" || strings.HasPrefix(head, ".") {
		return Comparison{}, fmt.Errorf("invalid comparison key %q (want base..head)", key)
	}
	return NewComparison(base, head, wt), nil
}

// Range returns the git revision range for the comparison.
func (c Comparison) Range() string {
	if c.WorkingTree {
		return c.Base
	}
	return c.Base + ".." + c.Head
}

func (c Comparison) String() string {
	return c.Key
}
