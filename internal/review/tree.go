package review

import (
	"slices"
	"strings"

	"github.com/sprite-ai/triage/internal/model"
)

// Counts tallies effective statuses below a tree node.
type Counts struct {
	Total    int `json:"total"`
	Reviewed int `json:"reviewed"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

func (c *Counts) add(o Counts) {
	c.Total += o.Total
	c.Reviewed += o.Reviewed
	c.Rejected += o.Rejected
	c.Pending += o.Pending
}

// Node is a directory or file in the changed-file tree.
type Node struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	IsDir    bool     `json:"isDir"`
	HunkIDs  []string `json:"hunkIds,omitempty"`
	Counts   Counts   `json:"counts"`
	Children []*Node  `json:"children,omitempty"`
}

// Resolver maps a hunk id to its effective status.
type Resolver func(id string) model.EffectiveStatus

// BuildTree arranges hunks into a directory tree with status counts on
// every node. Children are sorted with directories first.
func BuildTree(hunks []model.Hunk, resolve Resolver) *Node {
	root := &Node{IsDir: true}
	dirs := map[string]*Node{"": root}
	files := map[string]*Node{}

	for _, h := range hunks {
		f, ok := files[h.FilePath]
		if !ok {
			parent := ensureDir(dirs, dirOf(h.FilePath))
			f = &Node{Name: baseOf(h.FilePath), Path: h.FilePath}
			parent.Children = append(parent.Children, f)
			files[h.FilePath] = f
		}
		f.HunkIDs = append(f.HunkIDs, h.ID)

		c := Counts{Total: 1}
		switch s := resolve(h.ID); {
		case s == model.EffectiveRejected:
			c.Rejected++
			c.Reviewed++
		case s.IsReviewed():
			c.Reviewed++
		default:
			c.Pending++
		}
		f.Counts.add(c)
	}

	// Post-order accumulation without recursion: every node is pushed before
	// its children, so walking the visit list backwards sees children first.
	visit := Collect(root, func(*Node) bool { return true })
	for i := len(visit) - 1; i >= 0; i-- {
		n := visit[i]
		if !n.IsDir {
			continue
		}
		n.Counts = Counts{}
		for _, c := range n.Children {
			n.Counts.add(c.Counts)
		}
		slices.SortFunc(n.Children, func(a, b *Node) int {
			if a.IsDir != b.IsDir {
				if a.IsDir {
					return -1
				}
				return 1
			}
			return strings.Compare(a.Name, b.Name)
		})
	}
	return root
}

// Collect walks the tree depth first with an explicit stack and returns
// the nodes keep accepts, in pre-order.
func Collect(root *Node, keep func(*Node) bool) []*Node {
	if root == nil {
		return nil
	}
	var out []*Node
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep(n) {
			out = append(out, n)
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}

// Files returns the file nodes of the tree in display order.
func Files(root *Node) []*Node {
	return Collect(root, func(n *Node) bool { return !n.IsDir })
}

func ensureDir(dirs map[string]*Node, dir string) *Node {
	var missing []string
	for d := dir; ; d = dirOf(d) {
		if _, ok := dirs[d]; ok {
			break
		}
		missing = append(missing, d)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		d := missing[i]
		n := &Node{Name: baseOf(d), Path: d, IsDir: true}
		parent := dirs[dirOf(d)]
		parent.Children = append(parent.Children, n)
		dirs[d] = n
	}
	return dirs[dir]
}

func dirOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

func baseOf(p string) string {
	return p[strings.LastIndexByte(p, '/')+1:]
}
