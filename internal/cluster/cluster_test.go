package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/triage/internal/model"
)

// hunk builds a hunk from "+text", "-text" and " text" lines starting at
// new-side line start.
func hunk(id, file string, start int, lines ...string) model.Hunk {
	h := model.Hunk{ID: id, FilePath: file, NewStart: start, OldStart: start}
	oldLn, newLn := start, start
	for _, raw := range lines {
		l := model.Line{Content: raw[1:]}
		switch raw[0] {
		case '+':
			n := newLn
			l.Type, l.NewLineNumber = model.LineAdded, &n
			newLn++
		case '-':
			o := oldLn
			l.Type, l.OldLineNumber = model.LineRemoved, &o
			oldLn++
		default:
			o, n := oldLn, newLn
			l.Type, l.OldLineNumber, l.NewLineNumber = model.LineContext, &o, &n
			oldLn++
			newLn++
		}
		h.Lines = append(h.Lines, l)
	}
	return h
}

func TestContentKeyIgnoresContextAndPosition(t *testing.T) {
	a := hunk("a", "a.go", 1, " package a", "+import \"fmt\"")
	b := hunk("b", "b.go", 40, " package b", " ", "+import \"fmt\"")

	ka, ok := ContentKey(a)
	require.True(t, ok)
	kb, ok := ContentKey(b)
	require.True(t, ok)
	assert.Equal(t, ka, kb)
}

func TestContentKeyDistinguishesMarkers(t *testing.T) {
	add := hunk("a", "a.go", 1, "+x := 1")
	del := hunk("b", "a.go", 1, "-x := 1")

	ka, _ := ContentKey(add)
	kb, _ := ContentKey(del)
	assert.NotEqual(t, ka, kb)

	reordered1 := hunk("c", "c.go", 1, "+a", "+b")
	reordered2 := hunk("d", "d.go", 1, "+b", "+a")
	k1, _ := ContentKey(reordered1)
	k2, _ := ContentKey(reordered2)
	assert.NotEqual(t, k1, k2)
}

func TestContentKeyNoChanges(t *testing.T) {
	_, ok := ContentKey(hunk("a", "a.go", 1, " only context"))
	assert.False(t, ok)
	_, ok = ContentKey(model.Hunk{ID: "empty"})
	assert.False(t, ok)
}

func TestGroupIdenticalImportScenario(t *testing.T) {
	hunks := []model.Hunk{
		hunk("a.ts:1", "a.ts", 1, `+import { x } from "y"`),
		hunk("b.ts:1", "b.ts", 3, ` const z = 1`, `+import { x } from "y"`),
		hunk("c.ts:1", "c.ts", 1, `+something else`),
	}

	groups := GroupIdentical(hunks)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, []string{"a.ts:1", "b.ts:1"}, g.HunkIDs)
	assert.Equal(t, []string{"a.ts", "b.ts"}, g.Files)
	assert.Equal(t, "a.ts:1", g.Representative)
}

func TestGroupIdenticalOrdering(t *testing.T) {
	hunks := []model.Hunk{
		hunk("p1", "x.go", 1, "+pair"),
		hunk("t1", "x.go", 9, "+triple"),
		hunk("p2", "y.go", 1, "+pair"),
		hunk("t2", "y.go", 9, "+triple"),
		hunk("q1", "z.go", 1, "+quad"),
		hunk("t3", "z.go", 9, "+triple"),
		hunk("q2", "z.go", 20, "+quad"),
		hunk("solo", "z.go", 30, "+solo"),
		hunk("ctx", "z.go", 40, " context"),
	}

	groups := GroupIdentical(hunks)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, groups[0].HunkIDs)
	assert.Equal(t, []string{"p1", "p2"}, groups[1].HunkIDs, "ties keep first-seen order")
	assert.Equal(t, []string{"q1", "q2"}, groups[2].HunkIDs)
	assert.Equal(t, []string{"z.go"}, groups[2].Files)

	g, ok := GroupOf(groups, "p2")
	require.True(t, ok)
	assert.Equal(t, "p1", g.Representative)
	_, ok = GroupOf(groups, "solo")
	assert.False(t, ok)
}

func TestGroupIdenticalNoSingletons(t *testing.T) {
	hunks := []model.Hunk{
		hunk("a", "a.go", 1, "+one"),
		hunk("b", "b.go", 1, "+two"),
	}
	assert.Empty(t, GroupIdentical(hunks))
	assert.Empty(t, GroupIdentical(nil))
}

// symbolFixture is the definition/reference layout used by the batch tests:
// foo is defined in def.ts, ref1.ts only calls it, ref2.ts calls it and adds
// an unrelated line.
func symbolFixture() ([]model.Hunk, []model.SymbolLinkedHunk) {
	hunks := []model.Hunk{
		hunk("def.ts:1", "def.ts", 1, "-function foo() {}", "+function foo(a) {}"),
		hunk("ref1.ts:1", "ref1.ts", 9, " bar()", "+foo(1)"),
		hunk("ref2.ts:1", "ref2.ts", 5, "+foo(2)", "+const unrelated = true"),
	}
	links := []model.SymbolLinkedHunk{
		{HunkID: "ref1.ts:1", SymbolName: "foo", Relationship: model.RelReferences, LinkedHunkID: "def.ts:1", ReferenceLineNumbers: []int{10}},
		{HunkID: "def.ts:1", SymbolName: "foo", Relationship: model.RelDefines, LinkedHunkID: "ref2.ts:1", ReferenceLineNumbers: []int{5}},
	}
	return hunks, links
}

func TestClusterSymbolsPurity(t *testing.T) {
	hunks, links := symbolFixture()

	clusters := ClusterSymbols(links, model.IndexHunks(hunks), nil)
	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, "foo", c.Symbol)
	assert.Equal(t, "def.ts", c.DefinitionFile)
	assert.Equal(t, []string{"def.ts:1"}, c.DefinitionHunks)
	require.Len(t, c.References, 2)
	assert.True(t, c.References[0].Pure)
	assert.False(t, c.References[1].Pure)
	assert.Equal(t, []string{"def.ts:1", "ref1.ts:1"}, c.BatchHunkIDs())
	assert.Equal(t, 3, c.Unreviewed)
}

func TestClusterSymbolsNeedsTwoReferences(t *testing.T) {
	hunks, links := symbolFixture()
	clusters := ClusterSymbols(links[:1], model.IndexHunks(hunks), nil)
	assert.Empty(t, clusters)
}

func TestClusterSymbolsDedupesReferences(t *testing.T) {
	hunks, links := symbolFixture()
	// A second link for the same reference hunk widens its line set and
	// makes ref2 pure.
	links = append(links, model.SymbolLinkedHunk{
		HunkID: "ref2.ts:1", SymbolName: "foo", Relationship: model.RelReferences,
		LinkedHunkID: "def.ts:1", ReferenceLineNumbers: []int{6, 5},
	})

	clusters := ClusterSymbols(links, model.IndexHunks(hunks), nil)
	require.Len(t, clusters, 1)
	require.Len(t, clusters[0].References, 2)
	assert.Equal(t, []int{5, 6}, clusters[0].References[1].Lines)
	assert.True(t, clusters[0].References[1].Pure)
}

func TestClusterSymbolsIgnoresUnknownAndSelfLinks(t *testing.T) {
	hunks, links := symbolFixture()
	links = append(links,
		model.SymbolLinkedHunk{HunkID: "ghost", SymbolName: "foo", Relationship: model.RelReferences, LinkedHunkID: "def.ts:1"},
		model.SymbolLinkedHunk{HunkID: "def.ts:1", SymbolName: "foo", Relationship: model.RelReferences, LinkedHunkID: "def.ts:1"},
	)
	clusters := ClusterSymbols(links, model.IndexHunks(hunks), nil)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].References, 2)
}

func TestClusterSymbolsOrdering(t *testing.T) {
	hunks := []model.Hunk{
		hunk("d1", "d.go", 1, "+func A() {}"),
		hunk("d2", "e.go", 1, "+func B() {}"),
		hunk("r1", "r.go", 1, "+A()"),
		hunk("r2", "s.go", 1, "+A()"),
		hunk("r3", "t.go", 1, "+B()"),
		hunk("r4", "u.go", 1, "+B()"),
	}
	link := func(ref, def, sym string) model.SymbolLinkedHunk {
		return model.SymbolLinkedHunk{HunkID: ref, SymbolName: sym, Relationship: model.RelReferences, LinkedHunkID: def, ReferenceLineNumbers: []int{1}}
	}
	links := []model.SymbolLinkedHunk{
		link("r1", "d1", "A"), link("r2", "d1", "A"),
		link("r3", "d2", "B"), link("r4", "d2", "B"),
	}
	idx := model.IndexHunks(hunks)

	clusters := ClusterSymbols(links, idx, nil)
	require.Len(t, clusters, 2)
	assert.Equal(t, "A", clusters[0].Symbol, "ties sort by name")

	reviewed := func(id string) bool { return id == "r1" || id == "r2" }
	clusters = ClusterSymbols(links, idx, reviewed)
	require.Len(t, clusters, 2)
	assert.Equal(t, "B", clusters[0].Symbol)
	assert.Equal(t, 3, clusters[0].Unreviewed)
	assert.Equal(t, 1, clusters[1].Unreviewed)

	assert.Len(t, ClusterOf(clusters, "r3"), 1)
	assert.Empty(t, ClusterOf(clusters, "nope"))
}

func TestIsPureReference(t *testing.T) {
	onlyRemoved := hunk("x", "x.go", 1, "-foo()")
	assert.False(t, IsPureReference(onlyRemoved, []int{1}))

	pure := hunk("y", "y.go", 3, " ctx", "+foo()")
	assert.True(t, IsPureReference(pure, []int{4}))
	assert.False(t, IsPureReference(pure, []int{3}))
}
