package review

import (
	"fmt"
	"strings"

	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/model"
)

// Report splits a diff by effective hunk status.
type Report struct {
	Files    []*diff.File
	resolve  Resolver
	Approved []model.Hunk
	Rejected []model.Hunk
	Pending  []model.Hunk
}

// NewReport resolves every hunk in files. Trusted hunks count as approved.
func NewReport(files []*diff.File, resolve Resolver) *Report {
	r := &Report{Files: files, resolve: resolve}
	for _, f := range files {
		for _, h := range f.Hunks {
			switch s := resolve(h.ID); s {
			case model.EffectiveApproved, model.EffectiveTrusted:
				r.Approved = append(r.Approved, h)
			case model.EffectiveRejected:
				r.Rejected = append(r.Rejected, h)
			default:
				r.Pending = append(r.Pending, h)
			}
		}
	}
	return r
}

func (r *Report) accepted(id string) bool {
	s := r.resolve(id)
	return s == model.EffectiveApproved || s == model.EffectiveTrusted
}

// ApprovedPatch builds a unified diff containing only accepted hunks.
// Files without accepted hunks are left out.
func (r *Report) ApprovedPatch() string {
	var b strings.Builder
	for _, f := range r.Files {
		var keep []model.Hunk
		for _, h := range f.Hunks {
			if r.accepted(h.ID) {
				keep = append(keep, h)
			}
		}
		if len(keep) > 0 {
			writeFilePatch(&b, f, keep)
		}
	}
	return b.String()
}

// CommitMessage suggests a commit message for the accepted changes.
func (r *Report) CommitMessage() string {
	files := r.filesWith(r.Approved)
	if len(files) == 0 {
		return ""
	}

	var b strings.Builder
	if len(files) == 1 {
		f := files[0]
		switch {
		case f.IsNew:
			fmt.Fprintf(&b, "Add %s", f.Name())
		case f.IsDeleted:
			fmt.Fprintf(&b, "Remove %s", f.Name())
		default:
			fmt.Fprintf(&b, "Update %s", f.Name())
		}
	} else {
		added, modified, deleted := 0, 0, 0
		for _, f := range files {
			switch {
			case f.IsNew:
				added++
			case f.IsDeleted:
				deleted++
			default:
				modified++
			}
		}

		var parts []string
		if modified > 0 {
			parts = append(parts, fmt.Sprintf("update %d file(s)", modified))
		}
		if added > 0 {
			parts = append(parts, fmt.Sprintf("add %d file(s)", added))
		}
		if deleted > 0 {
			parts = append(parts, fmt.Sprintf("remove %d file(s)", deleted))
		}
		msg := strings.Join(parts, ", ")
		b.WriteString(strings.ToUpper(msg[:1]) + msg[1:])
	}

	fmt.Fprintf(&b, "\n\nApproved hunks: %d\n", len(r.Approved))
	for _, f := range files {
		fmt.Fprintf(&b, "  - %s\n", f.Name())
	}
	if len(r.Rejected) > 0 {
		b.WriteString("\nRejected:\n")
		for _, h := range r.Rejected {
			fmt.Fprintf(&b, "  - %s @@ -%d,%d +%d,%d\n", h.FilePath, h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		}
	}
	return b.String()
}

func (r *Report) filesWith(hunks []model.Hunk) []*diff.File {
	var out []*diff.File
	for _, f := range r.Files {
		for _, h := range hunks {
			if h.FilePath == f.Path() {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func writeFilePatch(b *strings.Builder, f *diff.File, hunks []model.Hunk) {
	oldName, newName := "a/"+f.OldName, "b/"+f.NewName
	if f.IsNew || f.OldName == "" {
		oldName = "/dev/null"
	}
	if f.IsDeleted || f.NewName == "" {
		newName = "/dev/null"
	}

	fmt.Fprintf(b, "diff --git a/%s b/%s\n", f.Path(), f.Path())
	if f.IsNew {
		b.WriteString("new file mode 100644\n")
	} else if f.IsDeleted {
		b.WriteString("deleted file mode 100644\n")
	}
	fmt.Fprintf(b, "--- %s\n+++ %s\n", oldName, newName)

	for _, h := range hunks {
		fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Type {
			case model.LineAdded:
				b.WriteByte('+')
			case model.LineRemoved:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
}
