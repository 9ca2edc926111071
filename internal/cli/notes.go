package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
)

var notesCmd = &cobra.Command{
	Use:   "notes [text...]",
	Short: "Show or edit review notes and line annotations",
	Long: `Without arguments, print the review's notes and annotations.

With text, replace the notes. With --annotate FILE:LINE, the text becomes
a comment on that line instead. --remove deletes annotations by id and
may be combined with either.

Examples:
  triage notes "looks good apart from the retry loop"
  triage notes --annotate main.go:42 "this can overflow"
  triage notes --remove 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	RunE: runNotes,
}

func init() {
	addComparisonFlag(notesCmd)
	notesCmd.Flags().String("annotate", "", "annotate a line, as FILE:LINE")
	notesCmd.Flags().String("side", "new", "side of the diff the annotated line is on: old or new")
	notesCmd.Flags().StringSlice("remove", nil, "annotation ids to delete")
}

func runNotes(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	annotate, _ := cmd.Flags().GetString("annotate")
	side, _ := cmd.Flags().GetString("side")
	remove, _ := cmd.Flags().GetStringSlice("remove")
	text := strings.Join(args, " ")

	var ms []review.Mutator
	var added *model.Annotation
	switch {
	case annotate != "":
		if text == "" {
			return fmt.Errorf("--annotate needs the annotation text")
		}
		a, err := parseLineRef(annotate)
		if err != nil {
			return err
		}
		if side != "old" && side != "new" {
			return fmt.Errorf("--side must be old or new, got %q", side)
		}
		a.Side = side
		a.Content = text
		a.ID = uuid.NewString()
		added = &a
		ms = append(ms, review.AddAnnotation(a))
	case len(args) > 0:
		ms = append(ms, review.SetNotes(text))
	}
	for _, id := range remove {
		ms = append(ms, review.RemoveAnnotation(id))
	}

	s, err := openSession(ctx, cmd, comparisonArgs(cmd), reviewsync.VersionedPolicy{})
	if err != nil {
		return err
	}
	doc, err := s.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(ms) == 0 {
		printNotes(out, doc)
		return nil
	}

	res, err := s.coord.Apply(ctx, review.Chain(ms...))
	if err != nil {
		return err
	}
	if res.Discarded {
		return fmt.Errorf("review changed on the server (now version %d); edit discarded, re-run to apply", res.State.Version)
	}
	switch {
	case added != nil:
		fmt.Fprintf(out, "Added annotation %s on %s:%d\n", added.ID, added.FilePath, added.LineNumber)
	case len(args) > 0:
		fmt.Fprintf(out, "Notes saved, review at version %d\n", res.State.Version)
	}
	if len(remove) > 0 {
		before := len(doc.Annotations)
		if added != nil {
			before++
		}
		fmt.Fprintf(out, "Removed %d annotation(s), %d remain\n", before-len(res.State.Annotations), len(res.State.Annotations))
	}
	return nil
}

// parseLineRef splits FILE:LINE.
func parseLineRef(ref string) (model.Annotation, error) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 {
		return model.Annotation{}, fmt.Errorf("invalid line %q: want FILE:LINE", ref)
	}
	n, err := strconv.Atoi(ref[i+1:])
	if err != nil || n < 1 {
		return model.Annotation{}, fmt.Errorf("invalid line number in %q", ref)
	}
	return model.Annotation{FilePath: ref[:i], LineNumber: n}, nil
}

func printNotes(w io.Writer, doc model.ReviewState) {
	if doc.Notes == "" && len(doc.Annotations) == 0 {
		fmt.Fprintln(w, "No notes or annotations.")
		return
	}
	if doc.Notes != "" {
		fmt.Fprintln(w, doc.Notes)
	}
	if len(doc.Annotations) == 0 {
		return
	}
	if doc.Notes != "" {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Annotations:")
	for _, a := range doc.Annotations {
		fmt.Fprintf(w, "  %s:%d (%s)  %s\n    %s\n", a.FilePath, a.LineNumber, a.Side, a.ID, a.Content)
	}
}
