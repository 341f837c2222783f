package commands

import (
	"io"
	"time"

	"moodledl/internal/db"
	"moodledl/internal/history"
	"moodledl/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderRun(out io.Writer, run pipeline.Run) {
	t := newTable(out)
	t.SetTitle("run " + run.Id)
	t.AppendHeader(table.Row{"#", "Url", "Course", "Directory", "Result", "Error"})

	failed := 0
	for i, r := range run.Results {
		message := ""
		if r.Err != nil {
			failed++
			message = r.Err.Error()
		}
		t.AppendRow(table.Row{i + 1, r.Url, r.Course, r.Directory, pipeline.ErrorKind(r.Err), message})
	}
	t.AppendFooter(table.Row{
		"", "", "", "",
		len(run.Results) - failed,
		failed,
	})
	t.Render()
}

func renderRuns(out io.Writer, runs []history.RunSummary) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Courses", "Failed"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.Id,
			r.StartedAt.Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).String(),
			r.Total,
			r.Failed,
		})
	}
	t.Render()
}

func renderResults(out io.Writer, results []db.CourseResult) {
	t := newTable(out)
	t.AppendHeader(table.Row{"#", "Url", "Course", "Directory", "Result", "Error"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Idx + 1, r.Url, r.Course, r.Directory, r.Kind, r.Error})
	}
	t.Render()
}
