package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/ingest"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table or json)", format)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type outcomeView struct {
	RunID      string                    `json:"run_id"`
	DAGID      string                    `json:"dag_id"`
	State      workflow.RunState         `json:"state"`
	Tasks      []workflow.TaskResult     `json:"tasks"`
	Loads      map[string]*bq.LoadResult `json:"loads,omitempty"`
	Merge      *bq.QueryResult           `json:"merge,omitempty"`
	MergedRows int64                     `json:"merged_rows"`
}

func renderOutcome(w io.Writer, outcome *pipeline.Outcome, format string) error {
	if outcome == nil || outcome.Run == nil {
		return nil
	}
	run := outcome.Run

	if format == formatJSON {
		return renderJSON(w, outcomeView{
			RunID:      run.RunID,
			DAGID:      run.DAGID,
			State:      run.State,
			Tasks:      run.Tasks,
			Loads:      outcome.Loads,
			Merge:      outcome.Merge,
			MergedRows: outcome.MergedRows(),
		})
	}

	_, _ = fmt.Fprintf(w, "DAG %s run %s: %s\n", run.DAGID, run.RunID, run.State)

	t := newTable(w)
	t.AppendHeader(table.Row{"Task", "State", "Attempts", "Duration", "Error"})
	for _, task := range run.Tasks {
		t.AppendRow(table.Row{task.ID, task.State, task.Attempts, formatDuration(task.Duration()), task.Error})
	}
	t.Render()

	if len(outcome.Loads) > 0 {
		ids := make([]string, 0, len(outcome.Loads))
		for id := range outcome.Loads {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		lt := newTable(w)
		lt.AppendHeader(table.Row{"Load", "Job", "Rows", "Files", "Bytes"})
		for _, id := range ids {
			l := outcome.Loads[id]
			lt.AppendRow(table.Row{id, l.JobID, l.OutputRows, l.InputFiles, l.InputBytes})
		}
		lt.Render()
	}

	if outcome.Merge != nil {
		_, _ = fmt.Fprintf(w, "Merged %d rows (%d inserted, %d updated) in job %s\n",
			outcome.Merge.AffectedRows, outcome.Merge.InsertedRows, outcome.Merge.UpdatedRows, outcome.Merge.JobID)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func renderDAG(w io.Writer, dag *workflow.DAG, format string) error {
	levels, err := dag.Levels()
	if err != nil {
		return err
	}

	if format == formatJSON {
		type taskView struct {
			ID          string   `json:"task_id"`
			Upstream    []string `json:"upstream"`
			Description string   `json:"description,omitempty"`
		}
		view := struct {
			DAGID  string     `json:"dag_id"`
			Tasks  []taskView `json:"tasks"`
			Levels [][]string `json:"levels"`
		}{DAGID: dag.ID, Levels: levels}
		for _, task := range dag.Tasks() {
			up := task.Upstream
			if up == nil {
				up = []string{}
			}
			view.Tasks = append(view.Tasks, taskView{ID: task.ID, Upstream: up, Description: task.Description})
		}
		return renderJSON(w, view)
	}

	level := make(map[string]int)
	for i, ids := range levels {
		for _, id := range ids {
			level[id] = i
		}
	}

	_, _ = fmt.Fprintf(w, "DAG %s\n", dag.ID)
	t := newTable(w)
	t.AppendHeader(table.Row{"Level", "Task", "Upstream", "Description"})
	for _, ids := range levels {
		for _, id := range ids {
			task, _ := dag.Task(id)
			t.AppendRow(table.Row{level[id], id, strings.Join(task.Upstream, ", "), task.Description})
		}
	}
	t.Render()
	return nil
}

func renderMismatches(w io.Writer, name string, mismatches []bq.Mismatch) {
	if len(mismatches) == 0 {
		_, _ = fmt.Fprintf(w, "%s: OK\n", name)
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %d mismatch(es)\n", name, len(mismatches))
	t := newTable(w)
	t.AppendHeader(table.Row{"Column", "Kind", "Want", "Got"})
	for _, m := range mismatches {
		t.AppendRow(table.Row{m.Column, m.Kind, m.Want, m.Got})
	}
	t.Render()
}

func renderReport(w io.Writer, name string, report *ingest.Report) {
	if report.Valid() {
		_, _ = fmt.Fprintf(w, "%s: OK (%d records)\n", name, report.Records)
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %d issue(s) in %d records\n", name, report.IssueCount, report.Records)
	t := newTable(w)
	t.AppendHeader(table.Row{"Line", "Column", "Problem"})
	for _, issue := range report.Issues {
		t.AppendRow(table.Row{issue.Line, issue.Column, issue.Message})
	}
	t.Render()
	if report.Truncated {
		_, _ = fmt.Fprintf(w, "(showing first %d issues)\n", len(report.Issues))
	}
}
