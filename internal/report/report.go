// Package report renders the "Global Report" of a run, either from the
// history database or straight from an orchestrator summary.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/orchestrator"
)

// Title heads every rendered report.
const Title = "Global Report"

// Report is the structured JSON representation of one run.
type Report struct {
	RunID            string     `json:"run_id"`
	Plugin           string     `json:"plugin"`
	Source           string     `json:"source,omitempty"`
	Pattern          string     `json:"pattern,omitempty"`
	Status           string     `json:"status"`
	AbortReason      string     `json:"abort_reason,omitempty"`
	Fingerprint      string     `json:"config_fingerprint,omitempty"`
	WorkersRequested int        `json:"workers_requested"`
	WorkersStarted   int        `json:"workers_started"`
	Total            int        `json:"total"`
	Passed           int        `json:"passed"`
	Failed           int        `json:"failed"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	Tests            []Test     `json:"tests"`
}

// Test is one row of the report.
type Test struct {
	TestID     string `json:"test_id"`
	WorkerID   int    `json:"worker_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// New builds a report from stored history.
func New(run *history.Run, tests []history.TestRecord) *Report {
	r := &Report{
		RunID:            run.ID,
		Plugin:           run.Plugin,
		Source:           run.Source,
		Pattern:          run.Pattern,
		Status:           string(run.Status),
		AbortReason:      run.AbortReason,
		Fingerprint:      run.Fingerprint,
		WorkersRequested: run.WorkersRequested,
		WorkersStarted:   run.WorkersStarted,
		Total:            run.Total,
		Passed:           run.Passed,
		Failed:           run.Failed,
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
		DurationMS:       run.Duration().Milliseconds(),
		Tests:            make([]Test, 0, len(tests)),
	}
	for _, t := range tests {
		r.Tests = append(r.Tests, Test{
			TestID:     t.TestID,
			WorkerID:   t.WorkerID,
			Status:     string(t.Status),
			Error:      t.Error,
			DurationMS: t.Duration.Milliseconds(),
		})
	}
	return r
}

// FromSummary builds a report for a run that just finished.
func FromSummary(s orchestrator.Summary) *Report {
	c := history.CompletionFor(s)
	finished := s.FinishedAt
	r := &Report{
		RunID:          s.RunID,
		Plugin:         s.Plugin,
		Status:         string(c.Status),
		AbortReason:    c.AbortReason,
		Fingerprint:    s.Fingerprint,
		WorkersStarted: s.WorkersStarted,
		Total:          s.Discovered,
		Passed:         s.Passed,
		Failed:         s.Failed,
		StartedAt:      s.StartedAt,
		FinishedAt:     &finished,
		DurationMS:     s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
		Tests:          make([]Test, 0, len(s.Results)),
	}
	for _, res := range s.Results {
		t := Test{
			TestID:     string(res.TestID),
			WorkerID:   res.WorkerID,
			Status:     string(history.StatusPassed),
			DurationMS: res.Duration().Milliseconds(),
		}
		if res.Err != nil {
			t.Status = string(history.StatusFailed)
			t.Error = res.Err.Error()
		}
		r.Tests = append(r.Tests, t)
	}
	return r
}

// Option adjusts rendering.
type Option func(*options)

type options struct {
	color bool
}

// WithColor styles the table by run status, green for passed and red otherwise.
func WithColor(on bool) Option {
	return func(o *options) { o.color = on }
}

// Build renders a terminal-friendly table of the report.
func Build(r *Report, opts ...Option) string {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", Title, formatDuration(time.Duration(r.DurationMS)*time.Millisecond)))
	t.AppendHeader(table.Row{"Test", "Worker", "Status", "Duration", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Worker", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, test := range r.Tests {
		t.AppendRow(table.Row{
			test.TestID,
			test.WorkerID,
			statusString(test.Status),
			formatDuration(time.Duration(test.DurationMS) * time.Millisecond),
			test.Error,
		})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d/%d", r.WorkersStarted, r.WorkersRequested),
		statusString(r.Status),
		fmt.Sprintf("%d passed", r.Passed),
		fmt.Sprintf("%d failed", r.Failed),
	})

	switch {
	case !o.color:
		t.SetStyle(table.StyleLight)
	case r.Status == string(history.StatusPassed):
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run ID      : %s\n", r.RunID)
	fmt.Fprintf(&out, "Plugin      : %s\n", r.Plugin)
	if r.Source != "" {
		fmt.Fprintf(&out, "Source      : %s\n", r.Source)
	}
	if r.Pattern != "" {
		fmt.Fprintf(&out, "Pattern     : %s\n", r.Pattern)
	}
	fmt.Fprintf(&out, "Started     : %s\n", r.StartedAt.Local().Format(time.RFC3339))
	if r.AbortReason != "" {
		fmt.Fprintf(&out, "Aborted     : %s\n", r.AbortReason)
	}
	out.WriteString(t.Render())
	out.WriteString("\n")
	return out.String()
}

// BuildJSON returns the machine-readable form of the report.
func BuildJSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildRuns renders a one-line-per-run listing, newest first.
func BuildRuns(runs []*history.Run) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Plugin", "Started", "Status", "Passed", "Failed", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Plugin,
			run.StartedAt.Local().Format(time.DateTime),
			statusString(string(run.Status)),
			run.Passed,
			run.Failed,
			formatDuration(run.Duration()),
		})
	}
	return t.Render() + "\n"
}

func statusString(s string) string {
	return strings.ToUpper(s)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
