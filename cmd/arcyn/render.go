package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

func statusSymbol(s orchestrator.StageStatus) string {
	switch s {
	case orchestrator.StatusCompleted:
		return healthyStyle.Render("✓ completed")
	case orchestrator.StatusFailed:
		return errorStyle.Render("✗ failed")
	case orchestrator.StatusRunning:
		return warningStyle.Render("● running")
	default:
		return dimStyle.Render("○ pending")
	}
}

func stageTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true)
			}
			return cellStyle
		}).
		String()
}

func formatDuration(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// renderResult prints the run header, the stage table and the outcome.
func renderResult(w io.Writer, r *orchestrator.PipelineResult, verbose bool) {
	fmt.Fprintln(w, headerStyle.Render("arcyn pipeline"))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Run: "), r.RunID)
	fmt.Fprintf(w, "%s %s\n\n", labelStyle.Render("Goal:"), r.Goal)

	rows := make([][]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		rows = append(rows, []string{
			string(s.Name),
			s.AgentID,
			statusSymbol(s.Status),
			formatDuration(s.DurationMS),
			s.ErrorMessage(),
		})
	}
	fmt.Fprintln(w, stageTable([]string{"STAGE", "AGENT", "STATUS", "DURATION", "ERROR"}, rows))

	if r.Succeeded() {
		fmt.Fprintf(w, "%s %d/%d stages in %s\n",
			healthyStyle.Render("✓ Pipeline completed:"),
			r.CompletedStages(), len(r.Stages), formatDuration(r.TotalDurationMS))
	} else {
		fmt.Fprintln(w, errorStyle.Render("✗ "+r.ErrorMessage()))
	}

	if !verbose {
		return
	}
	for _, s := range r.Stages {
		if s.Output != nil {
			renderOutput(w, s.Name, s.Output)
		}
	}
}

// renderOutput prints one stage output as indented JSON under a title.
func renderOutput(w io.Writer, stage orchestrator.Stage, out orchestrator.Output) {
	d := orchestrator.Describe(stage)
	fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("%s (%s)", stage, d.Description)))

	keys := make([]string, 0, len(out))
	for k := range out {
		if k != orchestrator.OutputStageKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		data, err := json.MarshalIndent(out[k], "  ", "  ")
		if err != nil {
			data = []byte(fmt.Sprint(out[k]))
		}
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(k+":"), data)
	}
}

// renderStatus prints each stage with its agent and mode.
func renderStatus(w io.Writer, v statusView) {
	p := v.Pipeline
	fmt.Fprintln(w, headerStyle.Render("arcyn status"))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Orchestrator:"), p.Orchestrator)
	fmt.Fprintf(w, "%s %d/%d\n", labelStyle.Render("Agents loaded:"), p.AgentsLoaded, p.AgentsTotal)
	if v.Provider != nil {
		state := healthyStyle.Render("● healthy")
		if !v.Provider.Healthy {
			state = errorStyle.Render("● " + string(v.Provider.Status))
		}
		fmt.Fprintf(w, "%s %s/%s %s\n", labelStyle.Render("Provider:"), v.Provider.Provider, v.Provider.Model, state)
	}
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(p.Stages))
	for _, d := range p.Stages {
		st := p.Agents[d.Stage]
		mode := dimStyle.Render("fallback")
		if st.Loaded {
			mode = healthyStyle.Render("agent")
			if !st.Healthy {
				mode = warningStyle.Render("agent (unhealthy)")
			}
		}
		name := st.Name
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{string(d.Stage), d.AgentID, d.Description, name, mode, strings.TrimSpace(st.Error)})
	}
	fmt.Fprintln(w, stageTable([]string{"STAGE", "ID", "ROLE", "AGENT", "MODE", "ERROR"}, rows))
}
