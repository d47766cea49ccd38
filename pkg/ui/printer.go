package ui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/crucialwebstudio/amify/pkg/builder"
	"github.com/crucialwebstudio/amify/pkg/cloud"
	"github.com/crucialwebstudio/amify/pkg/doctor"
	"github.com/crucialwebstudio/amify/pkg/history"
	"github.com/crucialwebstudio/amify/pkg/validation"
)

// Printer writes command output without an interactive terminal.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	lastStage builder.Stage
}

// NewPrinter creates a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Progress prints one line per event. It satisfies builder.ProgressCallback.
func (p *Printer) Progress(e builder.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Stage != p.lastStage && !e.IsError {
		fmt.Fprintln(p.out, subtitleStyle.Render("==> "+e.Stage.DisplayName()))
		p.lastStage = e.Stage
	}

	var line strings.Builder
	switch {
	case e.IsError:
		line.WriteString(errorStyle.Render("    ✗ " + e.Message))
	case e.Percent >= 0:
		line.WriteString(fmt.Sprintf("    [%3d%%] %s", e.Percent, e.Message))
	default:
		line.WriteString("           " + e.Message)
	}
	if e.Resource != "" {
		line.WriteString(" ")
		line.WriteString(resourceStyle.Render(e.Resource))
	}
	fmt.Fprintln(p.out, line.String())

	if e.Detail != "" {
		for _, d := range strings.Split(strings.TrimRight(e.Detail, "\n"), "\n") {
			fmt.Fprintln(p.out, dimStyle.Render("           "+d))
		}
	}
}

// PrintResult prints the build outcome banner.
func (p *Printer) PrintResult(r *builder.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out)
	if r == nil {
		fmt.Fprintln(p.out, errorStyle.Render("Build did not complete."))
		return
	}

	switch {
	case r.Success && r.DryRun:
		fmt.Fprintln(p.out, successStyle.Render("  Dry Run Complete"))
	case r.Success:
		fmt.Fprintln(p.out, successStyle.Render("  Build Complete!"))
	default:
		fmt.Fprintln(p.out, errorStyle.Render("  Build Failed"))
	}
	fmt.Fprintln(p.out)

	fmt.Fprintf(p.out, "  Build ID: %s\n", r.BuildID)
	fmt.Fprintf(p.out, "  Duration: %s\n", r.Duration.Round(time.Second))
	if r.SourceAMI != "" {
		fmt.Fprintf(p.out, "  Source:   %s\n", r.SourceAMI)
	}
	if r.AMIName != "" {
		fmt.Fprintf(p.out, "  AMI Name: %s\n", r.AMIName)
	}

	if len(r.Images) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, subtitleStyle.Render("  Images:"))
		for _, region := range slices.Sorted(maps.Keys(r.Images)) {
			fmt.Fprintf(p.out, "    %s: %s\n", region, r.Images[region])
		}
	}

	if r.Error != nil {
		fmt.Fprintln(p.out)
		if r.Success {
			fmt.Fprintln(p.out, warningStyle.Render("  Cleanup incomplete:"))
		} else {
			fmt.Fprintln(p.out, errorStyle.Render("  Error:"))
		}
		for _, line := range strings.Split(r.Error.Error(), "\n") {
			fmt.Fprintf(p.out, "    %s\n", line)
		}
	}
	if r.CleanupError != nil && !r.Success {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, warningStyle.Render("  Cleanup errors (resources may remain):"))
		for _, line := range strings.Split(r.CleanupError.Error(), "\n") {
			fmt.Fprintf(p.out, "    %s\n", line)
		}
	}
	if r.Kept {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, dimStyle.Render("  Builder instance kept for debugging:"))
		if r.InstanceID != "" {
			fmt.Fprintf(p.out, "    instance: %s\n", r.InstanceID)
		}
		fmt.Fprintf(p.out, "    key:      %s\n", r.KeyPath)
	}
	fmt.Fprintln(p.out)
}

// PrintIssues prints validation issues. It returns true when there were none.
func (p *Printer) PrintIssues(res *validation.Result) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, issue := range res.Issues {
		style := warningStyle
		if issue.Severity == validation.SeverityError {
			style = errorStyle
		}
		label := style.Render(strings.ToUpper(string(issue.Severity)))
		if issue.Field != "" {
			fmt.Fprintf(p.out, "[%s] %s: %s (%s)\n", label, issue.File, issue.Message, issue.Field)
		} else {
			fmt.Fprintf(p.out, "[%s] %s: %s\n", label, issue.File, issue.Message)
		}
	}
	return len(res.Issues) == 0
}

// PrintDoctor prints dependency check groups.
func (p *Printer) PrintDoctor(groups []doctor.CheckGroup) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, titleStyle.Render("amify doctor"))
	for _, g := range groups {
		fmt.Fprintln(p.out, subtitleStyle.Render(g.Name))
		for _, c := range g.Checks {
			fmt.Fprintf(p.out, "  %s %-18s %s\n", statusIcon(c.Status), c.Name, dimStyle.Render(c.Message))
			if c.Status != doctor.StatusOK && c.FixCommand != nil {
				fmt.Fprintf(p.out, "      %s %s\n", dimStyle.Render("fix:"), c.FixCommand.Command)
			}
		}
		fmt.Fprintln(p.out)
	}

	summary := doctor.GetSummary(groups)
	fmt.Fprintf(p.out, "%s  %s  %s  %s\n",
		successStyle.Render(fmt.Sprintf("%d ok", summary.OK)),
		errorStyle.Render(fmt.Sprintf("%d missing", summary.Missing)),
		errorStyle.Render(fmt.Sprintf("%d errors", summary.Errors)),
		warningStyle.Render(fmt.Sprintf("%d warnings", summary.Warnings)))
}

func statusIcon(s doctor.CheckStatus) string {
	switch s {
	case doctor.StatusOK:
		return successStyle.Render("✓")
	case doctor.StatusWarning:
		return warningStyle.Render("!")
	default:
		return errorStyle.Render("✗")
	}
}

// PrintImages prints a table of amify-built images.
func (p *Printer) PrintImages(images []cloud.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(images) == 0 {
		fmt.Fprintln(p.out, dimStyle.Render("No images found."))
		return
	}

	rows := make([][]string, 0, len(images))
	for _, img := range images {
		rows = append(rows, []string{
			img.ID,
			img.Name,
			img.State,
			FormatTimeAgo(img.CreationDate),
			shortBuildID(img.Tags[cloud.TagBuildID]),
		})
	}
	fmt.Fprintln(p.out, newTable([]string{"IMAGE", "NAME", "STATE", "CREATED", "BUILD"}, rows))
}

// PrintHistory prints a table of past builds.
func (p *Printer) PrintHistory(records []history.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(records) == 0 {
		fmt.Fprintln(p.out, dimStyle.Render("No builds recorded yet."))
		return
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			shortBuildID(r.ID),
			r.Name,
			r.Status(),
			FormatTimeAgo(r.StartedAt),
			r.Duration.Round(time.Second).String(),
			imagesList(r.Images),
		})
	}
	fmt.Fprintln(p.out, newTable([]string{"ID", "NAME", "STATUS", "STARTED", "DURATION", "IMAGES"}, rows))
}

// PrintRecord prints the details of one build.
func (p *Printer) PrintRecord(r history.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Build ID:   %s\n", r.ID)
	fmt.Fprintf(p.out, "Name:       %s\n", r.Name)
	fmt.Fprintf(p.out, "Status:     %s\n", r.Status())
	if r.AMIName != "" {
		fmt.Fprintf(p.out, "AMI Name:   %s\n", r.AMIName)
	}
	fmt.Fprintf(p.out, "Region:     %s\n", r.Region)
	if r.SourceAMI != "" {
		fmt.Fprintf(p.out, "Source AMI: %s\n", r.SourceAMI)
	}
	if r.File != "" {
		fmt.Fprintf(p.out, "File:       %s\n", r.File)
	}
	fmt.Fprintf(p.out, "Started:    %s\n", r.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(p.out, "Duration:   %s\n", r.Duration.Round(time.Second))
	for _, region := range slices.Sorted(maps.Keys(r.Images)) {
		fmt.Fprintf(p.out, "Image:      %s %s\n", region, r.Images[region])
	}
	if r.Error != "" {
		fmt.Fprintf(p.out, "Error:      %s\n", r.Error)
	}
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		BorderLeft(false).
		BorderRight(false).
		BorderTop(false).
		BorderBottom(false).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func imagesList(images map[string]string) string {
	parts := make([]string, 0, len(images))
	for _, region := range slices.Sorted(maps.Keys(images)) {
		parts = append(parts, region+"="+images[region])
	}
	return strings.Join(parts, " ")
}

func shortBuildID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
