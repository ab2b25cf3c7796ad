package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

const DefaultMaxText = 160

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7c3aed"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	headingStyle = lipgloss.NewStyle().Bold(true)
)

// Summary is everything the reporter prints for one run.
type Summary struct {
	RunID        string
	Topic        string
	BaseFilename string
	Warnings     []string
	Plan         planner.Plan
	Result       executor.Result
}

// Reporter renders run summaries. It never mutates the summary.
type Reporter struct {
	MaxText int
}

func NewReporter(maxText int) *Reporter {
	if maxText <= 0 {
		maxText = DefaultMaxText
	}
	return &Reporter{MaxText: maxText}
}

func (r *Reporter) Write(w io.Writer, s Summary) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Newsletter run %s", s.RunID)))
	b.WriteString("\n")
	if s.Topic != "" {
		fmt.Fprintf(&b, "topic: %s\n", s.Topic)
	}
	if s.BaseFilename != "" {
		fmt.Fprintf(&b, "base filename: %s\n", s.BaseFilename)
	}

	if len(s.Warnings) > 0 {
		b.WriteString("\n" + headingStyle.Render("Warnings") + "\n")
		for _, w := range s.Warnings {
			b.WriteString(warnStyle.Render("! "+w) + "\n")
		}
	}

	b.WriteString("\n" + headingStyle.Render("Steps") + "\n")
	for _, id := range order(s) {
		entry, ok := s.Result.Entry(id)
		if !ok {
			fmt.Fprintf(&b, "  %-10s %-18s %s\n", id, "", dimStyle.Render("not run"))
			continue
		}
		fmt.Fprintf(&b, "  %-10s %-18s %s  %s\n", entry.NodeID, entry.Kind, status(entry.Outcome), r.artifact(entry))
		for _, note := range entry.Notes {
			b.WriteString("      " + dimStyle.Render("note: "+note) + "\n")
		}
	}

	if files := s.Result.Files(); len(files) > 0 {
		b.WriteString("\n" + headingStyle.Render("Files") + "\n")
		for _, f := range files {
			b.WriteString("  " + f + "\n")
		}
	}

	b.WriteString("\n" + headingStyle.Render("Final result") + "\n")
	if s.Result.FinalErr != "" {
		b.WriteString(failedStyle.Render(fmt.Sprintf("%s failed: %s", s.Result.FinalNodeID, s.Result.FinalErr)) + "\n")
	} else {
		b.WriteString(s.Result.Final.Value + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// order lists node ids in plan order, falling back to log order.
func order(s Summary) []string {
	if len(s.Plan.Nodes) > 0 {
		return s.Plan.IDs()
	}
	ids := make([]string, 0, len(s.Result.Log))
	for _, e := range s.Result.Log {
		ids = append(ids, e.NodeID)
	}
	return ids
}

func status(st planner.Status) string {
	switch st {
	case planner.StatusDone:
		return doneStyle.Render(string(st))
	case planner.StatusFailed:
		return failedStyle.Render(string(st))
	default:
		return dimStyle.Render(string(st))
	}
}

func (r *Reporter) artifact(e executor.LogEntry) string {
	if e.Outcome == planner.StatusFailed {
		return failedStyle.Render(e.Error)
	}
	switch e.Artifact.Type {
	case capability.ArtifactFile:
		return e.Artifact.Value
	default:
		return Truncate(e.Artifact.Value, r.MaxText)
	}
}

// Truncate flattens whitespace and cuts s to max runes.
func Truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
