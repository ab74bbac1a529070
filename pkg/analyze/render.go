package analyze

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

const rule = "============================================================"

// Render writes the human-readable report.
func (s *Summary) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, titleStyle.Render(fmt.Sprintf("Analysis of Scraped Data in '%s'", s.Dir)))
	fmt.Fprintln(&b, rule)

	for _, f := range s.Files {
		fmt.Fprintf(&b, "\n%s\n", filepath.Base(f.Path))
		fmt.Fprintf(&b, "   Projects in file: %s\n", humanize.Comma(int64(f.Projects)))
		if f.TotalFiles > 0 {
			fmt.Fprintln(&b, mutedStyle.Render(fmt.Sprintf("   File %d of %d", f.FileNumber, f.TotalFiles)))
		}
	}
	for _, fe := range s.FileErrors {
		fmt.Fprintf(&b, "\n%s\n", filepath.Base(fe.Path))
		fmt.Fprintln(&b, warnStyle.Render(fmt.Sprintf("   Error processing file: %v", fe.Err)))
	}

	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, headingStyle.Render("SUMMARY STATISTICS"), rule)
	fmt.Fprintf(&b, "\nTotal JSON files: %s\n", humanize.Comma(int64(len(s.Files)+len(s.FileErrors))))
	fmt.Fprintf(&b, "Total projects: %s\n", humanize.Comma(int64(s.TotalProjects)))
	fmt.Fprintf(&b, "Total cost: ₱%s\n", humanize.FormatFloat("#,###.##", s.TotalCost))

	fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("By Status:"))
	for _, c := range s.Statuses() {
		fmt.Fprintf(&b, "   %s: %s (%.1f%%)\n", c.Name, humanize.Comma(int64(c.Count)), s.Share(c.Count))
	}

	fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("Top 10 Regions:"))
	for _, c := range s.Regions(10) {
		fmt.Fprintf(&b, "   %s: %s (%.1f%%)\n", c.Name, humanize.Comma(int64(c.Count)), s.Share(c.Count))
	}

	fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("Top 10 Implementing Offices:"))
	for _, c := range s.Offices(10) {
		fmt.Fprintf(&b, "   %s: %s\n", c.Name, humanize.Comma(int64(c.Count)))
	}

	fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("Top 5 Sources of Funds:"))
	for _, c := range s.Funds(5) {
		fmt.Fprintf(&b, "   %s: %s\n", c.Name, humanize.Comma(int64(c.Count)))
	}

	fmt.Fprintf(&b, "\n%s\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}
