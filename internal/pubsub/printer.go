// Package pubsub drives a track with demonstration traffic and prints what a
// subscriber receives.
package pubsub

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
)

const rowFormat = "%-10v| %-10v| %-10v| %-10v"

// Printer writes demo output lines. It is safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	header lipgloss.Style
	title  lipgloss.Style
}

// NewPrinter styles output for w. Styling degrades to plain text when w is
// not a color terminal.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:      w,
		header: r.NewStyle().Foreground(accentColor).Bold(true),
		title:  r.NewStyle().Foreground(dimColor),
	}
}

// Title prints a status line such as "producing group 3".
func (p *Printer) Title(format string, args ...any) {
	p.line(p.title.Render(fmt.Sprintf(format, args...)))
}

// Header prints the object table header.
func (p *Printer) Header() {
	p.line(p.header.Render(fmt.Sprintf(rowFormat, "group_id", "object_id", "priority", "payload len")))
}

// Object prints one object table row.
func (p *Printer) Object(groupID, objectID, priority uint64, size int) {
	p.line(fmt.Sprintf(rowFormat, groupID, objectID, priority, size))
}

// Text prints a payload as text.
func (p *Printer) Text(payload ...[]byte) {
	var s string
	for _, b := range payload {
		s += string(b)
	}
	p.line(s)
}

func (p *Printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, s)
}
