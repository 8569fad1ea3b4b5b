package composebox

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

type bannerKind int

const (
	bannerProgress bannerKind = iota
	bannerError
)

type banner struct {
	kind    bannerKind
	name    string
	percent int
	message string
	seq     int
}

// Banners renders upload banners as lines on a writer. Styling is applied
// only when the writer is a terminal.
type Banners struct {
	mu      sync.Mutex
	out     io.Writer
	styled  bool
	seq     int
	entries map[string]*banner

	progressStyle lipgloss.Style
	errorStyle    lipgloss.Style
	mutedStyle    lipgloss.Style
}

// NewBanners returns Banners writing to out.
func NewBanners(out io.Writer) *Banners {
	return &Banners{
		out:           out,
		styled:        isTerminal(out),
		entries:       make(map[string]*banner),
		progressStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		errorStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		mutedStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (b *Banners) render(style lipgloss.Style, s string) string {
	if !b.styled {
		return s
	}
	return style.Render(s)
}

// ShowProgress implements upload.Banners.
func (b *Banners) ShowProgress(key, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.entries[key] = &banner{kind: bannerProgress, name: name, seq: b.seq}
	fmt.Fprintln(b.out, b.render(b.progressStyle, fmt.Sprintf("Uploading %s… %s", name, progressBar(0))))
}

// SetProgress implements upload.Banners. Only changes are written.
func (b *Banners) SetProgress(key string, percent int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.kind != bannerProgress || e.percent == percent {
		return
	}
	e.percent = percent
	fmt.Fprintln(b.out, b.render(b.progressStyle, fmt.Sprintf("Uploading %s… %s", e.name, progressBar(percent))))
}

// ShowError implements upload.Banners.
func (b *Banners) ShowError(key, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.entries[key] = &banner{kind: bannerError, message: message, seq: b.seq}
	fmt.Fprintln(b.out, b.render(b.errorStyle, "✗ "+message))
}

// Remove implements upload.Banners.
func (b *Banners) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Notice writes a transient one-line notice.
func (b *Banners) Notice(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintln(b.out, b.render(b.mutedStyle, message))
}

// Visible returns the banners still on screen, oldest first.
func (b *Banners) Visible() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]*banner, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.kind == bannerError {
			lines = append(lines, "✗ "+e.message)
			continue
		}
		lines = append(lines, fmt.Sprintf("Uploading %s… %s", e.name, progressBar(e.percent)))
	}
	return lines
}

const barWidth = 20

func progressBar(percent int) string {
	filled := percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), percent)
}
