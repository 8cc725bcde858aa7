// Package ui reports script progress to the user.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Progress bar budget shared by the installer and the update commands.
const (
	// VerificationProgressFraction is the part of the bar taken by package
	// verification before the script runs. Script progress is scaled into
	// the remainder.
	VerificationProgressFraction = 0.25
	VerificationProgressTime     = 60

	// Default budgets used when a script never called show_progress.
	DefaultFilesProgressFraction = 0.4
	DefaultImageProgressFraction = 0.1
)

const barWidth = 40

// Progress receives user-facing messages and progress updates.
type Progress interface {
	// Print shows a message to the user.
	Print(format string, args ...any)
	// ShowProgress dedicates the next fraction of the bar to an operation
	// expected to take about seconds.
	ShowProgress(fraction float64, seconds int)
	// SetProgress reports how much of the current operation is done, from
	// 0 to 1.
	SetProgress(fraction float64)
}

// Console writes messages to w and, when w is a terminal, redraws a
// progress bar after each update.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	start float64 // where the current operation's scope begins
	size  float64 // length of the current scope
	pos   float64 // progress within the scope
}

// NewConsole creates a console on w.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w}
	if f, ok := w.(*os.File); ok {
		c.tty = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// Print implements Progress.
func (c *Console) Print(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty {
		fmt.Fprint(c.w, "\r\033[K")
	}
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	io.WriteString(c.w, msg)
	c.draw()
}

// ShowProgress implements Progress. The previous scope is considered
// complete.
func (c *Console) ShowProgress(fraction float64, seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start += c.size
	c.size = clamp(fraction)
	c.pos = 0
	c.draw()
}

// SetProgress implements Progress.
func (c *Console) SetProgress(fraction float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = clamp(fraction)
	c.draw()
}

// Fraction returns the overall position of the bar.
func (c *Console) Fraction() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fraction()
}

func (c *Console) fraction() float64 {
	return clamp(c.start + c.size*c.pos)
}

func (c *Console) draw() {
	if !c.tty {
		return
	}
	f := c.fraction()
	filled := int(f * barWidth)
	fmt.Fprintf(c.w, "\r[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(" ", barWidth-filled), int(f*100))
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// ShowCall is one recorded ShowProgress call.
type ShowCall struct {
	Fraction float64
	Seconds  int
}

// Recorder is a Progress that remembers everything it was told.
type Recorder struct {
	mu    sync.Mutex
	Lines []string
	Shown []ShowCall
	Set   []float64
}

func (r *Recorder) Print(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
}

func (r *Recorder) ShowProgress(fraction float64, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Shown = append(r.Shown, ShowCall{fraction, seconds})
}

func (r *Recorder) SetProgress(fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Set = append(r.Set, fraction)
}

// Output returns the printed lines joined by newlines.
func (r *Recorder) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.Lines, "\n")
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines, r.Shown, r.Set = nil, nil, nil
}
