package ui

import (
	"bytes"
	"math"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestConsoleNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Print("Copying files...\n")
	c.Print("Writing %s", "BOOT:")
	c.ShowProgress(0.5, 10)
	c.SetProgress(0.5)

	if got, want := buf.String(), "Copying files...\nWriting BOOT:\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsoleScopes(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	steps := []struct {
		name string
		do   func()
		want float64
	}{
		{"start", func() {}, 0},
		{"first scope", func() { c.ShowProgress(0.4, 0) }, 0},
		{"half of first", func() { c.SetProgress(0.5) }, 0.2},
		{"second scope", func() { c.ShowProgress(0.2, 0) }, 0.4},
		{"done second", func() { c.SetProgress(1) }, 0.6},
		{"clamped", func() { c.SetProgress(7) }, 0.6},
		{"overflow", func() { c.ShowProgress(0.9, 0); c.SetProgress(1) }, 1},
	}
	for _, s := range steps {
		s.do()
		if got := c.Fraction(); !near(got, s.want) {
			t.Errorf("%s: fraction = %v, want %v", s.name, got, s.want)
		}
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Print("Deleting files...\n")
	r.Print("Formatting %s...", "CACHE:")
	r.ShowProgress(DefaultFilesProgressFraction, 0)
	r.SetProgress(1)

	if got := r.Output(); got != "Deleting files...\nFormatting CACHE:..." {
		t.Errorf("output = %q", got)
	}
	if len(r.Shown) != 1 || r.Shown[0] != (ShowCall{0.4, 0}) {
		t.Errorf("shown = %v", r.Shown)
	}
	if len(r.Set) != 1 || r.Set[0] != 1 {
		t.Errorf("set = %v", r.Set)
	}
}
