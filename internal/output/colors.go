package output

import (
	"github.com/fatih/color"

	"github.com/wesleyorama2/pipestress/internal/stress"
)

// ColorScheme defines the colors used for different elements of a report
type ColorScheme struct {
	Title    *color.Color
	Scenario *color.Color
	Passed   *color.Color
	Failed   *color.Color
	Aborted  *color.Color
	Label    *color.Color
	Value    *color.Color
	Rule     *color.Color
	Dim      *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:    color.New(color.FgCyan, color.Bold),
		Scenario: color.New(color.Bold),
		Passed:   color.New(color.FgGreen, color.Bold),
		Failed:   color.New(color.FgRed, color.Bold),
		Aborted:  color.New(color.FgYellow, color.Bold),
		Label:    color.New(color.FgBlue),
		Value:    color.New(color.FgCyan),
		Rule:     color.New(color.FgMagenta),
		Dim:      color.New(color.Faint),
	}
	// Colors are decided by the reporter, not by whether os.Stdout is a TTY.
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Scenario, s.Passed, s.Failed, s.Aborted, s.Label, s.Value, s.Rule, s.Dim}
}

// State returns the color for a run state
func (s *ColorScheme) State(state stress.RunState) *color.Color {
	switch state {
	case stress.StatePassed:
		return s.Passed
	case stress.StateAborted:
		return s.Aborted
	default:
		return s.Failed
	}
}

// StateIcon returns the symbol for a run state
func StateIcon(state stress.RunState) string {
	switch state {
	case stress.StatePassed:
		return "✓"
	case stress.StateAborted:
		return "⚠"
	default:
		return "✗"
	}
}
