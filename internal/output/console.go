// Package output renders scenario results for people and machines.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/pipestress/internal/metrics"
	"github.com/wesleyorama2/pipestress/internal/stress"
)

// Reporter writes the results of an Execute call.
type Reporter interface {
	Report(target string, results map[string]*stress.ScenarioResult) error
}

const ruleWidth = 60

// ConsoleConfig contains configuration for ConsoleReporter.
type ConsoleConfig struct {
	Writer io.Writer

	// Verbose adds per-request latencies and the failures of every run
	Verbose bool

	NoColor     bool
	ForceColors bool
}

// ConsoleReporter prints a human-readable summary, colored when the writer
// is a terminal.
type ConsoleReporter struct {
	w       io.Writer
	verbose bool
	colors  *ColorScheme
}

// NewConsoleReporter creates a console reporter.
func NewConsoleReporter(config ConsoleConfig) *ConsoleReporter {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	useColors := !config.NoColor && (config.ForceColors || (isTerminal(config.Writer) && supportsColors()))
	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
	}

	return &ConsoleReporter{
		w:       config.Writer,
		verbose: config.Verbose,
		colors:  colors,
	}
}

// Report prints one block per scenario, in name order, and a closing tally.
func (c *ConsoleReporter) Report(target string, results map[string]*stress.ScenarioResult) error {
	p := &printer{w: c.w}
	cs := c.colors

	line := strings.Repeat("━", ruleWidth)
	p.println(cs.Title.Sprint(line))
	p.printf("%s %s\n", cs.Title.Sprint("pipestress"), cs.Value.Sprint(target))
	p.println(cs.Title.Sprint(line))

	var passed, failed, aborted int
	for _, name := range sortedNames(results) {
		r := results[name]
		switch r.State {
		case stress.StatePassed:
			passed++
		case stress.StateAborted:
			aborted++
		default:
			failed++
		}
		c.scenario(p, r)
	}

	p.println(cs.Title.Sprint(line))
	tally := fmt.Sprintf("%d scenarios: %d passed, %d failed, %d aborted", len(results), passed, failed, aborted)
	if failed+aborted == 0 {
		p.println(cs.Passed.Sprint(tally))
	} else {
		p.println(cs.Failed.Sprint(tally))
	}
	return p.err
}

func (c *ConsoleReporter) scenario(p *printer, r *stress.ScenarioResult) {
	cs := c.colors
	state := cs.State(r.State)

	p.printf("\n%s %s %s %s\n",
		state.Sprint(StateIcon(r.State)),
		cs.Scenario.Sprint(r.Name),
		state.Sprint(r.State),
		cs.Dim.Sprintf("(%s)", formatDuration(r.Duration)),
	)

	n := r.Counts
	runs := fmt.Sprintf("%d passed, %d failed, %d aborted", n.Passed, n.Failed, n.Aborted)
	if n.Skipped > 0 {
		runs += fmt.Sprintf(", %d skipped", n.Skipped)
	}
	p.printf("  %s %s %s\n", cs.Label.Sprint("Runs:     "), cs.Value.Sprint(formatNumber(int64(n.Runs))), runs)
	p.printf("  %s %s / %s\n", cs.Label.Sprint("Responses:"),
		cs.Value.Sprint(formatNumber(int64(n.Responses))), formatNumber(int64(n.Requests)))

	if m := r.Metrics; m != nil && m.Responses > 0 {
		p.printf("  %s %s\n", cs.Label.Sprint("Latency:  "), latencyLine(m.Latency))
		p.printf("  %s %s sent, %s received\n", cs.Label.Sprint("Bytes:    "),
			formatNumber(m.BytesSent), formatNumber(m.BytesRecv))

		if c.verbose && len(m.Requests) > 0 {
			p.printf("  %s\n", cs.Label.Sprint("Requests:"))
			names := make([]string, 0, len(m.Requests))
			for name := range m.Requests {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				p.printf("    %-28s %s\n", name, latencyLine(m.Requests[name]))
			}
		}
	}

	if f := r.FirstFailure; f != nil {
		p.printf("  %s worker %d, iteration %d\n", cs.Failed.Sprint("First failure:"), f.Worker, f.Iteration)
		if f.Request != nil {
			p.printf("    %s %s\n", cs.Label.Sprint("request: "), f.Request.DisplayName())
		}
		p.printf("    %s %s\n", cs.Label.Sprint("rule:    "), cs.Rule.Sprint(f.Rule))
		p.printf("    %s %s\n", cs.Label.Sprint("reason:  "), f.Reason)
		if rec := f.Record; rec != nil {
			p.printf("    %s %s on conn %d, group %d position %d\n", cs.Label.Sprint("response:"),
				rec.Status, rec.ConnID, rec.Group, rec.Seq)
		}
	}

	if c.verbose {
		for _, run := range r.Runs {
			if run.State == stress.StatePassed {
				continue
			}
			p.printf("    %s worker %d iteration %d %s\n",
				cs.State(run.State).Sprint(StateIcon(run.State)), run.Worker, run.Iteration, run.State)
			if run.Err != nil {
				p.printf("      %s\n", run.Err)
			}
			for _, f := range run.Failures {
				p.printf("      %s\n", f.Error())
			}
		}
	}
}

func latencyLine(l metrics.LatencyStats) string {
	return fmt.Sprintf("p50 %s  p95 %s  p99 %s  max %s",
		formatDurationShort(l.P50), formatDurationShort(l.P95),
		formatDurationShort(l.P99), formatDurationShort(l.Max))
}

func sortedNames(results map[string]*stress.ScenarioResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

func (p *printer) println(s string) {
	p.printf("%s\n", s)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
