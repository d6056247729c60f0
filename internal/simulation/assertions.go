package simulation

import (
	"fmt"
	"strings"
	"testing"
)

// Divergence is the first step at which two transcripts disagree.
type Divergence struct {
	Line        int
	Input       string
	Left, Right string // backend names
	LeftOutput  string
	RightOutput string
}

func (d *Divergence) String() string {
	return fmt.Sprintf("line %d %q:\n  %s: %q\n  %s: %q",
		d.Line, d.Input, d.Left, d.LeftOutput, d.Right, d.RightOutput)
}

// Diff compares two transcripts step by step and returns the first
// divergence, or nil when they match.
func Diff(a, b Transcript) *Divergence {
	n := max(len(a.Steps), len(b.Steps))
	for i := range n {
		var sa, sb Step
		if i < len(a.Steps) {
			sa = a.Steps[i]
		}
		if i < len(b.Steps) {
			sb = b.Steps[i]
		}
		if sa.Input == sb.Input && sa.Output == sb.Output {
			continue
		}
		d := &Divergence{
			Line:        max(sa.Line, sb.Line),
			Input:       sa.Input,
			Left:        a.Backend,
			Right:       b.Backend,
			LeftOutput:  sa.Output,
			RightOutput: sb.Output,
		}
		if d.Input == "" {
			d.Input = sb.Input
		}
		return d
	}
	return nil
}

// Divergences diffs every transcript against the first one.
func (r SimulationResult) Divergences() []*Divergence {
	if len(r.Transcripts) < 2 {
		return nil
	}
	var out []*Divergence
	base := r.Transcripts[0]
	for _, t := range r.Transcripts[1:] {
		if d := Diff(base, t); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Transcript returns the named backend's transcript.
func (r SimulationResult) Transcript(backend string) (Transcript, bool) {
	for _, t := range r.Transcripts {
		if t.Backend == backend {
			return t, true
		}
	}
	return Transcript{}, false
}

// AssertNoDivergence fails the test if any backend printed something
// different from the first.
func AssertNoDivergence(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, d := range result.Divergences() {
		t.Errorf("AssertNoDivergence: %s: %s", result.Scenario, d)
	}
}

// AssertOutputContains asserts that every backend printed want somewhere.
func AssertOutputContains(t *testing.T, result SimulationResult, want string) {
	t.Helper()
	for _, tr := range result.Transcripts {
		if !strings.Contains(tr.Output(), want) {
			t.Errorf("AssertOutputContains: %s on %s: output missing %q", result.Scenario, tr.Backend, want)
		}
	}
}

// AssertNoErrors asserts that no step on any backend printed an error line.
func AssertNoErrors(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, tr := range result.Transcripts {
		for _, s := range tr.Steps {
			if strings.HasPrefix(s.Output, "error: ") || strings.Contains(s.Output, "\nerror: ") {
				t.Errorf("AssertNoErrors: %s on %s line %d %q: %s", result.Scenario, tr.Backend, s.Line, s.Input, strings.TrimSpace(s.Output))
			}
		}
	}
}
