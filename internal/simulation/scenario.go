package simulation

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// builtins holds the scenarios shipped with the binary.
//
//go:embed scenarios/*.txt
var builtins embed.FS

// Scenario is a named REPL script.
type Scenario struct {
	Name  string
	Lines []string
}

// ParseScenario reads a script, one REPL line per line. Lines are kept
// verbatim; the interpreter skips blanks and comments itself.
func ParseScenario(name string, r io.Reader) (Scenario, error) {
	sc := Scenario{Name: name}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sc.Lines = append(sc.Lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Scenario{}, fmt.Errorf("reading scenario %s: %w", name, err)
	}
	return sc, nil
}

// LoadScenario reads a script file. The scenario is named after the file.
func LoadScenario(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("opening scenario: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseScenario(name, f)
}

// Builtin returns a bundled scenario by name.
func Builtin(name string) (Scenario, error) {
	f, err := builtins.Open("scenarios/" + name + ".txt")
	if err != nil {
		return Scenario{}, fmt.Errorf("unknown builtin scenario %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	defer f.Close()
	return ParseScenario(name, f)
}

// BuiltinNames lists the bundled scenarios in sorted order.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(builtins, "scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(names)
	return names
}

// Step is one script line and what the interpreter printed for it.
type Step struct {
	Line   int // 1-based line number in the script
	Input  string
	Output string
}

// Transcript is the full run of a scenario on one backend.
type Transcript struct {
	Backend string
	Steps   []Step
}

// Output joins every step's output in order.
func (t Transcript) Output() string {
	var b strings.Builder
	for _, s := range t.Steps {
		b.WriteString(s.Output)
	}
	return b.String()
}

// SimulationResult collects one transcript per backend, in backend order.
type SimulationResult struct {
	Scenario    string
	Transcripts []Transcript
}
