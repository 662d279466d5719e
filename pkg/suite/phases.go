package suite

import (
	"fmt"

	"testbot/pkg/models"
)

// FlagsPlaceholder is replaced by the target's variant flags.
const FlagsPlaceholder = "{flags}"

// Phase is one build or test step of a sequence.
type Phase struct {
	ID             string // artifact identifier, unique within a sequence
	Name           string // label in the result log
	Command        string
	MaxTrials      int
	AbortOnFailure bool
}

// DefaultPhaseSpecs is the sequence used when a target declares no phases:
// install, the Python operator tests, the GGUF format tests and one native
// build-install-run cycle.
func DefaultPhaseSpecs() []models.PhaseSpec {
	return []models.PhaseSpec{
		{
			ID:             "install",
			Name:           "Install",
			Command:        "./scripts/install.sh . {flags}",
			WindowsCommand: `.\scripts\install.bat . {flags}`,
			MaxTrials:      2,
		},
		{
			ID:      "python-test",
			Name:    "Python operator tests",
			Command: "python scripts/python_test.py {flags}",
		},
		{
			ID:      "gguf-test",
			Name:    "GGUF operator tests",
			Command: "python scripts/gguf_test.py {flags}",
		},
		{
			ID:   "infiniop-test",
			Name: "infiniop-test",
			Cycle: &models.NativeCycle{
				Build:   "xmake build infiniop-test",
				Install: "xmake install infiniop-test",
				Run:     "infiniop-test --help",
			},
		},
	}
}

// BuildPhases turns configured phase specs into an ordered phase list for
// the given operating system. An empty spec list selects the defaults.
func BuildPhases(specs []models.PhaseSpec, goos string) ([]Phase, error) {
	if len(specs) == 0 {
		specs = DefaultPhaseSpecs()
	}

	seen := make(map[string]bool)
	var phases []Phase
	add := func(p Phase) error {
		if seen[p.ID] {
			return &models.ConfigurationError{Field: "phases", Reason: fmt.Sprintf("duplicate phase id %q", p.ID)}
		}
		seen[p.ID] = true
		phases = append(phases, p)
		return nil
	}

	for i, spec := range specs {
		if spec.ID == "" {
			return nil, &models.ConfigurationError{Field: fmt.Sprintf("phases[%d].id", i), Reason: "is required"}
		}
		name := spec.Name
		if name == "" {
			name = spec.ID
		}
		trials := spec.MaxTrials
		if trials < 1 {
			trials = 1
		}

		if c := spec.Cycle; c != nil {
			if c.Build == "" || c.Install == "" || c.Run == "" {
				return nil, &models.ConfigurationError{
					Field:  fmt.Sprintf("phases[%d].cycle", i),
					Reason: "build, install and run are all required",
				}
			}
			steps := []struct{ suffix, cmd string }{
				{"build", c.Build},
				{"install", c.Install},
				{"run", c.Run},
			}
			for _, st := range steps {
				if err := add(Phase{
					ID:             spec.ID + "-" + st.suffix,
					Name:           name + " " + st.suffix,
					Command:        st.cmd,
					MaxTrials:      trials,
					AbortOnFailure: !spec.ContinueOnFailure,
				}); err != nil {
					return nil, err
				}
			}
			continue
		}

		cmd := spec.Command
		if goos == "windows" && spec.WindowsCommand != "" {
			cmd = spec.WindowsCommand
		}
		if cmd == "" {
			return nil, &models.ConfigurationError{Field: fmt.Sprintf("phases[%d].command", i), Reason: "is required"}
		}
		if err := add(Phase{
			ID:             spec.ID,
			Name:           name,
			Command:        cmd,
			MaxTrials:      trials,
			AbortOnFailure: !spec.ContinueOnFailure,
		}); err != nil {
			return nil, err
		}
	}
	return phases, nil
}
