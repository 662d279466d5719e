package models

import (
	"fmt"
	"strings"
)

// NotifierConfig selects and configures the notification channel of a target.
type NotifierConfig struct {
	Type string `json:"type" yaml:"type"`
	URL  string `json:"url" yaml:"url"`
}

// NativeCycle describes a native component that is built, installed and
// executed as three consecutive phases.
type NativeCycle struct {
	Build   string `json:"build" yaml:"build"`
	Install string `json:"install" yaml:"install"`
	Run     string `json:"run" yaml:"run"`
}

// PhaseSpec is the configured form of one test suite phase. The command may
// contain a {flags} placeholder that is replaced by the target's variant
// flags. A phase with a Cycle expands into build, install and run phases.
type PhaseSpec struct {
	ID                string       `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	Command           string       `json:"command" yaml:"command"`
	WindowsCommand    string       `json:"windows_command,omitempty" yaml:"windows_command,omitempty"`
	MaxTrials         int          `json:"max_trials,omitempty" yaml:"max_trials,omitempty"`
	ContinueOnFailure bool         `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	Cycle             *NativeCycle `json:"cycle,omitempty" yaml:"cycle,omitempty"`
}

// RunTarget is one configured (project, environment) pair to be tested.
// Targets are loaded once at startup and never modified.
type RunTarget struct {
	ProjectName     string          `json:"project" yaml:"project"`
	EnvironmentName string          `json:"env_name" yaml:"env_name"`
	RepositoryURL   string          `json:"repo_url" yaml:"repo_url"`
	Branches        []string        `json:"branches" yaml:"branches"`
	VariantFlags    string          `json:"xmake_config_flags" yaml:"xmake_config_flags"`
	Notifier        *NotifierConfig `json:"notifier,omitempty" yaml:"notifier,omitempty"`
	Phases          []PhaseSpec     `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// Validate checks the fields every target must carry and that a working copy
// directory can be derived from its repository URL.
func (t RunTarget) Validate() error {
	switch {
	case t.ProjectName == "":
		return &ConfigurationError{Field: "project", Reason: "is required"}
	case t.EnvironmentName == "":
		return &ConfigurationError{Field: "env_name", Reason: "is required"}
	case t.RepositoryURL == "":
		return &ConfigurationError{Field: "repo_url", Reason: "is required"}
	}
	for i, b := range t.Branches {
		if b == "" {
			return &ConfigurationError{Field: "branches", Reason: fmt.Sprintf("entry %d is empty", i)}
		}
	}
	_, err := ProjectDirName(t.RepositoryURL)
	return err
}

// ProjectDirName derives the working copy directory name from the final
// path segment of a repository URL, which must end in ".git".
func ProjectDirName(repoURL string) (string, error) {
	trimmed := strings.TrimRight(repoURL, "/")
	name := trimmed[strings.LastIndexAny(trimmed, "/:")+1:]
	if !strings.HasSuffix(name, ".git") {
		return "", &ConfigurationError{Field: "repo_url", Reason: fmt.Sprintf("%q must end with .git", repoURL)}
	}
	name = strings.TrimSuffix(name, ".git")
	if name == "" {
		return "", &ConfigurationError{Field: "repo_url", Reason: fmt.Sprintf("%q has an empty repository name", repoURL)}
	}
	return name, nil
}
