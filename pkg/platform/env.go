// Package platform prepares the environment that test commands run in.
package platform

import (
	"os"
	"strings"

	"testbot/pkg/models"
)

// RootVar names the variable holding the install root of built artifacts.
const RootVar = "INFINI_ROOT"

// Environment is the resolved command environment for one process.
type Environment struct {
	GOOS string
	Root string
	// Env is a complete environment in os.Environ form, ready for exec.Cmd.
	Env []string
}

// Setup resolves the install root and returns environ extended so that the
// root's bin directory is on PATH and, on Linux, its lib directory is on
// LD_LIBRARY_PATH. root overrides INFINI_ROOT; when both are empty the root
// defaults to ~/.infini. Entries already present are not added again.
// environ is copied, never modified.
func Setup(goos string, environ []string, root string) (*Environment, error) {
	var sep string
	switch goos {
	case "windows":
		sep = ";"
	case "linux":
		sep = ":"
	default:
		return nil, &models.ConfigurationError{Field: "platform", Reason: "unsupported platform " + goos}
	}

	env := newEnvMap(goos, environ)
	if root == "" {
		root = env.get(RootVar)
	}
	if root == "" {
		home, err := homeDir(goos, env)
		if err != nil {
			return nil, &models.ConfigurationError{Field: RootVar, Reason: "cannot resolve home directory: " + err.Error()}
		}
		root = joinPath(goos, home, ".infini")
	}
	root = expandHome(goos, env, root)

	env.set(RootVar, root)
	env.prepend("PATH", joinPath(goos, root, "bin"), sep)
	if goos == "linux" {
		env.prepend("LD_LIBRARY_PATH", joinPath(goos, root, "lib"), sep)
	}

	return &Environment{GOOS: goos, Root: root, Env: env.list()}, nil
}

// Lookup returns the value of key in the resolved environment.
func (e *Environment) Lookup(key string) (string, bool) {
	v := newEnvMap(e.GOOS, e.Env).get(key)
	return v, v != ""
}

func joinPath(goos, root, elem string) string {
	if goos == "windows" {
		return strings.TrimRight(root, `\/`) + `\` + elem
	}
	return strings.TrimRight(root, "/") + "/" + elem
}

func homeDir(goos string, env *envMap) (string, error) {
	key := "HOME"
	if goos == "windows" {
		key = "USERPROFILE"
	}
	if h := env.get(key); h != "" {
		return h, nil
	}
	return os.UserHomeDir()
}

func expandHome(goos string, env *envMap, path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := homeDir(goos, env)
	if err != nil {
		return path
	}
	return home + path[1:]
}

// envMap keeps variable order stable and compares keys case-insensitively
// on Windows.
type envMap struct {
	fold  bool
	keys  []string
	value map[string]string
	name  map[string]string
}

func newEnvMap(goos string, environ []string) *envMap {
	m := &envMap{
		fold:  goos == "windows",
		value: make(map[string]string),
		name:  make(map[string]string),
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m.set(k, v)
	}
	return m
}

func (m *envMap) norm(k string) string {
	if m.fold {
		return strings.ToUpper(k)
	}
	return k
}

func (m *envMap) get(k string) string {
	return m.value[m.norm(k)]
}

func (m *envMap) set(k, v string) {
	n := m.norm(k)
	if _, ok := m.value[n]; !ok {
		m.keys = append(m.keys, n)
		m.name[n] = k
	}
	m.value[n] = v
}

func (m *envMap) prepend(k, entry, sep string) {
	current := m.get(k)
	for _, e := range strings.Split(current, sep) {
		if e == entry {
			return
		}
	}
	if current == "" {
		m.set(k, entry)
		return
	}
	m.set(k, entry+sep+current)
}

func (m *envMap) list() []string {
	out := make([]string, 0, len(m.keys))
	for _, n := range m.keys {
		out = append(out, m.name[n]+"="+m.value[n])
	}
	return out
}
