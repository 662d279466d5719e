package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testbot/pkg/models"
)

func TestSetup_LinuxPrependsBinAndLib(t *testing.T) {
	env, err := Setup("linux", []string{"PATH=/usr/bin", "HOME=/home/ci"}, "/opt/infini")
	require.NoError(t, err)

	assert.Equal(t, "/opt/infini", env.Root)
	path, _ := env.Lookup("PATH")
	assert.Equal(t, "/opt/infini/bin:/usr/bin", path)
	lib, _ := env.Lookup("LD_LIBRARY_PATH")
	assert.Equal(t, "/opt/infini/lib", lib)
	root, _ := env.Lookup(RootVar)
	assert.Equal(t, "/opt/infini", root)
}

func TestSetup_DefaultsToHomeInfini(t *testing.T) {
	env, err := Setup("linux", []string{"PATH=/usr/bin", "HOME=/home/ci"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/home/ci/.infini", env.Root)
}

func TestSetup_UsesRootFromEnvironment(t *testing.T) {
	env, err := Setup("linux", []string{"PATH=/usr/bin", "INFINI_ROOT=~/build", "HOME=/home/ci"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/home/ci/build", env.Root)
}

func TestSetup_DoesNotDuplicateEntries(t *testing.T) {
	in := []string{"PATH=/usr/bin:/opt/infini/bin", "LD_LIBRARY_PATH=/opt/infini/lib"}
	env, err := Setup("linux", in, "/opt/infini")
	require.NoError(t, err)

	path, _ := env.Lookup("PATH")
	assert.Equal(t, "/usr/bin:/opt/infini/bin", path)
	lib, _ := env.Lookup("LD_LIBRARY_PATH")
	assert.Equal(t, "/opt/infini/lib", lib)
	assert.Equal(t, "PATH=/usr/bin:/opt/infini/bin", in[0], "input must not be modified")
}

func TestSetup_WindowsUsesSemicolonAndNoLibPath(t *testing.T) {
	env, err := Setup("windows", []string{`Path=C:\Windows`, `USERPROFILE=C:\Users\ci`}, "")
	require.NoError(t, err)

	assert.Equal(t, `C:\Users\ci\.infini`, env.Root)
	path, _ := env.Lookup("PATH")
	assert.Equal(t, `C:\Users\ci\.infini\bin;C:\Windows`, path)
	_, ok := env.Lookup("LD_LIBRARY_PATH")
	assert.False(t, ok)
	assert.Contains(t, env.Env, `Path=C:\Users\ci\.infini\bin;C:\Windows`)
}

func TestSetup_RejectsUnsupportedPlatform(t *testing.T) {
	_, err := Setup("darwin", nil, "/opt/infini")
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "platform", cfgErr.Field)
}
