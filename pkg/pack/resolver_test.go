package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(validPack), 0o644))
}

func TestResolverBuiltinBeforeConfig(t *testing.T) {
	builtin := t.TempDir()
	config := t.TempDir()
	writePackFile(t, builtin, "test-pack-1.0.0.yaml")
	writePackFile(t, config, "test-pack-1.0.0.yaml")

	r := &Resolver{BuiltinDir: builtin, ConfigDir: config}
	path, err := r.Resolve(Ref{Name: "test-pack", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(builtin, "test-pack-1.0.0.yaml"), path)
}

func TestResolverFallsBackToConfig(t *testing.T) {
	config := t.TempDir()
	writePackFile(t, config, "only-in-config-1.0.0.yaml")

	r := &Resolver{ConfigDir: config}
	path, err := r.Resolve(Ref{Name: "only-in-config", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(config, "only-in-config-1.0.0.yaml"), path)
}

func TestResolverNotFoundSuggestsNearest(t *testing.T) {
	config := t.TempDir()
	writePackFile(t, config, "search-guard-1.0.0.yaml")

	r := &Resolver{ConfigDir: config}
	_, err := r.Resolve(Ref{Name: "search-gaurd", Version: "1.0.0"})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindNotFound, perr.Kind)
	assert.Equal(t, "search-guard", perr.Suggestion)
}

func TestResolverRejectsSymlinks(t *testing.T) {
	config := t.TempDir()
	real := filepath.Join(t.TempDir(), "real-1.0.0.yaml")
	require.NoError(t, os.WriteFile(real, []byte(validPack), 0o644))
	link := filepath.Join(config, "linked-1.0.0.yaml")
	require.NoError(t, os.Symlink(real, link))

	r := &Resolver{ConfigDir: config}
	_, err := r.Resolve(Ref{Name: "linked", Version: "1.0.0"})
	require.Error(t, err)
}

func TestResolverExplicitPathOverridesAll(t *testing.T) {
	builtin := t.TempDir()
	writePackFile(t, builtin, "test-pack-1.0.0.yaml")

	explicit := filepath.Join(t.TempDir(), "test-pack.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte(validPack), 0o644))

	r := &Resolver{BuiltinDir: builtin, ExplicitPaths: []string{explicit}}
	path, err := r.Resolve(Ref{Name: "test-pack"})
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}
