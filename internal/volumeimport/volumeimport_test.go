package volumeimport_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/melih/lightd/internal/volumeimport"
	"github.com/stretchr/testify/require"
)

// newLocalRepo creates a bare-bones git repository on disk with one
// commit, so PopulateFromGit has something to clone without reaching
// the network.
func newLocalRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.properties"), []byte("motd=hi\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("server.properties")
	require.NoError(t, err)
	_, err = wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com"},
	})
	require.NoError(t, err)
	return dir
}

func TestPopulateFromGitClonesIntoVolume(t *testing.T) {
	ctx := context.Background()
	repoPath := newLocalRepo(t)
	imp := volumeimport.New(t.TempDir())

	err := imp.PopulateFromGit(ctx, "v1", repoPath)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(imp.HostPath("v1"), "server.properties"))
	require.NoError(t, err)
	require.Equal(t, "motd=hi\n", string(data))
}

func TestPopulateFromGitRefusesNonEmptyVolume(t *testing.T) {
	ctx := context.Background()
	repoPath := newLocalRepo(t)
	imp := volumeimport.New(t.TempDir())

	require.NoError(t, imp.EnsureDir("v1"))
	require.NoError(t, os.WriteFile(filepath.Join(imp.HostPath("v1"), "existing.txt"), []byte("x"), 0o644))

	err := imp.PopulateFromGit(ctx, "v1", repoPath)
	require.Error(t, err)
}

func TestEnsureDirCreatesVolumeRoot(t *testing.T) {
	imp := volumeimport.New(t.TempDir())
	require.NoError(t, imp.EnsureDir("v2"))

	info, err := os.Stat(imp.HostPath("v2"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestHostPathJoinsBaseAndVolumeID(t *testing.T) {
	imp := volumeimport.New("/data/volumes")
	require.Equal(t, filepath.Join("/data/volumes", "abc123"), imp.HostPath("abc123"))
}
