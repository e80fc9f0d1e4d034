package volumeimport_test

import (
	"testing"

	"github.com/melih/lightd/internal/volumeimport"
	"github.com/stretchr/testify/require"
)

func TestNormalizePathRejectsEscape(t *testing.T) {
	_, err := volumeimport.NormalizePath("../../etc/passwd")
	require.Error(t, err)
}

func TestNormalizePathCleansValidPath(t *testing.T) {
	got, err := volumeimport.NormalizePath("/data/./configs/../server.properties")
	require.NoError(t, err)
	require.Equal(t, "data/server.properties", got)
}

func TestNormalizePathRoot(t *testing.T) {
	got, err := volumeimport.NormalizePath("/")
	require.NoError(t, err)
	require.Equal(t, "", got)
}
