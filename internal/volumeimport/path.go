package volumeimport

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath implements spec.md §6's filesystem convention: path
// inputs to the volume API are cleaned and must not escape the volume
// root. Any ".." segment surviving normalization is rejected.
func NormalizePath(input string) (string, error) {
	cleaned := path.Clean(strings.TrimLeft(input, "/"))
	if cleaned == "." {
		return "", nil
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path %q escapes volume root", input)
		}
	}
	return cleaned, nil
}
