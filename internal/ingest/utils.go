package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/medsummary/constants"
)

// AllowedExt checks the extension of path against the accepted upload types.
func AllowedExt(path string) bool {
	return constants.IsAllowedExt(filepath.Ext(path))
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
