package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error listing the files Initialize would overwrite
func CheckExisting(dir string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, f.Name)); err == nil {
			existing = append(existing, f.Name)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return fmt.Errorf("already initialized: found %s (use 'dhtc init --force' to overwrite)",
		strings.Join(existing, ", "))
}
