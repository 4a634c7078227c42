// Package contacts reads bootstrap contact files: one contact per line, blank
// lines and lines starting with '#' ignored.
package contacts

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Read returns the contacts listed in path. An empty path yields no contacts.
func Read(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open contact file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contact file %s: %w", path, err)
	}
	return out, nil
}
