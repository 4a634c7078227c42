package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/dhtc/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Name        string
	Template    string
	Permissions os.FileMode
}

var files = []FileInfo{
	{Name: config.DefaultPath, Template: "templates/dhtc.yml.tmpl", Permissions: 0644},
	{Name: "contacts.txt", Template: "templates/contacts.txt.tmpl", Permissions: 0644},
}

// Initialize writes a starter dhtc.yml and contact file into dir and returns
// the paths it created. Existing files are only replaced when force is set.
func Initialize(dir string, force bool) ([]string, error) {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	var created []string
	for _, f := range files {
		content, err := templatesFS.ReadFile(f.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", f.Name, err)
		}
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, content, f.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		created = append(created, path)
	}

	// The generated configuration must load as-is
	if _, err := config.Load(filepath.Join(dir, config.DefaultPath)); err != nil {
		return nil, fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}
	return created, nil
}
