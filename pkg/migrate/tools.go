package migrate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
)

// CreateSQLMigration scaffolds a timestamped SQL migration in dir.
func CreateSQLMigration(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure migrations dir: %w", err)
	}
	if err := goose.Create(nil, dir, name, "sql"); err != nil {
		return "", fmt.Errorf("goose create: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read migrations dir: %w", err)
	}
	var newest string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if newest == "" || entry.Name() > newest {
			newest = entry.Name()
		}
	}
	return filepath.Join(dir, newest), nil
}

// ValidateDir checks that every migration in dir parses and carries a valid
// version.
func ValidateDir(dir string) error {
	migrations, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	if len(migrations) == 0 {
		return fmt.Errorf("no migrations found in %s", dir)
	}
	return nil
}
