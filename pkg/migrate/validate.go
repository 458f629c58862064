package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	fileNameRe    = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTableRe = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-z_][a-z0-9_]*)`)
	dropTableRe   = regexp.MustCompile(`(?i)DROP TABLE (?:IF EXISTS )?([a-z_][a-z0-9_]*)`)
)

const (
	markerUp   = "-- +goose Up"
	markerDown = "-- +goose Down"
)

// ValidateDir checks the migrations in dir. See ValidateFS.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS requires goose-style names with unique versions, both goose
// sections, and a Down section that drops every table its Up creates.
func ValidateFS(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := versions[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		if err := validateBody(name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func validateBody(name, text string) error {
	upAt := strings.Index(text, markerUp)
	if upAt < 0 {
		return fmt.Errorf("migration %q missing %q", name, markerUp)
	}
	downAt := strings.Index(text, markerDown)
	if downAt < 0 {
		return fmt.Errorf("migration %q missing %q", name, markerDown)
	}
	if downAt < upAt {
		return fmt.Errorf("migration %q has Down before Up", name)
	}

	dropped := map[string]bool{}
	for _, m := range dropTableRe.FindAllStringSubmatch(text[downAt:], -1) {
		dropped[strings.ToLower(m[1])] = true
	}
	for _, m := range createTableRe.FindAllStringSubmatch(text[upAt:downAt], -1) {
		if table := strings.ToLower(m[1]); !dropped[table] {
			return fmt.Errorf("migration %q creates table %s but its Down does not drop it", name, table)
		}
	}
	return nil
}
