package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration scaffolds <dir>/<version>_<name>.sql. The version is
// now in UTC, bumped past the newest existing file so versions stay strictly
// increasing even when the clock is behind or two files are created in the
// same second.
func CreateSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(nameSanitizeRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	version := now.UTC().Format(versionLayout)
	latest, err := latestVersion(dir)
	if err != nil {
		return "", err
	}
	if version <= latest {
		bumped, err := nextVersion(latest)
		if err != nil {
			return "", err
		}
		version = bumped
	}

	path := filepath.Join(dir, version+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

func latestVersion(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir %q: %w", dir, err)
	}
	latest := ""
	for _, e := range entries {
		if m := fileRe.FindStringSubmatch(e.Name()); m != nil && m[1] > latest {
			latest = m[1]
		}
	}
	return latest, nil
}

func nextVersion(latest string) (string, error) {
	t, err := time.Parse(versionLayout, latest)
	if err == nil {
		return t.Add(time.Second).Format(versionLayout), nil
	}
	n, perr := strconv.ParseInt(latest, 10, 64)
	if perr != nil {
		return "", fmt.Errorf("unparseable migration version %q", latest)
	}
	return strconv.FormatInt(n+1, 10), nil
}
