package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var (
	versionRe = regexp.MustCompile(`^\d{14}$`)
	fileRe    = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
)

const (
	upMarker             = "-- +goose Up"
	downMarker           = "-- +goose Down"
	statementBeginMarker = "-- +goose StatementBegin"
	statementEndMarker   = "-- +goose StatementEnd"
)

// ValidateDir checks every .sql file in dir: the filename carries a unique
// 14-digit version, Up precedes Down, and StatementBegin/End markers pair up.
// All problems are reported together.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var errs error
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := fileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := seen[m[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, m[1], prev))
		}
		seen[m[1]] = name

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, validateBody(name, string(body)))
	}
	return errs
}

func validateBody(name, body string) error {
	up := strings.Index(body, upMarker)
	down := strings.Index(body, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("%s: missing %q", name, upMarker)
	case down < 0:
		return fmt.Errorf("%s: missing %q", name, downMarker)
	case down < up:
		return fmt.Errorf("%s: %q must come before %q", name, upMarker, downMarker)
	}
	if begins, ends := strings.Count(body, statementBeginMarker), strings.Count(body, statementEndMarker); begins != ends {
		return fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, begins, ends)
	}
	return nil
}
