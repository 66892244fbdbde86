// Package migrations applies the embedded idempotency-table schema. The SQL
// files are templates so one database can host several tables; history is
// tracked per file and table.
package migrations

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
)

// Params fills the identifiers in the embedded migration templates. Values
// must already be quoted for the target dialect.
type Params struct {
	Table       string
	ExpiryIndex string
}

// Executor is the dialect-specific half of a migration run.
type Executor interface {
	EnsureHistory(ctx context.Context) error
	Applied(ctx context.Context, name string) (bool, error)
	Exec(ctx context.Context, stmt string) error
	Record(ctx context.Context, name string) error
}

// Render executes a migration template against params.
func Render(content string, params Params) (string, error) {
	tmpl, err := template.New("migration").Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse migration template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to render migration template: %w", err)
	}
	return buf.String(), nil
}

// HistoryName is the migrations_history key for a file applied to a table.
func HistoryName(filename, table string) string {
	return filename + ":" + table
}

// Run applies every .sql file in dir of fsys, in name order, that has not yet
// been recorded for table.
func Run(ctx context.Context, fsys fs.FS, dir string, exec Executor, table string, params Params) error {
	if err := exec.EnsureHistory(ctx); err != nil {
		return fmt.Errorf("creating migrations history table: %w", err)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		name := HistoryName(filename, table)

		applied, err := exec.Applied(ctx, name)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		rendered, err := Render(string(content), params)
		if err != nil {
			return fmt.Errorf("migration %s: %w", filename, err)
		}

		for stmt := range strings.SplitSeq(rendered, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if err := exec.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", filename, err)
			}
		}

		if err := exec.Record(ctx, name); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}
