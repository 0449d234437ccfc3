package storage

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// migrate applies every schema/NNN_*.sql file not yet recorded in
// _migrations, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var versions []int
	if err := s.db.SelectContext(ctx, &versions, "SELECT version FROM _migrations"); err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := extractVersion(name)
		if version == 0 || applied[version] {
			continue
		}

		content, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		err = s.WithTransaction(ctx, func(tx *Store) error {
			for _, stmt := range splitStatements(string(content)) {
				if _, err := tx.q.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration %s: %w", name, err)
				}
			}
			_, err := tx.exec(ctx, "INSERT INTO _migrations (version, applied_at) VALUES (?, ?)", version, nowStamp())
			if err != nil {
				return fmt.Errorf("record migration %s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Debug("migration applied", "name", name, "dialect", s.dialect)
	}
	return nil
}

// extractVersion reads the numeric prefix, e.g. "001_init.sql" returns 1.
func extractVersion(name string) int {
	var v int
	_, _ = fmt.Sscanf(name, "%d_", &v)
	return v
}

// splitStatements splits a migration on ';' and drops comment-only chunks.
// Schema files must not contain ';' inside string literals.
func splitStatements(sql string) []string {
	var out []string
	for _, chunk := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(chunk, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
