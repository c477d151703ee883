// Package migrate applies the goose SQL migrations that define the
// marketplace schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir  = "pkg/migrate/migrations"
	embeddedDir = "migrations"
)

// Embedded ships the SQL migrations inside every binary so deployed
// services can migrate without the source tree.
//
//go:embed migrations/*.sql
var Embedded embed.FS

// Output receives the status table.
var Output io.Writer = os.Stdout

var errNilDB = errors.New("db is required")

// Run executes up, down or status against migrations on disk.
func Run(ctx context.Context, db *sql.DB, dir string, command string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	return runCommand(ctx, db, os.DirFS(dir), command)
}

// RunEmbedded executes up, down or status against the embedded migrations.
func RunEmbedded(ctx context.Context, db *sql.DB, command string) error {
	sub, err := fs.Sub(Embedded, embeddedDir)
	if err != nil {
		return err
	}
	return runCommand(ctx, db, sub, command)
}

func provider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, errNilDB
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

func runCommand(ctx context.Context, db *sql.DB, fsys fs.FS, command string) error {
	p, err := provider(db, fsys)
	if err != nil {
		return err
	}
	switch command {
	case "up":
		_, err = p.Up(ctx)
	case "down":
		_, err = p.Down(ctx)
	case "status":
		err = printStatus(ctx, p)
	default:
		return fmt.Errorf("unsupported goose command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

func printStatus(ctx context.Context, p *goose.Provider) error {
	statuses, err := p.Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		applied := "pending"
		if st.State == goose.StateApplied {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(Output, "%-20s %d %s\n", applied, st.Source.Version, st.Source.Path)
	}
	return nil
}

// MigrateToVersion walks the on-disk migrations up or down until the
// database sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	target, err := ParseVersion(targetVersion)
	if err != nil {
		return err
	}
	p, err := provider(db, os.DirFS(dir))
	if err != nil {
		return err
	}
	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		if _, err := p.UpTo(ctx, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	case current > target:
		if _, err := p.DownTo(ctx, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}

// ParseVersion validates a YYYYMMDDHHMMSS migration version.
func ParseVersion(value string) (int64, error) {
	version, err := strconv.ParseInt(value, 10, 64)
	if len(value) != 14 || err != nil {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", value)
	}
	return version, nil
}
