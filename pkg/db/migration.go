package db

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the SQL upgrade steps shipped with the binary
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration represents a database migration
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationRunner runs database migrations
type MigrationRunner struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *gorm.DB, logger *zap.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:     db,
		logger: logger,
	}
}

// MigrationRecord tracks an applied migration
type MigrationRecord struct {
	Version   string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for MigrationRecord
func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// Run executes all pending migrations found in fsys
func (r *MigrationRunner) Run(fsys fs.FS) error {
	if err := r.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := r.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations, err := ReadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		r.logger.Info("applying migration",
			zap.String("version", migration.Version),
			zap.String("name", migration.Name))

		if err := r.apply(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (r *MigrationRunner) appliedVersions() (map[string]bool, error) {
	var history []MigrationRecord
	if err := r.db.Find(&history).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool, len(history))
	for _, h := range history {
		applied[h.Version] = true
	}
	return applied, nil
}

// ReadMigrations parses every NNN_name.sql file at the root of fsys,
// ordered by version.
func ReadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		// e.g. "001_initial.sql"
		name := strings.TrimSuffix(entry.Name(), ".sql")
		parts := strings.SplitN(name, "_", 2)
		migration := Migration{Version: parts[0], Name: name, SQL: string(content)}
		if len(parts) > 1 {
			migration.Name = parts[1]
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (r *MigrationRunner) apply(migration Migration) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range splitStatements(migration.SQL) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to execute SQL: %w", err)
			}
		}

		record := MigrationRecord{
			Version:   migration.Version,
			Name:      migration.Name,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}

		return nil
	})
}

func splitStatements(sql string) []string {
	var stmts []string
	for _, part := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Status returns the applied migrations in version order
func (r *MigrationRunner) Status() ([]MigrationRecord, error) {
	var history []MigrationRecord
	if err := r.db.Order("version ASC").Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}
