package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrDirtySchema は前回のマイグレーションが途中で失敗したままのスキーマを示す。
	ErrDirtySchema = errors.New("database schema is dirty")
	// ErrSchemaOutdated は適用済みのバージョンが埋め込みのマイグレーションより古いことを示す。
	ErrSchemaOutdated = errors.New("database schema is outdated")
)

// MigrationResult はRunMigrationsの適用前後のスキーマバージョン。
// 未適用のデータベースは0。
type MigrationResult struct {
	From uint
	To   uint
}

// Applied は今回の実行でマイグレーションが適用されたかを返す。
func (r MigrationResult) Applied() bool {
	return r.From != r.To
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create migrator: %w", ErrUnavailable, err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はFromとToが等しい結果を返す。
// スキーマがdirtyの場合は何もせずにErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, dirty, err := migratorVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}
	if dirty {
		return MigrationResult{From: from, To: from}, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, err := migratorVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}
	return MigrationResult{From: from, To: to}, nil
}

func migratorVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, dirty, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source: %w", err)
	}
	defer source.Close()

	v, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	for {
		next, err := source.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migrations: %w", err)
		}
		v = next
	}
}

// Querier はスキーマバージョンの確認に使うクエリ実行のインターフェース。
// *sql.DBが実装する。
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CheckSchema は適用済みのスキーマバージョンを埋め込みのマイグレーションと比較する。
// dirtyの場合はErrDirtySchema、古い場合はErrSchemaOutdatedを返す。
func CheckSchema(ctx context.Context, db Querier) (uint, error) {
	latest, err := LatestVersion()
	if err != nil {
		return 0, err
	}

	var (
		version int64
		dirty   bool
	)
	err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("%w: no migrations applied, want version %d", ErrSchemaOutdated, latest)
	case err != nil:
		// schema_migrationsが存在しない場合もここに来る
		return 0, fmt.Errorf("%w: failed to read schema version: %w", ErrSchemaOutdated, err)
	}

	current := uint(version)
	if dirty {
		return current, fmt.Errorf("%w at version %d", ErrDirtySchema, current)
	}
	if current < latest {
		return current, fmt.Errorf("%w: version %d, want %d", ErrSchemaOutdated, current, latest)
	}
	return current, nil
}
